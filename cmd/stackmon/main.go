//go:build linux

// Command stackmon opens its own stack on a network interface and shows a
// terminal dashboard of that stack's occupancy: resolved neighbors, tracked
// TCP connections and pending IP fragments, polled on a timer.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/soypat/rawstack/stack"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4FC1FF"))
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#569CD6"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CE9178"))
)

func main() {
	var (
		iface = flag.String("iface", "eth0", "network interface to bind")
		addr  = flag.String("addr", "192.168.1.2", "IPv4 address claimed by the stack")
		poll  = flag.Duration("poll", time.Second, "dashboard refresh period")
	)
	flag.Parse()

	ip, err := netip.ParseAddr(*addr)
	if err != nil || !ip.Is4() {
		fmt.Fprintf(os.Stderr, "stackmon: parse -addr %q: %v\n", *addr, err)
		os.Exit(1)
	}

	st, err := stack.New(stack.Config{
		Interface:   *iface,
		ClaimedAddr: ip.As4(),
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "stackmon:", err)
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	st.Run(ctx)

	m := model{st: st, poll: *poll}
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "stackmon:", err)
		os.Exit(1)
	}
}

type tickMsg time.Time

type model struct {
	st    *stack.Stack
	poll  time.Duration
	stats stack.Stats
	neigh []stack.Neighbor
	conns []tcpConnRow
}

type tcpConnRow struct {
	key   string
	state string
}

func (m model) Init() tea.Cmd {
	return tea.Tick(m.poll, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.stats = m.st.Stat()
		m.neigh = m.st.Neighbors()
		conns := m.st.Conns()
		m.conns = m.conns[:0]
		for _, c := range conns {
			m.conns = append(m.conns, tcpConnRow{key: c.Key.String(), state: c.State.String()})
		}
		return m, tea.Tick(m.poll, func(t time.Time) tea.Msg { return tickMsg(t) })
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("rawstack monitor") + "\n\n")
	fmt.Fprintf(&b, "%s %d   %s %d   %s %d\n\n",
		headStyle.Render("neighbors:"), m.stats.Neighbors,
		headStyle.Render("tcp conns:"), m.stats.TCPConns,
		headStyle.Render("pending fragments:"), m.stats.PendingFragment)

	b.WriteString(headStyle.Render("neighbors") + "\n")
	if len(m.neigh) == 0 {
		b.WriteString(dimStyle.Render("  (none resolved)") + "\n")
	}
	for _, n := range m.neigh {
		fmt.Fprintf(&b, "  %d.%d.%d.%d -> %02x:%02x:%02x:%02x:%02x:%02x\n",
			n.IP[0], n.IP[1], n.IP[2], n.IP[3],
			n.MAC[0], n.MAC[1], n.MAC[2], n.MAC[3], n.MAC[4], n.MAC[5])
	}

	b.WriteString("\n" + headStyle.Render("tcp connections") + "\n")
	if len(m.conns) == 0 {
		b.WriteString(dimStyle.Render("  (none)") + "\n")
	}
	for _, c := range m.conns {
		fmt.Fprintf(&b, "  %s %s\n", c.key, warnStyle.Render(c.state))
	}

	b.WriteString("\n" + dimStyle.Render("press q to quit"))
	return b.String()
}
