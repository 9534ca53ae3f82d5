//go:build linux

// Command rawstackd runs a userspace TCP/IP stack over a raw AF_PACKET
// socket bound to a network interface. Flag parsing lives here and in
// cmd/stackmon, never in the library packages; the stack package itself
// takes a fully populated Config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soypat/rawstack/internal"
	"github.com/soypat/rawstack/stack"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rawstackd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		iface     = flag.String("iface", envOr("RAWSTACKD_IFACE", "eth0"), "network interface to bind")
		addr      = flag.String("addr", envOr("RAWSTACKD_ADDR", "192.168.1.2"), "IPv4 address claimed by the stack")
		backlog   = flag.Int("backlog", 16, "default TCP listen backlog")
		reap      = flag.Duration("reap", 5*time.Second, "TIME_WAIT reap period")
		logLevel  = flag.String("log-level", envOr("RAWSTACKD_LOG_LEVEL", "info"), "debug, info, warn, error, trace")
		listen    = flag.Uint("listen-port", 0, "if nonzero, open a passive TCP listener on this port at startup")
	)
	flag.Parse()

	lg := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slogger := logger{lg}

	ip, err := netip.ParseAddr(*addr)
	if err != nil || !ip.Is4() {
		return fmt.Errorf("parse -addr %q: %w", *addr, err)
	}
	var claimed [4]byte = ip.As4()

	st, err := stack.New(stack.Config{
		Interface:   *iface,
		ClaimedAddr: claimed,
		Backlog:     *backlog,
		ReapPeriod:  *reap,
		Log:         lg,
	})
	if err != nil {
		return fmt.Errorf("new stack: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *listen != 0 {
		fd := st.Socket(stack.SockTCP)
		if err := st.Bind(fd, uint16(*listen)); err != nil {
			return fmt.Errorf("bind listener: %w", err)
		}
		if err := st.Listen(fd, *backlog); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		slogger.info("listening", slog.Int("port", int(*listen)))
	}

	st.Run(ctx)
	slogger.info("stack up", slog.String("iface", *iface), slog.String("addr", ip.String()))

	err = st.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return internal.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}
