//go:build linux

package stack

import (
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sys/unix"

	"github.com/soypat/rawstack"
	"github.com/soypat/rawstack/ethernet"
)

const sizeEthernetHeader = 14

// LinuxDevice is the raw-socket device adapter (spec.md's C2): it opens an
// AF_PACKET/SOCK_RAW socket bound to a named interface and owns one RX and
// one TX thread, each draining/feeding its own PBQueue. Grounded on the
// internal Bridge helper's ioctl plumbing, rewritten against
// golang.org/x/sys/unix's Ifreq helpers instead of hand-rolled ioctl
// structs and raw syscall numbers.
type LinuxDevice struct {
	fd     int
	name   string
	mac    [6]byte
	mtu    int
	log    *slog.Logger
	rx, tx *PBQueue
}

// OpenLinuxDevice binds a raw packet socket to the named interface,
// capturing every Ethernet frame regardless of EtherType.
func OpenLinuxDevice(name string, log *slog.Logger) (*LinuxDevice, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("rawstack: lookup interface %s: %w", name, err)
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("rawstack: open packet socket: %w", err)
	}
	addr := unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: iface.Index}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawstack: bind packet socket: %w", err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFHWADDR, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawstack: get hw addr for %s: %w", name, err)
	}
	hw, err := ifr.HardwareAddr()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	var mac [6]byte
	copy(mac[:], hw)

	if err := unix.IoctlIfreq(fd, unix.SIOCGIFMTU, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawstack: get MTU for %s: %w", name, err)
	}

	d := &LinuxDevice{
		fd: fd, name: name, mac: mac, mtu: int(ifr.Uint32()),
		log: log,
		rx:  NewPBQueue(256),
		tx:  NewPBQueue(256),
	}
	return d, nil
}

func (d *LinuxDevice) Name() string      { return d.name }
func (d *LinuxDevice) MAC() [6]byte      { return d.mac }
func (d *LinuxDevice) MTU() int          { return d.mtu }
func (d *LinuxDevice) RXQueue() *PBQueue { return d.rx }
func (d *LinuxDevice) TXQueue() *PBQueue { return d.tx }

// RunRX reads frames off the wire until a read error occurs; per spec.md a
// transient I/O error terminates this thread. The error is returned to
// Stack.Run's errgroup, whose context cancellation closes the device — no
// automatic restart.
func (d *LinuxDevice) RunRX() error {
	buf := make([]byte, d.mtu+sizeEthernetHeader)
	for {
		n, _, err := unix.Recvfrom(d.fd, buf, 0)
		if err != nil {
			return fmt.Errorf("rawstack: device %s RX: %w", d.name, err)
		}
		if n < sizeEthernetHeader {
			continue
		}
		efrm, err := ethernet.NewFrame(buf[:n])
		if err != nil {
			continue
		}
		dst := efrm.DestinationHardwareAddr()
		if !efrm.IsBroadcast() && *dst != d.mac {
			continue
		}
		pb := rawstack.NewPacketBuffer(n)
		copy(pb.Put(n), buf[:n])
		pb.Proto = uint16(efrm.EtherTypeOrSize())
		pb.Device = d
		pb.RemoteMAC = *efrm.SourceHardwareAddr()
		pb.Pull(efrm.HeaderLength())
		d.rx.Push(pb)
	}
}

// RunTX drains the TX queue, prepending a 14-byte Ethernet header to each
// packet buffer (and every child fragment, in order) before writing it to
// the wire.
func (d *LinuxDevice) RunTX() error {
	for {
		pb, err := d.tx.Pop()
		if err != nil {
			return nil // queue closed, clean shutdown.
		}
		if err := d.writeOne(pb); err != nil {
			return fmt.Errorf("rawstack: device %s TX: %w", d.name, err)
		}
		for _, frag := range pb.Fragments {
			if err := d.writeOne(frag); err != nil {
				return fmt.Errorf("rawstack: device %s TX fragment: %w", d.name, err)
			}
		}
	}
}

func (d *LinuxDevice) writeOne(pb *rawstack.PacketBuffer) error {
	hdr := pb.Push(sizeEthernetHeader)
	efrm, err := ethernet.NewFrame(hdr)
	if err != nil {
		return err
	}
	*efrm.DestinationHardwareAddr() = pb.RemoteMAC
	*efrm.SourceHardwareAddr() = d.mac
	efrm.SetEtherType(ethernet.Type(pb.Proto))
	_, err = unix.Write(d.fd, pb.Data())
	return err
}

// Close releases the underlying socket and signals both queues shut.
func (d *LinuxDevice) Close() error {
	d.rx.Close()
	d.tx.Close()
	return unix.Close(d.fd)
}

func htons(v uint32) uint16 { return uint16(v<<8) | uint16(v>>8) }
