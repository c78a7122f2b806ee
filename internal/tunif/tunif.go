//go:build linux

// Package tunif is the network-interface shim between the wire and the
// IPsec engine: it opens a Linux TUN device, strips nothing (IP packets
// arrive with no link-layer header on a TUN device), and hands raw IPv4
// frames to the caller. It owns no IPsec knowledge at all.
package tunif

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	tunDevice = "/dev/net/tun"
	ifNameSize = 16
)

// ifReq mirrors struct ifreq's TUNSETIFF layout: a 16-byte interface name
// followed by a 2-byte flags field (the rest of the union is unused here).
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// Interface is an open TUN device, read/written one IPv4 packet at a time.
type Interface struct {
	file *os.File
	name string
}

// Open creates (or attaches to) a TUN interface named name, or lets the
// kernel pick a name if name is empty. Requires CAP_NET_ADMIN.
func Open(name string) (*Interface, error) {
	f, err := os.OpenFile(tunDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tunif: open %s: %w", tunDevice, err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("tunif: TUNSETIFF: %w", errno)
	}

	return &Interface{file: f, name: trimNull(req.Name[:])}, nil
}

// Name returns the kernel-assigned or requested interface name.
func (i *Interface) Name() string { return i.name }

// Read reads one raw IPv4 packet into buf, returning the number of bytes
// read. buf should be sized IPSEC_MTU plus the engine's maximum
// encapsulation overhead to avoid truncation on the largest AH/ESP frame.
func (i *Interface) Read(buf []byte) (int, error) {
	return i.file.Read(buf)
}

// Write writes one raw IPv4 packet to the interface.
func (i *Interface) Write(buf []byte) (int, error) {
	return i.file.Write(buf)
}

// Close releases the underlying file descriptor.
func (i *Interface) Close() error {
	return i.file.Close()
}

func trimNull(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
