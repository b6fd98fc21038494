//go:build linux

package sdlink

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// TCPDevice describes a remote head unit reachable over TCP, with one
// listening port per application.
type TCPDevice struct {
	uid   DeviceUID
	name  string
	addr  [4]byte
	ports map[ApplicationHandle]int
}

// NewTCPDevice builds a device record for the given IPv4 address and
// per-application port map.
func NewTCPDevice(uid DeviceUID, name string, ip net.IP, ports map[ApplicationHandle]int) (*TCPDevice, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: %s is not an IPv4 address", ErrEndpointUnavailable, ip)
	}
	d := &TCPDevice{
		uid:   uid,
		name:  name,
		ports: make(map[ApplicationHandle]int, len(ports)),
	}
	copy(d.addr[:], ip4)
	for app, port := range ports {
		d.ports[app] = port
	}
	return d, nil
}

func (d *TCPDevice) UID() DeviceUID { return d.uid }
func (d *TCPDevice) Name() string   { return d.name }

// Address returns the device IPv4 address.
func (d *TCPDevice) Address() net.IP {
	return net.IPv4(d.addr[0], d.addr[1], d.addr[2], d.addr[3])
}

// Port returns the listening port of the given application.
func (d *TCPDevice) Port(app ApplicationHandle) (int, bool) {
	port, ok := d.ports[app]
	return port, ok
}

type tcpDriver struct{}

func (tcpDriver) Socket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
}

func (tcpDriver) Resolve(dev Device, app ApplicationHandle) (unix.Sockaddr, error) {
	td, ok := dev.(*TCPDevice)
	if !ok {
		return nil, fmt.Errorf("%w: device %q is not a TCP device", ErrEndpointUnavailable, dev.UID())
	}
	port, ok := td.Port(app)
	if !ok {
		return nil, fmt.Errorf("%w: application %d not found on device %q", ErrEndpointUnavailable, app, dev.UID())
	}
	return &unix.SockaddrInet4{Port: port, Addr: td.addr}, nil
}

func init() {
	RegisterDriver("tcp", tcpDriver{})
}
