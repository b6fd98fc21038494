package sdlink

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// BluetoothDevice describes a paired Bluetooth device, with one RFCOMM
// channel per application discovered via SDP.
type BluetoothDevice struct {
	uid      DeviceUID
	name     string
	addr     [6]byte
	channels map[ApplicationHandle]uint8
}

// NewBluetoothDevice builds a device record for the given BD_ADDR and
// per-application RFCOMM channel map.
func NewBluetoothDevice(uid DeviceUID, name string, addr [6]byte, channels map[ApplicationHandle]uint8) *BluetoothDevice {
	d := &BluetoothDevice{
		uid:      uid,
		name:     name,
		addr:     addr,
		channels: make(map[ApplicationHandle]uint8, len(channels)),
	}
	for app, ch := range channels {
		d.channels[app] = ch
	}
	return d
}

func (d *BluetoothDevice) UID() DeviceUID { return d.uid }
func (d *BluetoothDevice) Name() string   { return d.name }

// Address returns the device BD_ADDR.
func (d *BluetoothDevice) Address() [6]byte { return d.addr }

// RfcommChannel returns the RFCOMM channel of the given application.
func (d *BluetoothDevice) RfcommChannel(app ApplicationHandle) (uint8, bool) {
	ch, ok := d.channels[app]
	return ch, ok
}

type rfcommDriver struct{}

func (rfcommDriver) Socket() (int, error) {
	return unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
}

func (rfcommDriver) Resolve(dev Device, app ApplicationHandle) (unix.Sockaddr, error) {
	bd, ok := dev.(*BluetoothDevice)
	if !ok {
		return nil, fmt.Errorf("%w: device %q is not a Bluetooth device", ErrEndpointUnavailable, dev.UID())
	}
	ch, ok := bd.RfcommChannel(app)
	if !ok {
		return nil, fmt.Errorf("%w: application %d not found on device %q", ErrEndpointUnavailable, app, dev.UID())
	}
	return &unix.SockaddrRFCOMM{Addr: bd.addr, Channel: ch}, nil
}

func init() {
	RegisterDriver("rfcomm", rfcommDriver{})
}
