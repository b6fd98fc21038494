//go:build linux

package sdlink

import (
	"sort"

	"golang.org/x/sys/unix"
)

// Driver creates sockets for one transport type and resolves device records
// to remote endpoints. Drivers are stateless; one registered instance serves
// every connection of its transport.
type Driver interface {
	// Socket creates a fresh, unconnected socket for this transport and
	// returns its file descriptor.
	Socket() (int, error)
	// Resolve maps a device record and application handle to the remote
	// endpoint address. It returns ErrEndpointUnavailable when the device
	// record carries no endpoint for the application.
	Resolve(dev Device, app ApplicationHandle) (unix.Sockaddr, error)
}

var drivers = make(map[string]Driver)

// RegisterDriver registers a transport driver under the given name
// (e.g. "rfcomm"). It panics if the name is already taken.
func RegisterDriver(name string, driver Driver) {
	if _, dup := drivers[name]; dup {
		panic("sdlink: driver already registered for " + name)
	}
	drivers[name] = driver
}

// UnregisterDriver removes the driver registration.
func UnregisterDriver(name string) {
	delete(drivers, name)
}

// Drivers returns the names of all registered drivers.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupDriver(name string) (Driver, bool) {
	driver, ok := drivers[name]
	return driver, ok
}
