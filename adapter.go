//go:build linux

package sdlink

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type connKey struct {
	uid DeviceUID
	app ApplicationHandle
}

type trackedConn struct {
	id   string
	conn *Connection
}

// Adapter owns the live connections of one transport type, keyed by device
// and application. It wraps the caller's controller so finished or aborted
// connections drop out of the table on their terminal callback.
type Adapter struct {
	driverName string
	controller Controller
	opts       []Option
	log        *zap.Logger

	mu    sync.Mutex
	conns map[connKey]*trackedConn
}

// NewAdapter creates an adapter for the named transport. The options are
// applied to every connection it creates.
func NewAdapter(driverName string, controller Controller, opts ...Option) (*Adapter, error) {
	if _, ok := lookupDriver(driverName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driverName)
	}
	cfg := applyConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		driverName: driverName,
		controller: controller,
		opts:       opts,
		log:        cfg.logger.With(zap.String("driver", driverName)),
		conns:      make(map[connKey]*trackedConn),
	}, nil
}

// Connect creates and starts a connection to the given application. At most
// one live connection per (device, application) pair is tracked.
func (a *Adapter) Connect(uid DeviceUID, app ApplicationHandle) (*Connection, error) {
	key := connKey{uid: uid, app: app}

	conn, err := NewConnection(a.driverName, uid, app,
		&adapterController{Controller: a.controller, adapter: a},
		a.opts...)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	a.mu.Lock()
	if tracked, ok := a.conns[key]; ok {
		a.mu.Unlock()
		_ = conn.Close()
		return tracked.conn, ErrAlreadyStarted
	}
	a.conns[key] = &trackedConn{id: id, conn: conn}
	a.mu.Unlock()

	if err := conn.Start(); err != nil {
		a.remove(uid, app)
		return nil, err
	}
	a.log.Info("connection tracked",
		zap.String("id", id),
		zap.String("device", string(uid)),
		zap.Int("app", int(app)))
	return conn, nil
}

// Connection returns the tracked connection for the given pair.
func (a *Adapter) Connection(uid DeviceUID, app ApplicationHandle) (*Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tracked, ok := a.conns[connKey{uid: uid, app: app}]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return tracked.conn, nil
}

// ConnectionID returns the identifier assigned to the tracked connection.
func (a *Adapter) ConnectionID(uid DeviceUID, app ApplicationHandle) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tracked, ok := a.conns[connKey{uid: uid, app: app}]
	if !ok {
		return "", ErrConnectionNotFound
	}
	return tracked.id, nil
}

// Disconnect requests a graceful shutdown of one tracked connection. The
// entry leaves the table when its terminal callback fires.
func (a *Adapter) Disconnect(uid DeviceUID, app ApplicationHandle) error {
	conn, err := a.Connection(uid, app)
	if err != nil {
		return err
	}
	return conn.Disconnect()
}

// Shutdown disconnects every tracked connection and joins their workers.
func (a *Adapter) Shutdown() error {
	a.mu.Lock()
	conns := make([]*Connection, 0, len(a.conns))
	for _, tracked := range a.conns {
		conns = append(conns, tracked.conn)
	}
	a.mu.Unlock()

	var g errgroup.Group
	for _, conn := range conns {
		g.Go(conn.Close)
	}
	return g.Wait()
}

// Len returns the number of tracked connections.
func (a *Adapter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

func (a *Adapter) remove(uid DeviceUID, app ApplicationHandle) {
	a.mu.Lock()
	delete(a.conns, connKey{uid: uid, app: app})
	a.mu.Unlock()
}

// adapterController forwards every callback and untracks the connection on
// its terminal one.
type adapterController struct {
	Controller
	adapter *Adapter
}

func (c *adapterController) ConnectionAborted(uid DeviceUID, app ApplicationHandle, err error) {
	c.adapter.remove(uid, app)
	c.Controller.ConnectionAborted(uid, app, err)
}

func (c *adapterController) ConnectionFinished(uid DeviceUID, app ApplicationHandle) {
	c.adapter.remove(uid, app)
	c.Controller.ConnectionFinished(uid, app)
}
