//go:build linux

package sdlink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// State describes where a connection is in its lifecycle.
/*
  Created --Start--> Connecting
  Connecting --establish ok--> Connected
  Connecting --establish fail--> Finalizing (never connected)
  Connected --terminate flag--> Finalizing
  Connected --I/O error or peer close--> Finalizing
  Finalizing --cleanup done--> Terminated
*/
type State int32

const (
	StateCreated State = iota
	StateConnecting
	StateConnected
	StateFinalizing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFinalizing:
		return "finalizing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Connection is one live transport session to a remote application. It
// exclusively owns its socket, wake-up pipe, send queue and worker
// goroutine; producers only enqueue and notify. Controller callbacks run on
// the worker goroutine, except the DataSendFailed reports that Close emits
// for a connection that was never started.
type Connection struct {
	controller Controller
	driver     Driver
	cfg        *Config
	log        *zap.Logger

	deviceUID DeviceUID
	appHandle ApplicationHandle

	queue    *sendQueue
	notifier *notifier

	// Worker-owned I/O state. Touched only by the worker goroutine, except
	// for the never-started release in Close.
	sock     int
	readBuf  []byte
	inflight *RawMessage
	offset   int

	state      atomic.Int32
	terminate  atomic.Bool
	unexpected atomic.Bool

	started   atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewConnection prepares a connection to the given application over the
// named transport. The controller resolves the device record and receives
// every lifecycle callback. No I/O happens until Start.
func NewConnection(driverName string, uid DeviceUID, app ApplicationHandle, controller Controller, opts ...Option) (*Connection, error) {
	driver, ok := lookupDriver(driverName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driverName)
	}

	cfg := applyConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The wake-up pipe lives for the whole connection lifetime so that
	// SendData can kick the worker even while it is still establishing.
	n, err := newNotifier()
	if err != nil {
		return nil, err
	}

	c := &Connection{
		controller: &metricsController{Controller: controller, m: cfg.metrics},
		driver:     driver,
		cfg:        cfg,
		log: cfg.logger.With(
			zap.String("driver", driverName),
			zap.String("device", string(uid)),
			zap.Int("app", int(app)),
		),
		deviceUID: uid,
		appHandle: app,
		queue:     &sendQueue{},
		notifier:  n,
		sock:      -1,
		readBuf:   make([]byte, cfg.readBufferSize),
	}
	c.state.Store(int32(StateCreated))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// DeviceUID returns the device this connection belongs to.
func (c *Connection) DeviceUID() DeviceUID { return c.deviceUID }

// ApplicationHandle returns the application this connection belongs to.
func (c *Connection) ApplicationHandle() ApplicationHandle { return c.appHandle }

// Start spawns the worker goroutine. It returns ErrAlreadyStarted on the
// second and later calls.
func (c *Connection) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.wg.Add(1)
	go c.run()
	c.log.Info("connection worker started")
	return nil
}

// SendData enqueues one outbound message and wakes the worker. It never
// blocks on I/O and may be called from any goroutine. Messages enqueued
// before the connection establishes are sent once it does. ErrConnectionClosed
// means the message was not accepted and will produce no callback. A notify
// failure is returned after the message was queued; that message is still
// reported through DataSendDone or DataSendFailed.
func (c *Connection) SendData(msg *RawMessage) error {
	if c.terminate.Load() {
		return ErrConnectionClosed
	}
	if err := c.queue.push(msg); err != nil {
		return err
	}
	return c.notifier.notify()
}

// Disconnect requests a graceful shutdown: the worker drains what it can and
// finishes with ConnectionFinished. Idempotent; the terminate flag is never
// cleared.
func (c *Connection) Disconnect() error {
	c.terminate.Store(true)
	return c.notifier.notify()
}

// Abort requests an immediate shutdown reported as an unexpected
// disconnect. Idempotent. It does not wait for the worker.
func (c *Connection) Abort() {
	c.abort()
	// Best effort; the worker may already be gone.
	_ = c.notifier.notify()
}

// abort flips both lifecycle flags. Worker-internal paths use this directly
// since the worker is already awake.
func (c *Connection) abort() {
	c.unexpected.Store(true)
	c.terminate.Store(true)
}

// Close shuts the connection down and joins the worker. After Close returns
// no callback will be emitted and every owned descriptor has been released.
// Safe to call multiple times.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		_ = c.Disconnect()
		c.wg.Wait()
		if !c.started.Load() {
			// No worker ever ran, so release what the constructor opened and
			// resolve messages enqueued before the connection was abandoned.
			for _, frame := range c.queue.drainAndClose() {
				c.controller.DataSendFailed(c.deviceUID, c.appHandle, frame, ErrConnectionClosed)
			}
			c.closeErr = c.notifier.close()
			c.state.Store(int32(StateTerminated))
		}
	})
	return c.closeErr
}

// run is the worker: establish, loop, finalize.
func (c *Connection) run() {
	defer c.wg.Done()

	c.state.Store(int32(StateConnecting))
	connected := c.establish()
	if connected {
		c.state.Store(int32(StateConnected))
		for !c.terminate.Load() {
			c.transmit()
		}
	} else {
		c.terminate.Store(true)
	}

	c.state.Store(int32(StateFinalizing))
	c.finalize(connected)
	c.state.Store(int32(StateTerminated))
	c.log.Info("connection worker exited")
}

// establish resolves the remote endpoint and connects to it, retrying a
// bounded number of times. On success the socket is stored non-blocking and
// ConnectDone is emitted.
func (c *Connection) establish() bool {
	c.controller.ConnectionCreated(c, c.deviceUID, c.appHandle)

	dev, err := c.controller.FindDevice(c.deviceUID)
	if err != nil {
		c.log.Error("device lookup failed", zap.Error(err))
		return false
	}

	sa, err := c.driver.Resolve(dev, c.appHandle)
	if err != nil {
		c.log.Error("endpoint resolution failed", zap.Error(err))
		return false
	}

	sock := -1
	for attempt := 1; attempt <= c.cfg.connectAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(c.cfg.connectRetryDelay)
		}
		fd, err := c.driver.Socket()
		if err != nil {
			c.log.Error("socket creation failed", zap.Error(err))
			return false
		}
		err = unix.Connect(fd, sa)
		if err == nil {
			sock = fd
			break
		}
		// Refused/reset just means the remote side is not listening yet.
		if !errors.Is(err, unix.ECONNREFUSED) && !errors.Is(err, unix.ECONNRESET) {
			c.log.Warn("connect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		c.closeFD(fd)
	}
	if sock < 0 {
		c.log.Error("all connect attempts failed",
			zap.Int("attempts", c.cfg.connectAttempts))
		return false
	}

	if err := unix.SetNonblock(sock, true); err != nil {
		c.log.Error("failed to make socket non-blocking", zap.Error(err))
		c.closeFD(sock)
		return false
	}

	c.sock = sock
	c.log.Debug("connected", zap.Int("fd", sock))
	c.controller.ConnectDone(c.deviceUID, c.appHandle)
	return true
}

// transmit runs one iteration of the event loop: wait for the socket or the
// wake-up pipe, then perform at most one send pass or one receive pass.
// Sends take precedence so outbound progress is not starved by a peer that
// saturates the inbound side.
func (c *Connection) transmit() {
	fds := []unix.PollFd{
		{Fd: int32(c.sock), Events: unix.POLLIN | unix.POLLPRI},
		{Fd: int32(c.notifier.fd()), Events: unix.POLLIN | unix.POLLPRI},
	}
	// Register write interest while unsent bytes remain, so a short write is
	// retried as soon as the peer drains its side.
	if c.inflight != nil || c.queue.pending() {
		fds[0].Events |= unix.POLLOUT
	}

	_, err := unix.Poll(fds, -1)
	if err != nil {
		if err == unix.EINTR {
			return
		}
		c.log.Error("poll failed", zap.Error(err))
		c.abort()
		return
	}

	if fds[1].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		c.log.Error("notification pipe terminated")
		c.abort()
		return
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		c.log.Debug("socket terminated by peer")
		c.abort()
		return
	}

	if err := c.notifier.drain(); err != nil {
		c.log.Error("failed to clear notification pipe", zap.Error(err))
		c.abort()
		return
	}

	if fds[1].Revents&(unix.POLLIN|unix.POLLPRI) != 0 {
		c.sendPass()
		return
	}
	if fds[0].Revents&unix.POLLOUT != 0 {
		c.sendPass()
		return
	}
	if fds[0].Revents&(unix.POLLIN|unix.POLLPRI) != 0 {
		c.receivePass()
	}
}

// sendPass drains the queue to the socket in FIFO order. A short write
// leaves the partially sent message in the in-flight slot and requeues the
// rest; a non-transient error fails the current message and aborts the
// connection, leaving the rest for the shutdown drain.
func (c *Connection) sendPass() {
	frames := c.queue.swapOut()
	if c.inflight != nil {
		frames = append([]*RawMessage{c.inflight}, frames...)
		c.inflight = nil
	}

	for i, frame := range frames {
		for c.offset < len(frame.Data) {
			n, err := unix.SendmsgN(c.sock, frame.Data[c.offset:], nil, nil,
				unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					c.inflight = frame
					c.queue.requeueFront(frames[i+1:])
					return
				}
				c.log.Warn("send failed", zap.Error(err))
				c.offset = 0
				c.controller.DataSendFailed(c.deviceUID, c.appHandle, frame,
					fmt.Errorf("%w: %v", ErrDataSend, err))
				c.queue.requeueFront(frames[i+1:])
				c.abort()
				return
			}
			c.offset += n
			c.log.Debug("sent bytes", zap.Int("n", n), zap.Int("fd", c.sock))
		}
		c.offset = 0
		c.controller.DataSendDone(c.deviceUID, c.appHandle, frame)
	}
}

// receivePass reads until the socket would block or the peer closes. Each
// chunk is delivered as its own RawMessage; upstream reassembles frames.
func (c *Connection) receivePass() {
	for {
		n, _, err := unix.Recvfrom(c.sock, c.readBuf, unix.MSG_DONTWAIT)
		if n > 0 {
			data := make([]byte, n)
			copy(data, c.readBuf[:n])
			c.log.Debug("received bytes", zap.Int("n", n), zap.Int("fd", c.sock))
			c.controller.DataReceiveDone(c.deviceUID, c.appHandle, NewRawMessage(0, 0, data))
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			c.log.Error("recv failed", zap.Error(err))
			c.abort()
			return
		}
		c.log.Warn("socket closed by remote peer", zap.Int("fd", c.sock))
		c.abort()
		return
	}
}

// finalize releases the socket, resolves every still-queued message through
// DataSendFailed, emits the terminal callback, and closes the wake-up pipe.
// The socket is closed before the queue drain so no new bytes can move after
// messages start failing; the terminal callback comes after the drain so it
// is the last callback the controller observes.
func (c *Connection) finalize(connected bool) {
	if c.sock >= 0 {
		c.closeFD(c.sock)
		c.sock = -1
	}

	remainder := c.queue.drainAndClose()
	if c.inflight != nil {
		remainder = append([]*RawMessage{c.inflight}, remainder...)
		c.inflight = nil
		c.offset = 0
	}
	for _, frame := range remainder {
		c.controller.DataSendFailed(c.deviceUID, c.appHandle, frame, ErrConnectionClosed)
	}

	if connected {
		if c.unexpected.Load() {
			c.controller.ConnectionAborted(c.deviceUID, c.appHandle, ErrCommunication)
		} else {
			c.controller.ConnectionFinished(c.deviceUID, c.appHandle)
		}
	}

	if err := c.notifier.close(); err != nil {
		c.log.Warn("failed to close notification pipe", zap.Error(err))
	}
}

// closeFD closes one descriptor, logging on failure.
func (c *Connection) closeFD(fd int) {
	if err := unix.Close(fd); err != nil {
		c.log.Warn("failed to close descriptor", zap.Int("fd", fd), zap.Error(err))
	}
}
