//go:build linux

package sdlink

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type callbackKind string

const (
	cbCreated     callbackKind = "created"
	cbConnectDone callbackKind = "connect_done"
	cbReceive     callbackKind = "receive"
	cbSendDone    callbackKind = "send_done"
	cbSendFailed  callbackKind = "send_failed"
	cbAborted     callbackKind = "aborted"
	cbFinished    callbackKind = "finished"
)

type callbackRecord struct {
	kind callbackKind
	msg  *RawMessage
	err  error
}

// recordingController records every callback in order and exposes
// synchronization points for tests. It also tracks whether anything was
// observed after the terminal callback.
type recordingController struct {
	mu            sync.Mutex
	devices       map[DeviceUID]Device
	calls         []callbackRecord
	received      bytes.Buffer
	terminalSeen  bool
	afterTerminal []callbackKind

	connectedOnce sync.Once
	connected     chan struct{}
	terminal      chan callbackKind
}

func newRecordingController(devices ...Device) *recordingController {
	c := &recordingController{
		devices:   make(map[DeviceUID]Device, len(devices)),
		connected: make(chan struct{}),
		terminal:  make(chan callbackKind, 16),
	}
	for _, d := range devices {
		c.devices[d.UID()] = d
	}
	return c
}

func (c *recordingController) record(kind callbackKind, msg *RawMessage, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminalSeen {
		c.afterTerminal = append(c.afterTerminal, kind)
	}
	c.calls = append(c.calls, callbackRecord{kind: kind, msg: msg, err: err})
}

func (c *recordingController) FindDevice(uid DeviceUID) (Device, error) {
	if d, ok := c.devices[uid]; ok {
		return d, nil
	}
	return nil, ErrDeviceNotFound
}

func (c *recordingController) ConnectionCreated(conn *Connection, uid DeviceUID, app ApplicationHandle) {
	c.record(cbCreated, nil, nil)
}

func (c *recordingController) ConnectDone(uid DeviceUID, app ApplicationHandle) {
	c.record(cbConnectDone, nil, nil)
	c.connectedOnce.Do(func() { close(c.connected) })
}

func (c *recordingController) DataReceiveDone(uid DeviceUID, app ApplicationHandle, msg *RawMessage) {
	c.mu.Lock()
	c.received.Write(msg.Data)
	c.mu.Unlock()
	c.record(cbReceive, msg, nil)
}

func (c *recordingController) DataSendDone(uid DeviceUID, app ApplicationHandle, msg *RawMessage) {
	c.record(cbSendDone, msg, nil)
}

func (c *recordingController) DataSendFailed(uid DeviceUID, app ApplicationHandle, msg *RawMessage, err error) {
	c.record(cbSendFailed, msg, err)
}

func (c *recordingController) ConnectionAborted(uid DeviceUID, app ApplicationHandle, err error) {
	c.record(cbAborted, nil, err)
	c.mu.Lock()
	c.terminalSeen = true
	c.mu.Unlock()
	c.terminal <- cbAborted
}

func (c *recordingController) ConnectionFinished(uid DeviceUID, app ApplicationHandle) {
	c.record(cbFinished, nil, nil)
	c.mu.Lock()
	c.terminalSeen = true
	c.mu.Unlock()
	c.terminal <- cbFinished
}

func (c *recordingController) kinds() []callbackKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]callbackKind, len(c.calls))
	for i, call := range c.calls {
		kinds[i] = call.kind
	}
	return kinds
}

func (c *recordingController) count(kind callbackKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.kind == kind {
			n++
		}
	}
	return n
}

func (c *recordingController) messagesOf(kind callbackKind) []*RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []*RawMessage
	for _, call := range c.calls {
		if call.kind == kind {
			msgs = append(msgs, call.msg)
		}
	}
	return msgs
}

func (c *recordingController) errorsOf(kind callbackKind) []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, call := range c.calls {
		if call.kind == kind {
			errs = append(errs, call.err)
		}
	}
	return errs
}

func (c *recordingController) receivedBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.received.Len())
	copy(out, c.received.Bytes())
	return out
}

func (c *recordingController) callbacksAfterTerminal() []callbackKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]callbackKind(nil), c.afterTerminal...)
}

func (c *recordingController) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-c.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ConnectDone")
	}
}

func (c *recordingController) waitTerminal(t *testing.T) callbackKind {
	t.Helper()
	select {
	case kind := <-c.terminal:
		return kind
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal callback")
		return ""
	}
}

const testApp ApplicationHandle = 7

// tcpDeviceFor builds a device record pointing testApp at the listener.
func tcpDeviceFor(t *testing.T, uid DeviceUID, addr net.Addr) *TCPDevice {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	dev, err := NewTCPDevice(uid, "test head unit", net.ParseIP(host), map[ApplicationHandle]int{testApp: port})
	require.NoError(t, err)
	return dev
}

// startEchoServer accepts connections and echoes every byte back.
func startEchoServer(t *testing.T) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return ln.Addr()
}

// startClosingServer accepts one connection and closes it immediately.
func startClosingServer(t *testing.T) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr()
}

// startSlowReader accepts one connection and drains it in small chunks with
// pauses, reporting everything read on the returned channel once the peer
// closes.
func startSlowReader(t *testing.T) (net.Addr, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	out := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var all bytes.Buffer
		buf := make([]byte, 32*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				all.Write(buf[:n])
			}
			if err != nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
		out <- all.Bytes()
	}()
	return ln.Addr(), out
}
