//go:build linux

package sdlink

import "sync/atomic"

// Metrics is an interface for tracking connection statistics.
// Workers call Increment* and collectors read via Get*.
type Metrics interface {
	IncrementConnect()
	IncrementSendDone()
	IncrementSendFailed()
	IncrementAborted()
	IncrementFinished()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetConnectCount() int64
	GetSendDoneCount() int64
	GetSendFailedCount() int64
	GetAbortedCount() int64
	GetFinishedCount() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultMetrics implements the Metrics interface with atomic counters.
type DefaultMetrics struct {
	connects      int64
	sendDone      int64
	sendFailed    int64
	aborted       int64
	finished      int64
	bytesSent     int64
	bytesReceived int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementConnect()              { atomic.AddInt64(&m.connects, 1) }
func (m *DefaultMetrics) IncrementSendDone()             { atomic.AddInt64(&m.sendDone, 1) }
func (m *DefaultMetrics) IncrementSendFailed()           { atomic.AddInt64(&m.sendFailed, 1) }
func (m *DefaultMetrics) IncrementAborted()              { atomic.AddInt64(&m.aborted, 1) }
func (m *DefaultMetrics) IncrementFinished()             { atomic.AddInt64(&m.finished, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)     { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }

func (m *DefaultMetrics) GetConnectCount() int64    { return atomic.LoadInt64(&m.connects) }
func (m *DefaultMetrics) GetSendDoneCount() int64   { return atomic.LoadInt64(&m.sendDone) }
func (m *DefaultMetrics) GetSendFailedCount() int64 { return atomic.LoadInt64(&m.sendFailed) }
func (m *DefaultMetrics) GetAbortedCount() int64    { return atomic.LoadInt64(&m.aborted) }
func (m *DefaultMetrics) GetFinishedCount() int64   { return atomic.LoadInt64(&m.finished) }
func (m *DefaultMetrics) GetBytesSent() int64       { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64   { return atomic.LoadInt64(&m.bytesReceived) }

// metricsController decorates a Controller with statistics tracking. Every
// connection wraps its controller with one of these, so counters stay
// accurate no matter which code path emits the callback.
type metricsController struct {
	Controller
	m Metrics
}

func (c *metricsController) ConnectDone(uid DeviceUID, app ApplicationHandle) {
	c.m.IncrementConnect()
	c.Controller.ConnectDone(uid, app)
}

func (c *metricsController) DataReceiveDone(uid DeviceUID, app ApplicationHandle, msg *RawMessage) {
	c.m.IncrementBytesReceived(int64(msg.DataSize()))
	c.Controller.DataReceiveDone(uid, app, msg)
}

func (c *metricsController) DataSendDone(uid DeviceUID, app ApplicationHandle, msg *RawMessage) {
	c.m.IncrementSendDone()
	c.m.IncrementBytesSent(int64(msg.DataSize()))
	c.Controller.DataSendDone(uid, app, msg)
}

func (c *metricsController) DataSendFailed(uid DeviceUID, app ApplicationHandle, msg *RawMessage, err error) {
	c.m.IncrementSendFailed()
	c.Controller.DataSendFailed(uid, app, msg, err)
}

func (c *metricsController) ConnectionAborted(uid DeviceUID, app ApplicationHandle, err error) {
	c.m.IncrementAborted()
	c.Controller.ConnectionAborted(uid, app, err)
}

func (c *metricsController) ConnectionFinished(uid DeviceUID, app ApplicationHandle) {
	c.m.IncrementFinished()
	c.Controller.ConnectionFinished(uid, app)
}
