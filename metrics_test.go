//go:build linux

package sdlink

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopController struct{}

func (nopController) FindDevice(uid DeviceUID) (Device, error) { return nil, ErrDeviceNotFound }
func (nopController) ConnectionCreated(conn *Connection, uid DeviceUID, app ApplicationHandle) {}
func (nopController) ConnectDone(uid DeviceUID, app ApplicationHandle)                         {}
func (nopController) DataReceiveDone(uid DeviceUID, app ApplicationHandle, msg *RawMessage)    {}
func (nopController) DataSendDone(uid DeviceUID, app ApplicationHandle, msg *RawMessage)       {}
func (nopController) DataSendFailed(uid DeviceUID, app ApplicationHandle, msg *RawMessage, err error) {
}
func (nopController) ConnectionAborted(uid DeviceUID, app ApplicationHandle, err error) {}
func (nopController) ConnectionFinished(uid DeviceUID, app ApplicationHandle)           {}

func TestMetricsControllerCounts(t *testing.T) {
	m := NewDefaultMetrics()
	ctrl := &metricsController{Controller: nopController{}, m: m}

	ctrl.ConnectDone("dev", 1)
	ctrl.DataSendDone("dev", 1, NewRawMessage(0, 0, []byte("abc")))
	ctrl.DataSendDone("dev", 1, NewRawMessage(0, 0, []byte("de")))
	ctrl.DataSendFailed("dev", 1, NewRawMessage(0, 0, []byte("x")), ErrDataSend)
	ctrl.DataReceiveDone("dev", 1, NewRawMessage(0, 0, []byte("pong")))
	ctrl.ConnectionAborted("dev", 1, ErrCommunication)
	ctrl.ConnectionFinished("dev", 1)

	assert.Equal(t, int64(1), m.GetConnectCount())
	assert.Equal(t, int64(2), m.GetSendDoneCount())
	assert.Equal(t, int64(1), m.GetSendFailedCount())
	assert.Equal(t, int64(5), m.GetBytesSent())
	assert.Equal(t, int64(4), m.GetBytesReceived())
	assert.Equal(t, int64(1), m.GetAbortedCount())
	assert.Equal(t, int64(1), m.GetFinishedCount())
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg, "sdlink")
	require.NoError(t, err)

	m.IncrementConnect()
	m.IncrementSendDone()
	m.IncrementBytesSent(42)
	m.IncrementBytesReceived(7)
	m.IncrementAborted()

	assert.Equal(t, int64(1), m.GetConnectCount())
	assert.Equal(t, int64(1), m.GetSendDoneCount())
	assert.Equal(t, int64(42), m.GetBytesSent())
	assert.Equal(t, int64(7), m.GetBytesReceived())
	assert.Equal(t, int64(1), m.GetAbortedCount())

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	// Registering the same names twice is refused by the registry.
	_, err = NewPrometheusMetrics(reg, "sdlink")
	assert.Error(t, err)
}
