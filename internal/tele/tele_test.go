package tele

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/radmon/internal/telemetry"
	"github.com/temoto/radmon/log2"
	"github.com/temoto/spq"
)

type transportMock struct {
	t            testing.TB
	refuse       int // fail first N telemetry sends
	sent         int
	outTelemetry chan []byte
	outState     chan []byte
	outError     chan []byte
}

func (self *transportMock) Init(ctx context.Context, log *log2.Log, teleConfig Config) error {
	self.outTelemetry = make(chan []byte, 32)
	self.outState = make(chan []byte, 32)
	self.outError = make(chan []byte, 32)
	return nil
}

func (self *transportMock) CloseTele() {}

func (self *transportMock) SendState(payload []byte) bool {
	self.t.Logf("mock state=%s", payload)
	self.outState <- payload
	return true
}

func (self *transportMock) SendTelemetry(payload []byte) bool {
	self.sent++
	if self.sent <= self.refuse {
		self.t.Logf("mock refuse telemetry=%s", payload)
		return false
	}
	self.t.Logf("mock delivered telemetry=%s", payload)
	self.outTelemetry <- payload
	return true
}

func (self *transportMock) SendError(payload []byte) bool {
	self.t.Logf("mock error=%s", payload)
	self.outError <- payload
	return true
}

func recv(t testing.TB, ch chan []byte, timeout time.Duration) []byte {
	select {
	case p := <-ch:
		return p
	case <-time.After(timeout):
		t.Fatal("timeout waiting for payload")
		return nil
	}
}

func newTestTele(t testing.TB, mock *transportMock) Teler {
	tl := NewWithTransporter(mock)
	conf := Config{Enable: true, DeviceID: "radmon-test", PersistPath: spq.OnlyForTesting}
	require.NoError(t, tl.Init(context.Background(), log2.NewTest(t, log2.LDebug), conf))
	t.Cleanup(tl.Close)
	return tl
}

func testReading() telemetry.Reading {
	return telemetry.Reading{
		At: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Fields: []telemetry.Field{
			{Name: "CPS", Value: "5"},
			{Name: "CPM", Value: "120"},
			{Name: "uSv/hr", Value: "0.05"},
			{Name: "Mode", Value: "SLOW"},
		},
	}
}

func TestTeleDisabled(t *testing.T) {
	t.Parallel()
	tl := New()
	require.NoError(t, tl.Init(context.Background(), log2.NewTest(t, log2.LDebug), Config{}))
	// all no-op, must not panic or block
	tl.Reading(testReading())
	tl.Error(assert.AnError)
	tl.State(StateNominal)
	tl.Close()
}

func TestTeleReadingDelivery(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t}
	tl := newTestTele(t, mock)

	tl.Reading(testReading())
	payload := recv(t, mock.outTelemetry, 3*time.Second)

	var p readingPayload
	require.NoError(t, json.Unmarshal(payload, &p))
	assert.Equal(t, testReading().At.Unix(), p.Time)
	assert.Equal(t, "04:05:06 02/03/2026", p.Stamp)
	expect := []fieldPayload{
		{Name: "CPS", Value: "5"},
		{Name: "CPM", Value: "120"},
		{Name: "uSv/hr", Value: "0.05"},
		{Name: "Mode", Value: "SLOW"},
	}
	assert.Equal(t, expect, p.Fields)
}

func TestTeleRetryAfterRefusal(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t, refuse: 1}
	tl := newTestTele(t, mock)

	tl.Reading(testReading())
	payload := recv(t, mock.outTelemetry, 10*time.Second)
	var p readingPayload
	require.NoError(t, json.Unmarshal(payload, &p))
	assert.Equal(t, "04:05:06 02/03/2026", p.Stamp)
	assert.True(t, mock.sent >= 2, "expected a retry, sent=%d", mock.sent)
}

func TestTeleStateOnChange(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t}
	tl := newTestTele(t, mock)

	// Init publishes boot
	var p statePayload
	require.NoError(t, json.Unmarshal(recv(t, mock.outState, time.Second), &p))
	assert.Equal(t, "boot", p.State)

	tl.State(StateBoot) // repeat, no publish
	tl.State(StateNominal)
	require.NoError(t, json.Unmarshal(recv(t, mock.outState, time.Second), &p))
	assert.Equal(t, "nominal", p.State)
	assert.Equal(t, 0, len(mock.outState))
}

func TestTeleErrorQueued(t *testing.T) {
	t.Parallel()
	mock := &transportMock{t: t}
	tl := newTestTele(t, mock)

	tl.Error(assert.AnError)
	var p errorPayload
	require.NoError(t, json.Unmarshal(recv(t, mock.outError, 3*time.Second), &p))
	assert.Contains(t, p.Error, assert.AnError.Error())
}
