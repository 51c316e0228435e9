package loop

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/radmon/helpers"
	"github.com/temoto/radmon/internal/sntp"
	"github.com/temoto/radmon/internal/state"
	"github.com/temoto/radmon/internal/tele"
	"github.com/temoto/radmon/internal/telemetry"
	"github.com/temoto/radmon/log2"
)

const testLine = "CPS, 5, CPM, 120, uSv/hr, 0.05, SLOW\n"

const listenConf = `listen { address = "127.0.0.1:0" read_timeout_ms = 100 drain_ms = 1 }`

// recordTeler captures telemetry calls, Run turns in another goroutine.
type recordTeler struct {
	mu       sync.Mutex
	states   []tele.State
	readings []telemetry.Reading
}

var _ tele.Teler = &recordTeler{} // compile-time interface test

func (r *recordTeler) Init(context.Context, *log2.Log, tele.Config) error { return nil }
func (r *recordTeler) Close()                                             {}
func (r *recordTeler) State(s tele.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}
func (r *recordTeler) Error(error) {}
func (r *recordTeler) Reading(reading telemetry.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
}

func (r *recordTeler) hasState(s tele.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.states {
		if x == s {
			return true
		}
	}
	return false
}

func (r *recordTeler) readingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings)
}

func startLoop(t testing.TB, conf string, script string) (context.Context, *state.Global, *Loop, *recordTeler) {
	ctx, g := state.NewTestContext(t, conf)
	rec := &recordTeler{}
	g.Tele = rec
	l := &Loop{}
	l.Console.In = strings.NewReader(script)
	l.Console.Out = new(bytes.Buffer)
	require.NoError(t, l.Init(ctx))
	// keep the schedule quiet unless a test brings its own time server
	l.syncState.Advance(g.Clock.Now(), time.Hour)
	return ctx, g, l, rec
}

func runAsync(l *Loop, ctx context.Context) <-chan Signal {
	ch := make(chan Signal, 1)
	go func() { ch <- l.Run(ctx) }()
	return ch
}

func waitSignal(t testing.TB, ch <-chan Signal) Signal {
	select {
	case sig := <-ch:
		return sig
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not return")
		return SignalNone
	}
}

func TestRunStop(t *testing.T) {
	t.Parallel()
	ctx, g, l, rec := startLoop(t, listenConf+"\nconsole { disable = true }", "")
	done := runAsync(l, ctx)
	time.Sleep(50 * time.Millisecond)
	g.Alive.Stop()
	assert.Equal(t, SignalStop, waitSignal(t, done))
	assert.True(t, rec.hasState(tele.StateNominal))
	assert.False(t, rec.hasState(tele.StateRestart))
}

func TestConsoleRestart(t *testing.T) {
	t.Parallel()
	ctx, _, l, rec := startLoop(t, listenConf, "\n6\n")
	sig := waitSignal(t, runAsync(l, ctx))
	assert.Equal(t, SignalRestart, sig)
	assert.True(t, rec.hasState(tele.StateRestart))
}

func TestHttpResetRestart(t *testing.T) {
	t.Parallel()
	ctx, _, l, rec := startLoop(t, listenConf+"\nconsole { disable = true }", "")
	done := runAsync(l, ctx)

	conn, err := net.Dial("tcp", l.Server().Addr())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, helpers.WriteAll(conn, []byte("GET /reset HTTP/1.1\r\n\r\n")))
	buf := make([]byte, 4<<10)
	n, _ := conn.Read(buf)
	assert.Contains(t, string(buf[:n]), "ok")

	assert.Equal(t, SignalRestart, waitSignal(t, done))
	assert.True(t, rec.hasState(tele.StateRestart))
}

func TestReadingForwardedOnce(t *testing.T) {
	t.Parallel()
	ctx, g, l, rec := startLoop(t, listenConf+"\nconsole { disable = true }", "")

	require.Equal(t, SignalNone, l.step(ctx))
	assert.Equal(t, 0, rec.readingCount())

	g.Telemetry.Framer.FeedBytes([]byte(testLine))
	require.Equal(t, SignalNone, l.step(ctx))
	assert.Equal(t, 1, rec.readingCount())

	// same reading must not repeat
	require.Equal(t, SignalNone, l.step(ctx))
	assert.Equal(t, 1, rec.readingCount())

	g.Telemetry.Framer.FeedBytes([]byte(testLine))
	require.Equal(t, SignalNone, l.step(ctx))
	assert.Equal(t, 2, rec.readingCount())
}

func TestSyncOnSchedule(t *testing.T) {
	t.Parallel()
	target := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	port, got := startTimeServer(t, uint32(target.Unix()+2208988800))
	conf := fmt.Sprintf("%s\nconsole { disable = true }\nsync { port = %d attempts = 1 reply_timeout_sec = 1 }", listenConf, port)
	ctx, g, l, _ := startLoop(t, conf, "")
	require.NoError(t, g.Settings.SetTimeSource("127.0.0.1"))
	// forget the quiet schedule from startLoop, boot sync is due now
	l.syncState = sntp.State{}

	require.Equal(t, SignalNone, l.step(ctx))
	assert.True(t, g.Clock.Synced())
	diff := g.Clock.Now().Sub(target)
	assert.True(t, diff >= 0 && diff < 2*time.Second, "diff=%v", diff)
	assert.Equal(t, 1, len(got))

	require.Equal(t, SignalNone, l.step(ctx))
	assert.Equal(t, 1, len(got), "schedule advanced, no extra request")
}

func TestServeErrorEscalation(t *testing.T) {
	t.Parallel()
	ctx, _, l, rec := startLoop(t, listenConf+"\nconsole { disable = true }", "")
	require.NoError(t, l.Server().Close())

	var sig Signal
	for i := 0; i < serveErrsMax; i++ {
		sig = l.step(ctx)
		if sig != SignalNone {
			break
		}
	}
	assert.Equal(t, SignalRestart, sig)
	assert.True(t, rec.hasState(tele.StateProblem))
}

// fake time server replying with fixed transmit seconds
func startTimeServer(t testing.TB, secs uint32) (int, chan int) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	got := make(chan int, 16)
	go func() {
		buf := make([]byte, 256)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			got <- n
			resp := make([]byte, 48)
			resp[0] = 0x24 // LI=0 VN=4 mode=server
			binary.BigEndian.PutUint32(resp[40:], secs)
			_, _ = pc.WriteTo(resp, addr)
		}
	}()
	t.Cleanup(func() { _ = pc.Close() })
	return pc.LocalAddr().(*net.UDPAddr).Port, got
}
