// Package loop turns the appliance: each pass services the operator
// console, drains the instrument link, keeps the time sync schedule and
// serves at most one HTTP client. Single goroutine, no locks between
// stages.
package loop

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/radmon/internal/console"
	"github.com/temoto/radmon/internal/httpd"
	"github.com/temoto/radmon/internal/sntp"
	"github.com/temoto/radmon/internal/state"
	"github.com/temoto/radmon/internal/tele"
)

// serveErrsMax restarts the appliance when the listener looks broken.
const serveErrsMax = 10

type Signal uint8

const (
	SignalNone Signal = iota
	SignalStop
	SignalRestart
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalStop:
		return "stop"
	case SignalRestart:
		return "restart"
	}
	return "unknown"
}

type Loop struct {
	// Console is exported so tests wire In/Out before Init.
	Console console.Console

	g          *state.Global
	server     httpd.Server
	syncState  sntp.State
	lastAccept uint32
	serveErrs  int
}

func (l *Loop) Init(ctx context.Context) error {
	l.g = state.GetGlobal(ctx)
	if err := l.server.Init(ctx); err != nil {
		return errors.Annotate(err, "httpd Init()")
	}
	if err := l.Console.Init(ctx); err != nil {
		return errors.Annotate(err, "console Init()")
	}
	return nil
}

// Server exposes the listener, tests need the bound address.
func (l *Loop) Server() *httpd.Server { return &l.server }

// Run turns the loop until an operator or remote client asks for
// restart, or Alive is stopped. The restart signal goes back to the
// caller, teardown is not Run's job.
func (l *Loop) Run(ctx context.Context) Signal {
	l.g.Alive.Add(1)
	defer l.g.Alive.Done()

	l.g.Tele.State(tele.StateNominal)
	for l.g.Alive.IsRunning() {
		if sig := l.step(ctx); sig != SignalNone {
			l.g.Log.Infof("loop signal=%s", sig.String())
			l.g.Tele.State(tele.StateRestart)
			return sig
		}
	}
	l.g.Log.Debugf("loop end")
	return SignalStop
}

func (l *Loop) step(ctx context.Context) Signal {
	if l.Console.Poll(ctx) {
		return SignalRestart
	}
	l.pollSerial()
	l.pollSync(ctx)
	if sig := l.pollServer(ctx); sig != SignalNone {
		return sig
	}
	l.pushReading()
	return SignalNone
}

func (l *Loop) pollSerial() {
	port := l.g.Telemetry.Port
	if port == nil {
		return
	}
	if err := port.Drain(l.g.Telemetry.Framer); err != nil {
		l.g.Error(errors.Annotate(err, "serial drain"))
	}
}

// pollSync runs a full attempt cycle when due. Synchronize blocks the
// loop for up to attempts*(reply+delay), twice a day that is fine.
func (l *Loop) pollSync(ctx context.Context) {
	if !l.syncState.IsDue(l.g.Clock.Now()) {
		return
	}
	err := l.g.Sntp.Synchronize(ctx, l.g.Settings.TimeSource)
	l.syncState.Advance(l.g.Clock.Now(), l.g.Sntp.Interval())
	l.syncState.LastErr = err
	if err != nil {
		l.g.Error(errors.Annotate(err, "time sync"))
	}
}

func (l *Loop) pollServer(ctx context.Context) Signal {
	restart, err := l.server.HandleOne(ctx)
	if err != nil {
		l.serveErrs++
		l.g.Error(errors.Annotatef(err, "httpd errs=%d", l.serveErrs))
		if l.serveErrs >= serveErrsMax {
			l.g.Tele.State(tele.StateProblem)
			return SignalRestart
		}
		return SignalNone
	}
	l.serveErrs = 0
	if restart {
		return SignalRestart
	}
	return SignalNone
}

// pushReading forwards each newly accepted line to telemetry exactly
// once, keyed on the framer accept counter.
func (l *Loop) pushReading() {
	stat := l.g.Telemetry.Framer.Stat()
	if stat.Accept == l.lastAccept {
		return
	}
	l.lastAccept = stat.Accept
	l.g.Tele.Reading(l.g.Telemetry.Framer.Current())
}
