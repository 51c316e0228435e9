package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/radmon/helpers"
	"github.com/temoto/radmon/internal/clock"
	"github.com/temoto/radmon/internal/settings"
	"github.com/temoto/radmon/internal/sntp"
	"github.com/temoto/radmon/internal/tele"
	"github.com/temoto/radmon/internal/telemetry"
	"github.com/temoto/radmon/log2"
)

type Global struct {
	Alive         *alive.Alive
	BuildVersion  string
	Clock         *clock.Clock
	Config        *Config
	Log           *log2.Log
	Settings      *settings.Settings
	SettingsStore settings.Store
	Sntp          *sntp.Client
	Tele          tele.Teler
	Telemetry     struct {
		Framer *telemetry.Framer
		Port   *telemetry.Port
	}

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

func NewContext(log *log2.Log, teler tele.Teler) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Clock: clock.New(),
		Log:   log,
		Tele:  teler,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	g.Log.Infof("build version=%s", g.BuildVersion)

	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = "./radmon-db"
		g.Log.Errorf("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	// Since tele is remote error reporting mechanism, it must be inited before anything else
	if g.Config.Tele.PersistPath == "" {
		g.Config.Tele.PersistPath = filepath.Join(g.Config.Persist.Root, "tele")
	}
	// Tele.Init gets g.Log clone before SetErrorFunc, so Tele.Log.Error doesn't recurse on itself
	if err := g.Tele.Init(ctx, g.Log.Clone(log2.LInfo), g.Config.Tele); err != nil {
		g.Tele = tele.NewStub()
		return errors.Annotate(err, "tele init")
	}
	g.Log.SetErrorFunc(g.Tele.Error)

	errs := make([]error, 0)

	if g.Settings == nil {
		g.Settings = &settings.Settings{}
	}
	if err := g.SettingsStore.Init(g.Config.Persist.Root, g.Log); err != nil {
		errs = append(errs, err)
	} else if err := g.SettingsStore.Load(g.Settings); err != nil {
		g.Error(err)
		g.Tele.State(tele.StateProblem)
	}
	g.Log.Infof("settings: %s", g.Settings.String())

	g.Sntp = sntp.NewClient(sntp.Config{
		Port:         g.Config.Sync.Port,
		Attempts:     g.Config.Sync.Attempts,
		ReplyTimeout: helpers.IntSecondDefault(g.Config.Sync.ReplyTimeoutSec, 0),
		RetryDelay:   helpers.IntSecondDefault(g.Config.Sync.RetryDelaySec, 0),
		Interval:     helpers.IntSecondDefault(g.Config.Sync.IntervalSec, 0),
	}, g.Clock, g.Log)

	g.Telemetry.Framer = telemetry.NewFramer(g.Clock, g.Log)
	g.Telemetry.Framer.SetEcho(g.Settings.Verbose)

	if g.Config.Serial.Device == "" {
		g.Log.Infof("serial: device=empty disabled")
	} else {
		port, err := telemetry.OpenPort(telemetry.PortConfig{
			Device:      g.Config.Serial.Device,
			Baud:        g.Config.Serial.Baud,
			ReadTimeout: helpers.IntMillisecondDefault(g.Config.Serial.ReadTimeoutMs, 0),
			DrainLimit:  g.Config.Serial.DrainLimit,
		}, g.Log)
		if err != nil {
			errs = append(errs, errors.Annotate(err, "serial"))
		} else {
			g.Telemetry.Port = port
		}
	}

	return helpers.FoldErrors(errs)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		// error tap forwards to tele
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Cleanup releases hardware and flushes telemetry, called once after the
// run loop returns.
func (g *Global) Cleanup() {
	if g.Telemetry.Port != nil {
		if err := g.Telemetry.Port.Close(); err != nil {
			g.Log.Errorf("serial close err=%v", err)
		}
		g.Telemetry.Port = nil
	}
	g.Tele.Close()
}
