package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/temoto/radmon/internal/settings"
	"github.com/temoto/radmon/internal/tele"
	"github.com/temoto/radmon/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			assert.Equal(t, settings.DefaultTimeSource, g.Settings.TimeSource)
			assert.Equal(t, 12*time.Hour, g.Sntp.Interval())
			assert.Nil(t, g.Telemetry.Port)
		}, ""},

		{"serial",
			`serial { baud = 57600 read_timeout_ms = 100 drain_limit = 8 }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 57600, g.Config.Serial.Baud)
				assert.Equal(t, 8, g.Config.Serial.DrainLimit)
				assert.Nil(t, g.Telemetry.Port)
			},
			"",
		},

		{"serial-device-missing",
			`serial { device = "/dev/radmon-test-does-not-exist" }`,
			nil, "serial"},

		{"listen",
			`listen { address = ":8081" read_timeout_ms = 300 drain_ms = 50 }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, ":8081", g.Config.Listen.Address)
				assert.Equal(t, 300, g.Config.Listen.ReadTimeoutMs)
				assert.Equal(t, 50, g.Config.Listen.DrainMs)
			},
			"",
		},

		{"sync",
			`sync { port = 1123 attempts = 5 interval_sec = 3600 }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 1123, g.Config.Sync.Port)
				assert.Equal(t, 5, g.Config.Sync.Attempts)
				assert.Equal(t, time.Hour, g.Sntp.Interval())
			},
			"",
		},

		{"tele",
			`tele { device_id = "radmon-7" mqtt_broker = "tcp://localhost:1883" }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "radmon-7", g.Config.Tele.DeviceID)
				assert.Equal(t, "tcp://localhost:1883", g.Config.Tele.MqttBroker)
			},
			"",
		},

		{"include-normalize", `
sync { attempts = 1 }
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "sync-attempts-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 7, g.Config.Sync.Attempts)
			}, ""},

		{"include-overwrites", `
sync { attempts = 1 }
include "sync-attempts-7" {}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 7, g.Config.Sync.Attempts)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			// log := log2.NewStderr(log2.LDebug) // helps with panics
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log, tele.NewStub())

			fs := NewMockFullReader(map[string]string{
				"test-inline":     c.input,
				"empty":           "",
				"sync-attempts-7": "sync{attempts=7}",
				"include-loop":    `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				if cfg.Persist.Root == "" {
					cfg.Persist.Root = t.TempDir()
				}
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../../radmon.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	cfg := MustReadConfig(log, NewOsFullReader(), "../../radmon.hcl")
	assert.NotEqual(t, "", cfg.Listen.Address)
}
