package state

import (
	"context"
	"testing"

	"github.com/temoto/radmon/internal/tele"
	"github.com/temoto/radmon/log2"
)

func NewTestContext(t testing.TB, confString string) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	// log := log2.NewStderr(log2.LDebug) // useful with panics
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log, tele.NewStub())
	cfg := MustReadConfig(log, fs, "test-inline")
	if cfg.Persist.Root == "" {
		cfg.Persist.Root = t.TempDir()
	}
	g.MustInit(ctx, cfg)

	return ctx, g
}
