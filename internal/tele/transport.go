package tele

import (
	"context"

	"github.com/temoto/radmon/log2"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - Send* deliver within bounded time or report false, queue retries later
// - application may start without network available
// - assume worst network quality: loss, reorder, duplicates
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig Config) error
	CloseTele()
	SendState(payload []byte) bool
	SendTelemetry(payload []byte) bool
	SendError(payload []byte) bool
}
