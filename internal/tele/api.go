// Package tele forwards accepted readings and appliance state to a
// remote broker. Disabled unless configured, the appliance is fully
// functional without it.
//
// Tele contract:
// - Init() fails only with invalid config, network issues ignored
// - Reading/Error block at most for disk write, delivery happens in
//   background at least once
// - State messages may be lost
// - Close() flushes nothing, pending messages survive restart on disk
package tele

import (
	"context"

	"github.com/temoto/radmon/internal/telemetry"
	"github.com/temoto/radmon/log2"
)

type State byte

const (
	StateInvalid State = iota
	StateBoot
	StateNominal
	StateProblem
	StateRestart
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateNominal:
		return "nominal"
	case StateProblem:
		return "problem"
	case StateRestart:
		return "restart"
	}
	return "invalid"
}

type Teler interface {
	Init(ctx context.Context, log *log2.Log, teleConfig Config) error
	Close()
	State(State)
	Error(error)
	Reading(telemetry.Reading)
}

type stub struct{}

var _ Teler = stub{} // compile-time interface test

func (stub) Init(context.Context, *log2.Log, Config) error { return nil }
func (stub) Close()                                        {}
func (stub) State(State)                                   {}
func (stub) Error(error)                                   {}
func (stub) Reading(telemetry.Reading)                     {}

func NewStub() Teler { return stub{} }
