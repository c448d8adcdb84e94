// Package persist stores and restores persisted machine states. The
// serialized record carries the state value, context, history and pending
// actions; configuration and transitions are not stored, and the
// configuration is recomputed on restore.
package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/tobiaswade/machina"
)

// ErrNotFound is returned when a session has no persisted state.
var ErrNotFound = errors.New("persist: session not found")

// Store persists machine states keyed by session id.
type Store interface {
	Save(ctx context.Context, sessionID string, state machina.PersistedState) error
	Load(ctx context.Context, sessionID string) (machina.PersistedState, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// DecodeContext decodes the untyped persisted context into the machine's
// typed context. JSON round-trips turn structs into map[string]any and
// numbers into json.Number; the weakly typed decode undoes both.
func DecodeContext[C any](p machina.PersistedState) (C, error) {
	var ctx C
	if p.Context == nil {
		return ctx, nil
	}
	if typed, ok := p.Context.(C); ok {
		return typed, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ctx,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return ctx, err
	}
	if err := dec.Decode(p.Context); err != nil {
		return ctx, fmt.Errorf("decode persisted context: %w", err)
	}
	return ctx, nil
}

// Restore rebuilds a live state from a persisted record against the given
// machine.
func Restore[C any](m *machina.Machine[C], p machina.PersistedState) (machina.State[C], error) {
	ctx, err := DecodeContext[C](p)
	if err != nil {
		return machina.State[C]{}, err
	}
	return m.RestoreState(p.Value, ctx, p.HistoryValue)
}
