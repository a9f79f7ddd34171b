package service

import (
	"context"

	"dicegame/internal/storage"
)

// SettlementListener is told about every committed settlement. Errors are
// logged by the engine; the settlement itself is never undone.
type SettlementListener interface {
	OnSettlement(ctx context.Context, s *storage.Settlement) error
}

// ListenerFunc adapts a function to SettlementListener
type ListenerFunc func(ctx context.Context, s *storage.Settlement) error

// OnSettlement calls f
func (f ListenerFunc) OnSettlement(ctx context.Context, s *storage.Settlement) error {
	return f(ctx, s)
}
