package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vodstream/vod-backend/pkg/redis"
)

const (
	markProcessing = "processing"
	markDone       = "done"

	defaultProcessingTTL = 2 * time.Minute
	settleTimeout        = 5 * time.Second
)

// MarkState is the guard's view of an event id.
type MarkState int

const (
	// MarkAcquired means the caller now owns processing of the event.
	MarkAcquired MarkState = iota
	// MarkCompleted means the event was already applied.
	MarkCompleted
	// MarkInFlight means another delivery is processing the event right now.
	MarkInFlight
)

// IdempotencyGuard marks Stripe event ids so redeliveries skip the synchronizer.
// The synchronizer stays idempotent on its own; the guard only saves work.
//
// A delivery first takes a short-lived processing mark. Only Complete turns it
// into a done mark held for the full TTL, so a crashed or abandoned delivery
// frees the event once the processing mark expires.
type IdempotencyGuard struct {
	store         redis.IdempotencyStore
	ttl           time.Duration
	processingTTL time.Duration
	scope         string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	processingTTL := defaultProcessingTTL
	if ttl > 0 && ttl < processingTTL {
		processingTTL = ttl
	}
	return &IdempotencyGuard{
		store:         store,
		ttl:           ttl,
		processingTTL: processingTTL,
		scope:         scope,
	}, nil
}

// Begin takes the processing mark for eventID or reports who holds it.
func (g *IdempotencyGuard) Begin(ctx context.Context, eventID string) (MarkState, error) {
	if eventID == "" {
		return MarkInFlight, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	set, err := g.store.SetNX(ctx, key, markProcessing, g.processingTTL)
	if err != nil {
		return MarkInFlight, fmt.Errorf("set idempotency key: %w", err)
	}
	if set {
		return MarkAcquired, nil
	}
	value, err := g.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// expired between SetNX and Get; the next delivery will acquire it
			return MarkInFlight, nil
		}
		return MarkInFlight, fmt.Errorf("get idempotency key: %w", err)
	}
	if value == markDone {
		return MarkCompleted, nil
	}
	return MarkInFlight, nil
}

// Complete records eventID as applied for the full TTL. It runs even when ctx
// is already cancelled, since the event has been committed.
func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	settleCtx, cancel := detached(ctx)
	defer cancel()
	return g.store.Set(settleCtx, g.store.IdempotencyKey(g.scope, eventID), markDone, g.ttl)
}

// Release clears the mark so a failed event is processed on redelivery. It runs
// even when ctx is already cancelled.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	settleCtx, cancel := detached(ctx)
	defer cancel()
	return g.store.Del(settleCtx, g.store.IdempotencyKey(g.scope, eventID))
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
