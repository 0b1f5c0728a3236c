package eventing

import (
	"context"
	"sync"
)

// ProcessedStore provides idempotency checks per consumer.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Subscribe wraps the handler with idempotency if a store is provided.
func Subscribe(bus EventBus, eventType, consumerName string, handler EventHandler, store ProcessedStore) {
	if store == nil {
		bus.Subscribe(eventType, handler)
		return
	}
	bus.Subscribe(eventType, WrapHandler(consumerName, handler, store))
}

// WrapHandler enforces idempotency per consumer.
func WrapHandler(consumerName string, handler EventHandler, store ProcessedStore) EventHandler {
	return func(ctx context.Context, event any) error {
		env, ok := EnvelopeFromContext(ctx)
		if !ok || env.EventID == "" {
			return handler(ctx, event)
		}
		processed, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}

// memoryProcessedStore keeps a bounded set of processed event ids. The
// engine's consumers are in-process, so a durable store buys nothing here;
// the bound caps memory under long uptimes.
type memoryProcessedStore struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

// NewMemoryProcessedStore constructs a bounded in-memory processed store.
func NewMemoryProcessedStore(limit int) ProcessedStore {
	if limit <= 0 {
		limit = 4096
	}
	return &memoryProcessedStore{
		seen:  make(map[string]struct{}, limit),
		limit: limit,
	}
}

func (s *memoryProcessedStore) HasProcessed(_ context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[consumerName+"|"+eventID]
	return ok, nil
}

func (s *memoryProcessedStore) MarkProcessed(_ context.Context, eventID, consumerName string) error {
	key := consumerName + "|" + eventID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return nil
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	for len(s.order) > s.limit {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}
