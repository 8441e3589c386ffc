package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"futures-signal-engine/internal/position"

	goredis "github.com/go-redis/redis/v8"
)

const positionPrefix = "signalbot:position:"

// PositionStore keeps the latest position snapshot per symbol as a JSON
// string. It implements position.Persister.
type PositionStore struct {
	client *goredis.Client
}

// NewPositionStore creates a store on client.
func NewPositionStore(client *goredis.Client) *PositionStore {
	return &PositionStore{client: client}
}

func (s *PositionStore) SavePosition(ctx context.Context, st position.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	if err := s.client.Set(ctx, positionPrefix+st.Symbol, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set position %s: %w", st.Symbol, err)
	}
	return nil
}

// LoadPosition returns nil, nil when no snapshot exists.
func (s *PositionStore) LoadPosition(ctx context.Context, symbol string) (*position.State, error) {
	b, err := s.client.Get(ctx, positionPrefix+symbol).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get position %s: %w", symbol, err)
	}

	var st position.State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("unmarshal position %s: %w", symbol, err)
	}
	return &st, nil
}
