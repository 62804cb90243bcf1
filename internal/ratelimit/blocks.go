package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finflow-labs/sentinel/internal/policy"
)

// SecurityBlock is a temporary hard denial for one (identifier,type) pair,
// independent of window counters. At most one is active per pair; creating
// a new one overwrites the old (last writer wins).
type SecurityBlock struct {
	Identifier   string    `json:"identifier"`
	LimitType    string    `json:"limit_type"`
	BlockedUntil time.Time `json:"blocked_until"`
	Reason       string    `json:"reason"`
	BlockType    string    `json:"block_type"`
	AttemptCount int       `json:"attempt_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type BlockStore struct {
	store CounterStore
	now   func() time.Time
}

func NewBlockStore(store CounterStore) *BlockStore {
	return &BlockStore{store: store, now: time.Now}
}

// Get returns the active block for (identifier,type), or nil when there is
// none. A record past its BlockedUntil counts as absent even if the store
// has not expired it yet.
func (b *BlockStore) Get(ctx context.Context, identifier string, limitType policy.LimitType) (*SecurityBlock, error) {
	data, err := b.store.GetBytes(ctx, blockKey(string(limitType), identifier))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var block SecurityBlock
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("corrupt security block for %s/%s: %w", limitType, identifier, err)
	}

	if !b.now().Before(block.BlockedUntil) {
		return nil, nil
	}

	return &block, nil
}

// Create writes a block lasting the given duration, unconditionally
// replacing any existing block for the same pair.
func (b *BlockStore) Create(ctx context.Context, identifier string, limitType policy.LimitType, duration time.Duration, reason, blockType string, attempts int) error {
	now := b.now()
	block := SecurityBlock{
		Identifier:   identifier,
		LimitType:    string(limitType),
		BlockedUntil: now.Add(duration),
		Reason:       reason,
		BlockType:    blockType,
		AttemptCount: attempts,
		CreatedAt:    now,
	}

	data, err := json.Marshal(block)
	if err != nil {
		return err
	}

	return b.store.SetBytes(ctx, blockKey(string(limitType), identifier), data, duration)
}

// Remove lifts a block early. Administrative override only.
func (b *BlockStore) Remove(ctx context.Context, identifier string, limitType policy.LimitType) error {
	return b.store.Del(ctx, blockKey(string(limitType), identifier))
}
