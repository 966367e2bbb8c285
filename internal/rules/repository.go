package rules

import (
	"context"
	"fmt"

	"replybot/internal/storage"
	"replybot/internal/task/engine"
)

// Runner executes a task and waits for its result.
type Runner interface {
	Do(ctx context.Context, t engine.Task) error
}

// Repository is the persistent rule store. Each call runs on the engine's
// fixed worker pool while the caller blocks for the result.
type Repository struct {
	store  storage.Store
	runner Runner
}

func NewRepository(store storage.Store, runner Runner) *Repository {
	return &Repository{store: store, runner: runner}
}

// Upsert inserts r or replaces the rule with the same key. It returns the
// number of affected rows.
func (r *Repository) Upsert(ctx context.Context, rule Rule) (int64, error) {
	var n int64
	err := r.runner.Do(ctx, engine.Task{Name: "store.upsert", Run: func(ctx context.Context) error {
		var err error
		n, err = r.store.Upsert(ctx, rule)
		return err
	}})
	if err != nil {
		return 0, fmt.Errorf("%w: upsert: %w", ErrStore, err)
	}
	return n, nil
}

// Remove deletes the rule with the given key and returns the number of
// rows deleted. Zero means no such rule.
func (r *Repository) Remove(ctx context.Context, channel, match string) (int64, error) {
	var n int64
	err := r.runner.Do(ctx, engine.Task{Name: "store.remove", Run: func(ctx context.Context) error {
		var err error
		n, err = r.store.Remove(ctx, channel, match)
		return err
	}})
	if err != nil {
		return 0, fmt.Errorf("%w: remove: %w", ErrStore, err)
	}
	return n, nil
}

func (r *Repository) ListAll(ctx context.Context) ([]Rule, error) {
	var out []Rule
	err := r.runner.Do(ctx, engine.Task{Name: "store.list", Run: func(ctx context.Context) error {
		var err error
		out, err = r.store.ListAll(ctx)
		return err
	}})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStore, err)
	}
	return out, nil
}
