package storage

import (
	"context"
	"sort"
	"sync"
)

type memKey struct{ channel, match string }

// Memory is a process-local Store.
type Memory struct {
	mu     sync.Mutex
	rules  map[memKey]string
	closed bool
}

func NewMemory() *Memory {
	return &Memory{rules: map[memKey]string{}}
}

func (m *Memory) Upsert(ctx context.Context, r Rule) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	m.rules[memKey{r.Channel, r.MatchExpr}] = r.Response
	return 1, nil
}

func (m *Memory) Remove(ctx context.Context, channel, match string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	k := memKey{channel, match}
	if _, ok := m.rules[k]; !ok {
		return 0, nil
	}
	delete(m.rules, k)
	return 1, nil
}

func (m *Memory) ListAll(ctx context.Context) ([]Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	out := make([]Rule, 0, len(m.rules))
	for k, v := range m.rules {
		out = append(out, Rule{Channel: k.channel, MatchExpr: k.match, Response: v})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].MatchExpr < out[j].MatchExpr
	})
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
