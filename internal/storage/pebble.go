package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"

	pebble "github.com/cockroachdb/pebble"

	logx "replybot/pkg/logx"
)

const keySep = 0x00

type pebbleStore struct {
	db  *pebble.DB
	log logx.Logger

	// mu makes Remove's read-then-delete atomic with respect to other writers.
	mu sync.Mutex
}

func openPebble(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("pebble path is required")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	log.Debug("pebble store opened", logx.String("path", path))
	return &pebbleStore{db: db, log: log}, nil
}

func ruleKey(channel, match string) []byte {
	k := make([]byte, 0, len(channel)+1+len(match))
	k = append(k, channel...)
	k = append(k, keySep)
	return append(k, match...)
}

func (s *pebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *pebbleStore) Upsert(ctx context.Context, r Rule) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := json.Marshal(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Set(ruleKey(r.Channel, r.MatchExpr), v, pebble.Sync); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *pebbleStore) Remove(ctx context.Context, channel, match string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := ruleKey(channel, match)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	_ = closer.Close()
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return 0, err
	}
	return 1, nil
}

// ListAll relies on pebble's bytewise key order, which matches (channel, match)
// ordering because the separator sorts before every printable byte.
func (s *pebbleStore) ListAll(ctx context.Context) ([]Rule, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make([]Rule, 0, 16)
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k := it.Key()
		i := bytes.IndexByte(k, keySep)
		if i < 0 {
			continue
		}
		var r Rule
		if err := json.Unmarshal(it.Value(), &r); err != nil {
			s.log.Warn("skipping undecodable rule", logx.String("key", string(k)), logx.Err(err))
			continue
		}
		r.Channel, r.MatchExpr = string(k[:i]), string(k[i+1:])
		out = append(out, r)
	}
	return out, it.Error()
}
