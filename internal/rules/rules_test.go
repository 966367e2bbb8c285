package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"replybot/internal/storage"
	"replybot/internal/task/engine"
	logx "replybot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingStore struct{ storage.Store }

var errDisk = errors.New("disk on fire")

func (failingStore) Upsert(context.Context, Rule) (int64, error)          { return 0, errDisk }
func (failingStore) Remove(context.Context, string, string) (int64, error) { return 0, errDisk }
func (failingStore) ListAll(context.Context) ([]Rule, error)              { return nil, errDisk }

func newRepo(t *testing.T, st storage.Store) *Repository {
	t.Helper()
	eng := engine.New(engine.Config{Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	t.Cleanup(func() { eng.Stop(context.Background()) })
	return NewRepository(st, eng)
}

func TestRepositoryUpsertReplace(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, storage.NewMemory())

	if _, err := repo.Upsert(ctx, Rule{Channel: "c", MatchExpr: "!hi", Response: "one"}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Upsert(ctx, Rule{Channel: "c", MatchExpr: "!hi", Response: "two"}); err != nil {
		t.Fatal(err)
	}
	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Response != "two" {
		t.Fatalf("ListAll = %+v, want single rule with response two", all)
	}

	n, err := repo.Remove(ctx, "c", "!missing")
	if err != nil || n != 0 {
		t.Fatalf("Remove missing = %d, %v", n, err)
	}
}

func TestRepositoryWrapsStoreErrors(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, failingStore{})

	if _, err := repo.Upsert(ctx, Rule{Channel: "c", MatchExpr: "m"}); !errors.Is(err, ErrStore) || !errors.Is(err, errDisk) {
		t.Fatalf("Upsert error = %v", err)
	}
	if _, err := repo.Remove(ctx, "c", "m"); !errors.Is(err, ErrStore) {
		t.Fatalf("Remove error = %v", err)
	}
	if _, err := repo.ListAll(ctx); !errors.Is(err, ErrStore) {
		t.Fatalf("ListAll error = %v", err)
	}
}

func TestCacheStartsEmpty(t *testing.T) {
	c := NewCache()
	snap := c.Read()
	if snap.Version != 0 || snap.Rules == nil || len(snap.Rules) != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}
}

func TestRefreshObservesMutation(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, storage.NewMemory())
	c := NewCache()

	if _, err := repo.Upsert(ctx, Rule{Channel: "c", MatchExpr: "!hi", Response: "hello"}); err != nil {
		t.Fatal(err)
	}
	snap, err := c.Refresh(ctx, repo)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 1 || len(snap.Rules) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := c.Read(); got.Version != snap.Version {
		t.Fatalf("Read version = %d, want %d", got.Version, snap.Version)
	}
	if r, ok := c.Match("c", "!hi"); !ok || r.Response != "hello" {
		t.Fatalf("Match = %+v, %v", r, ok)
	}
	if _, ok := c.Match("other", "!hi"); ok {
		t.Fatal("Match crossed channels")
	}
}

func TestRefreshFailureKeepsStale(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	mem := storage.NewMemory()
	_, _ = mem.Upsert(ctx, Rule{Channel: "c", MatchExpr: "m", Response: "r"})
	if _, err := c.Refresh(ctx, mem); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Refresh(ctx, failingStore{})
	if !errors.Is(err, errDisk) {
		t.Fatalf("Refresh error = %v", err)
	}
	if snap.Version != 1 || len(c.Read().Rules) != 1 {
		t.Fatalf("stale snapshot not kept: %+v", c.Read())
	}
}

type blockingLister struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingLister) ListAll(ctx context.Context) ([]Rule, error) {
	close(b.entered)
	<-b.release
	return []Rule{{Channel: "c", MatchExpr: "m"}}, nil
}

func TestRefreshUnavailableWhileBusy(t *testing.T) {
	c := NewCache()
	bl := blockingLister{entered: make(chan struct{}), release: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Refresh(context.Background(), bl)
	}()
	<-bl.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Refresh(ctx, storage.NewMemory()); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("Refresh while busy = %v, want ErrCacheUnavailable", err)
	}
	close(bl.release)
	wg.Wait()
	if c.Read().Version != 1 {
		t.Fatalf("version = %d, want 1", c.Read().Version)
	}
}

func TestConcurrentRefreshesSerialize(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	mem := storage.NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Refresh(ctx, mem)
			_ = c.Read()
		}()
	}
	wg.Wait()
	if got := c.Read().Version; got != 16 {
		t.Fatalf("version = %d, want 16", got)
	}
}
