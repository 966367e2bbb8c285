package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "replybot/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for driver, path := range map[string]string{
		"memory": "",
		"sqlite": filepath.Join(dir, "rules.db"),
		"pebble": filepath.Join(dir, "pebble"),
	} {
		st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
		require.NoError(t, err, driver)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestUpsertReplacesOnKey(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openAll(t) {
		t.Run(driver, func(t *testing.T) {
			n, err := st.Upsert(ctx, Rule{Channel: "mychan", MatchExpr: "!hi", Response: "hello"})
			require.NoError(t, err)
			require.EqualValues(t, 1, n)

			n, err = st.Upsert(ctx, Rule{Channel: "mychan", MatchExpr: "!hi", Response: "hey"})
			require.NoError(t, err)
			require.EqualValues(t, 1, n)

			all, err := st.ListAll(ctx)
			require.NoError(t, err)
			require.Equal(t, []Rule{{Channel: "mychan", MatchExpr: "!hi", Response: "hey"}}, all)
		})
	}
}

func TestRemoveCounts(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openAll(t) {
		t.Run(driver, func(t *testing.T) {
			n, err := st.Remove(ctx, "mychan", "!nope")
			require.NoError(t, err)
			require.EqualValues(t, 0, n)

			_, err = st.Upsert(ctx, Rule{Channel: "mychan", MatchExpr: "!bye", Response: "cya"})
			require.NoError(t, err)
			n, err = st.Remove(ctx, "mychan", "!bye")
			require.NoError(t, err)
			require.EqualValues(t, 1, n)

			all, err := st.ListAll(ctx)
			require.NoError(t, err)
			require.Empty(t, all)
		})
	}
}

func TestListAllOrdered(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openAll(t) {
		t.Run(driver, func(t *testing.T) {
			for _, r := range []Rule{
				{Channel: "b", MatchExpr: "!x", Response: "1"},
				{Channel: "a", MatchExpr: "!z", Response: "2"},
				{Channel: "ab", MatchExpr: "!a", Response: "3"},
				{Channel: "a", MatchExpr: "!a", Response: "4"},
			} {
				_, err := st.Upsert(ctx, r)
				require.NoError(t, err)
			}
			all, err := st.ListAll(ctx)
			require.NoError(t, err)
			got := make([]string, 0, len(all))
			for _, r := range all {
				got = append(got, r.Channel+" "+r.MatchExpr)
			}
			require.Equal(t, []string{"a !a", "a !z", "ab !a", "b !x"}, got)
		})
	}
}

func TestSameMatchDifferentChannels(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openAll(t) {
		t.Run(driver, func(t *testing.T) {
			_, err := st.Upsert(ctx, Rule{Channel: "one", MatchExpr: "!hi", Response: "1"})
			require.NoError(t, err)
			_, err = st.Upsert(ctx, Rule{Channel: "two", MatchExpr: "!hi", Response: "2"})
			require.NoError(t, err)
			all, err := st.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
		})
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, cfg := range []Config{
		{Driver: "sqlite", Path: filepath.Join(dir, "r.db")},
		{Driver: "pebble", Path: filepath.Join(dir, "p")},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err)
		_, err = st.Upsert(ctx, Rule{Channel: "c", MatchExpr: "!m", Response: "r"})
		require.NoError(t, err)
		require.NoError(t, st.Close())

		st, err = Open(cfg, logx.Nop())
		require.NoError(t, err)
		all, err := st.ListAll(ctx)
		require.NoError(t, err)
		require.Equal(t, []Rule{{Channel: "c", MatchExpr: "!m", Response: "r"}}, all, cfg.Driver)
		require.NoError(t, st.Close())
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	_, err := m.Upsert(context.Background(), Rule{Channel: "c", MatchExpr: "m"})
	require.ErrorIs(t, err, ErrClosed)
}
