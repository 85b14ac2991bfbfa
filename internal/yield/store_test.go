package yield

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileStore_MalformedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"histories":{"k":[{"shares":12}]`), 0o644))
	s := NewFileHistoryStore(path, zap.NewNop())

	h, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Empty(t, h)

	// the next write replaces the broken document
	a := NewAccountant(s, 10, zap.NewNop())
	require.NoError(t, a.Record(context.Background(), snap(1, 1, 1)))
	h, err = a.History(context.Background(), agentA, vaultV)
	require.NoError(t, err)
	assert.Len(t, h, 1)
}

func TestFileStore_UnknownVersionStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":9,"histories":{}}`), 0o644))

	h, err := NewFileHistoryStore(path, zap.NewNop()).Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestFileStore_WritesAtomicallyWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "history.json")
	a := NewAccountant(NewFileHistoryStore(path, zap.NewNop()), 10, zap.NewNop())
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, a.Record(context.Background(), snap(i, i, i)))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "history.json", entries[0].Name())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"underlying": "3"`)
}

func TestFileStore_FailedUpdateWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := NewFileHistoryStore(path, zap.NewNop())

	boom := errors.New("boom")
	err := s.Update(context.Background(), "k", func([]Snapshot) ([]Snapshot, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRedisStore_MalformedValueStartsEmpty(t *testing.T) {
	s, mr := newRedisStore(t)
	key := Key(agentA, vaultV)
	require.NoError(t, mr.Set(historyKeyPrefix+key, `{"version":1,"snapshots":[{"shares":1}]}`))

	h, err := s.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, h)

	a := NewAccountant(s, 10, zap.NewNop())
	require.NoError(t, a.Record(context.Background(), snap(5, 1, 1)))

	stored, err := mr.Get(historyKeyPrefix + key)
	require.NoError(t, err)
	got, err := DecodeHistory([]byte(stored))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
