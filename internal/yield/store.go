package yield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HistoryStore persists snapshot histories by key. Update applies fn to the
// current history and stores the result atomically with respect to other
// Updates of the same key; if fn fails nothing is written.
type HistoryStore interface {
	Load(ctx context.Context, key string) ([]Snapshot, error)
	Update(ctx context.Context, key string, fn func([]Snapshot) ([]Snapshot, error)) error
}

// ── File ─────────────────────────────────────────────────────────────────────

type fileDoc struct {
	Version   int                         `json:"version"`
	Histories map[string][]snapshotRecord `json:"histories"`
}

// FileHistoryStore keeps every history in one JSON file, rewritten via a
// temp file and rename so a crash never leaves a half-written document.
type FileHistoryStore struct {
	path string
	mu   sync.Mutex
	log  *zap.Logger
}

func NewFileHistoryStore(path string, log *zap.Logger) *FileHistoryStore {
	return &FileHistoryStore{path: path, log: log}
}

func (f *FileHistoryStore) Load(_ context.Context, key string) ([]Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return nil, err
	}
	return f.decodeKey(all, key), nil
}

func (f *FileHistoryStore) Update(_ context.Context, key string, fn func([]Snapshot) ([]Snapshot, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	next, err := fn(f.decodeKey(all, key))
	if err != nil {
		return err
	}
	all[key] = encodeRecords(next)
	return f.write(all)
}

// read returns the stored histories. A missing file is empty; a malformed
// one is logged and treated as empty so the next write replaces it.
func (f *FileHistoryStore) read() (map[string][]snapshotRecord, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string][]snapshotRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return f.startEmpty(fmt.Errorf("%w: %v", ErrSerialization, err)), nil
	}
	if doc.Version != SchemaVersion {
		return f.startEmpty(fmt.Errorf("%w: unsupported version %d", ErrSerialization, doc.Version)), nil
	}
	if doc.Histories == nil {
		doc.Histories = make(map[string][]snapshotRecord)
	}
	return doc.Histories, nil
}

func (f *FileHistoryStore) startEmpty(err error) map[string][]snapshotRecord {
	f.log.Error("history file unreadable, starting empty", zap.String("path", f.path), zap.Error(err))
	return make(map[string][]snapshotRecord)
}

func (f *FileHistoryStore) decodeKey(all map[string][]snapshotRecord, key string) []Snapshot {
	history, err := decodeRecords(all[key])
	if err != nil {
		f.log.Error("history entry unreadable, starting empty",
			zap.String("key", key),
			zap.Error(fmt.Errorf("%w: %v", ErrSerialization, err)),
		)
		return nil
	}
	return history
}

func (f *FileHistoryStore) write(all map[string][]snapshotRecord) error {
	b, err := json.MarshalIndent(fileDoc{Version: SchemaVersion, Histories: all}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace history file: %w", err)
	}
	return nil
}

// ── Redis ────────────────────────────────────────────────────────────────────

const (
	historyKeyPrefix = "yield:history:"
	maxTxRetries     = 16
)

// RedisHistoryStore stores one versioned document per key under
// yield:history:<agent>:<vault>. Updates use WATCH/MULTI.
type RedisHistoryStore struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisHistoryStore(rdb *redis.Client, log *zap.Logger) *RedisHistoryStore {
	return &RedisHistoryStore{rdb: rdb, log: log}
}

func (r *RedisHistoryStore) Load(ctx context.Context, key string) ([]Snapshot, error) {
	return r.get(ctx, r.rdb, historyKeyPrefix+key)
}

func (r *RedisHistoryStore) Update(ctx context.Context, key string, fn func([]Snapshot) ([]Snapshot, error)) error {
	rkey := historyKeyPrefix + key
	txf := func(tx *redis.Tx) error {
		current, err := r.get(ctx, tx, rkey)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		b, err := EncodeHistory(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, b, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, rkey)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("update %s: too much contention", rkey)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisHistoryStore) get(ctx context.Context, c getter, rkey string) ([]Snapshot, error) {
	b, err := c.Get(ctx, rkey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rkey, err)
	}
	history, err := DecodeHistory(b)
	if err != nil {
		r.log.Error("history value unreadable, starting empty", zap.String("key", rkey), zap.Error(err))
		return nil, nil
	}
	return history, nil
}
