package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "result\x00"

// BadgerStore keeps results in an embedded key-value store, one JSON value
// per unit key.
type BadgerStore struct {
	db *badger.DB
}

// #region constructor
// NewBadgerStore opens (or creates) a Badger directory. An empty dir opens
// an in-memory store.
func NewBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create results directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithSyncWrites(true).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// #endregion constructor

// encodeKey orders the components so one scope shares a key prefix up to
// the dataset.
func encodeKey(k Key) []byte {
	return fmt.Appendf(scopePrefix(k.Evaluation, k.Paradigm, k.Dataset), "%d\x00%s\x00%s\x00%g\x00%d",
		k.Subject, k.Session, k.Pipeline, k.DataSize, k.Permutation)
}

func scopePrefix(evaluation, paradigm, dataset string) []byte {
	return fmt.Appendf([]byte(keyPrefix), "%s\x00%s\x00%s\x00", evaluation, paradigm, dataset)
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// #region exists
func (s *BadgerStore) Exists(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(encodeKey(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get result %s: %w", key, err)
	}
	return true, nil
}

// #endregion exists

// #region append
func (s *BadgerStore) Append(ctx context.Context, e Entry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := e.Validate(); err != nil {
		return false, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("%w %s: %v", ErrInvalidEntry, e.Key, err)
	}
	added := false
	err = s.db.Update(func(txn *badger.Txn) error {
		k := encodeKey(e.Key)
		_, err := txn.Get(k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		added = true
		return txn.Set(k, val)
	})
	if err != nil {
		return false, fmt.Errorf("append result %s: %w", e.Key, err)
	}
	return added, nil
}

// #endregion append

// #region scan
func (s *BadgerStore) scan(prefix []byte, fn func(k []byte, e Entry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var e Entry
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return fmt.Errorf("decode %q: %w", item.Key(), err)
			}
			if err := fn(item.KeyCopy(nil), e); err != nil {
				return err
			}
		}
		return nil
	})
}

// All returns entries sorted by key rather than insertion order.
func (s *BadgerStore) All(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Entry
	err := s.scan([]byte(keyPrefix), func(_ []byte, e Entry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, scope Scope) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefix := scopePrefix(scope.Evaluation, scope.Paradigm, scope.Dataset)
	var doomed [][]byte
	err := s.scan(prefix, func(k []byte, e Entry) error {
		if e.Key.Pipeline == scope.Pipeline {
			doomed = append(doomed, k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan results: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete results: %w", err)
	}
	return len(doomed), nil
}

// #endregion scan
