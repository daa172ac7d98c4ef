package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"upgrader/internal/apperrors"

	"github.com/dgraph-io/badger/v4"
)

const runPrefix = "run/"

// BadgerConfig configures the on-disk history store.
type BadgerConfig struct {
	Path       string // Required unless InMemory
	InMemory   bool
	SyncWrites bool
	Limit      int // Runs retained (default 200)
	Logger     *slog.Logger
}

// Badger stores runs in an embedded BadgerDB under run/<id>.
type Badger struct {
	db    *badger.DB
	limit int
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (creating if needed) the history database.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("history path is required for persistent database")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 200
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return &Badger{db: db, limit: cfg.Limit}, nil
}

func (b *Badger) Put(_ context.Context, run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	// Pruning reads every run key, so concurrent writers conflict; retry those.
	for attempt := 0; ; attempt++ {
		err = b.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set([]byte(runPrefix+run.ID), data); err != nil {
				return err
			}
			return b.prune(txn)
		})
		if !errors.Is(err, badger.ErrConflict) || attempt == 4 {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.ID, err)
	}
	return nil
}

// prune deletes everything older than the newest limit runs.
func (b *Badger) prune(txn *badger.Txn) error {
	it := txn.NewIterator(badger.IteratorOptions{
		Reverse:        true,
		Prefix:         []byte(runPrefix),
		PrefetchValues: false,
	})
	defer it.Close()

	var stale [][]byte
	seen := 0
	for it.Seek(seekLast()); it.Valid(); it.Next() {
		seen++
		if seen > b.limit {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
	}
	for _, key := range stale {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Badger) Get(_ context.Context, id string) (Run, error) {
	var run Run
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Run{}, apperrors.NotFound("run", id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

func (b *Badger) List(_ context.Context, limit int) ([]Run, error) {
	runs := make([]Run, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Reverse:        true,
			Prefix:         []byte(runPrefix),
			PrefetchValues: true,
			PrefetchSize:   16,
		})
		defer it.Close()

		for it.Seek(seekLast()); it.Valid(); it.Next() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// seekLast positions a reverse iterator at the last run key.
func seekLast() []byte {
	return append([]byte(runPrefix), 0xff)
}

var _ Store = (*Badger)(nil)
