// Package badger implements the storage ports on an embedded BadgerDB for
// single-node deployments that want durability without PostgreSQL.
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Strob0t/LaunchLoop/internal/config"
)

const (
	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// slogLogger adapts slog to badger's Logger interface. Badger's info output
// is demoted to debug.
type slogLogger struct{}

func (slogLogger) Errorf(format string, args ...any) {
	slog.Error("badger: " + fmt.Sprintf(format, args...))
}

func (slogLogger) Warningf(format string, args ...any) {
	slog.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (slogLogger) Infof(format string, args ...any) {
	slog.Debug("badger: " + fmt.Sprintf(format, args...))
}

func (slogLogger) Debugf(format string, args ...any) {
	slog.Debug("badger: " + fmt.Sprintf(format, args...))
}

// Open opens the database described by cfg and starts value log GC for
// on-disk databases. Close the returned store to stop both.
func Open(cfg config.Badger) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(slogLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	s, err := newStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC()
	}
	return s, nil
}

func (s *Store) runGC() {
	defer close(s.gcDone)
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite only means there was nothing to collect.
			if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("badger value log gc failed", "error", err)
			}
		}
	}
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	if err := s.eventSeq.Release(); err != nil {
		slog.Warn("badger release event sequence", "error", err)
	}
	return s.db.Close()
}
