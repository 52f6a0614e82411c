package artifactstore

import (
	"context"
	"os"

	"github.com/dgraph-io/badger/v4"

	"sleepdx/internal/adapters/config"
	"sleepdx/pkg/errors"
	"sleepdx/pkg/logger"
)

// BadgerStore keeps blobs in an embedded Badger database. It serves both as a
// standalone backend and as the local cache in front of a remote store.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger routes Badger's internal logging through zap
type badgerLogger struct {
	log *logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// OpenBadgerStore opens or creates the database
func OpenBadgerStore(cfg config.BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.Wrap(errors.ErrInvalidInput, "badger dir is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, errors.Wrapf(err, "create badger dir %s", cfg.Dir)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: logger.Get().With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger database")
	}
	return &BadgerStore{db: db}, nil
}

// Name implements Store
func (s *BadgerStore) Name() string { return "badger" }

// Get implements Store
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(clean))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.Wrapf(errors.ErrNotFound, "badger key %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "badger get %s", key)
	}
	return data, nil
}

// Put implements Store; each write is its own transaction
func (s *BadgerStore) Put(ctx context.Context, key string, data []byte) error {
	clean, err := CleanKey(key)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(clean), data)
	})
	return errors.Wrapf(err, "badger put %s", key)
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
