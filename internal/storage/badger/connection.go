// Package badger implements the status cache gateway
// (§4.B Status cache gateway) over Badger via badgerhold.
package badger

import (
	"fmt"
	"os"
	"path/filepath"

	badgerv4 "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
)

// DB manages the Badger database connection backing the status cache.
type DB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// Open creates or opens the status cache database.
func Open(logger arbor.ILogger, config *common.BadgerConfig) (*DB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("deleting existing status cache (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("failed to delete status cache directory")
			}
		}
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create status cache directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // disable badger's own logger in favor of arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open status cache: %w", err)
	}

	logger.Info().Str("path", config.Path).Msg("status cache initialized")
	return &DB{store: store, logger: logger, config: config}, nil
}

// Store returns the underlying badgerhold store.
func (d *DB) Store() *badgerhold.Store { return d.store }

// Raw returns the underlying *badger.DB for callers that need hand-rolled
// transactions - the set-if-absent primitive can't be expressed through
// badgerhold's typed Get/Upsert, which always overwrites.
func (d *DB) Raw() *badgerv4.DB { return d.store.Badger() }

func (d *DB) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
