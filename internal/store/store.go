package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
)

// Key is the fixed key the current token is stored under.
const Key = "spotify_token"

// ErrNotFound is returned by a [Backend] when the key holds no value.
var ErrNotFound = errors.New("key not found")

// Store persists the current token record. Implementations do not validate records.
type Store interface {
	Save(rec token.Record) error
	// Load returns the stored record, or false when there is none or it cannot be read.
	Load() (*token.Record, bool)
	Clear() error
}

// Backend is a byte-oriented key-value store.
type Backend interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// KV is a [Store] that writes the JSON-encoded record under [Key] in a [Backend], optionally sealed.
type KV struct {
	backend Backend
	sealer  *Sealer
	logger  *log.Logger
}

// Option configures a [KV].
type Option func(*KV)

// WithSealer encrypts values at rest.
func WithSealer(s *Sealer) Option {
	return func(kv *KV) { kv.sealer = s }
}

// WithLogger sets the logger used to report unreadable values.
func WithLogger(l *log.Logger) Option {
	return func(kv *KV) { kv.logger = l }
}

// New creates a [KV] store over backend.
func New(backend Backend, opts ...Option) *KV {
	kv := &KV{backend: backend, logger: shared.DiscardLogger()}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

// Save encodes rec and writes it under [Key].
func (s *KV) Save(rec token.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if s.sealer != nil {
		if data, err = s.sealer.Seal(data); err != nil {
			return err
		}
	}

	if err := s.backend.Put(Key, data); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Load reads the record under [Key]. Read, unseal and decode failures all report no record.
func (s *KV) Load() (*token.Record, bool) {
	data, err := s.backend.Get(Key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("failed to read token", "error", err)
		}
		return nil, false
	}

	if s.sealer != nil {
		if data, err = s.sealer.Open(data); err != nil {
			s.logger.Debug("failed to unseal token", "error", err)
			return nil, false
		}
	}

	var rec token.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Debug("failed to decode token", "error", err)
		return nil, false
	}

	if rec.IsError() {
		return nil, false
	}
	return &rec, true
}

// Clear removes the stored record. Clearing an empty store is not an error.
func (s *KV) Clear() error {
	if err := s.backend.Delete(Key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// Open builds the [Store] selected by config. db is only used by the sqlite driver.
func Open(config shared.StorageConfig, db *sql.DB, logger *log.Logger) (Store, error) {
	opts := []Option{WithLogger(logger)}
	if config.Secret != "" {
		opts = append(opts, WithSealer(NewSealer(config.Secret)))
	}

	switch config.Driver {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("%w: sqlite storage requires a database", shared.ErrInvalidConfig)
		}
		return New(NewSQLiteBackend(db), opts...), nil
	case "file":
		if config.Path == "" {
			return nil, fmt.Errorf("%w: file storage requires a path", shared.ErrInvalidConfig)
		}
		return New(NewFileBackend(config.Path), opts...), nil
	case "memory":
		return New(NewMemoryBackend(), opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", shared.ErrInvalidConfig, config.Driver)
	}
}
