package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	schemaCredentials = `CREATE TABLE IF NOT EXISTS credentials (
		namespace  TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	schemaMeta = `CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`

	saltKey = "sealer_salt"

	// Store calls are synchronous, a slow disk must not stall a request forever
	storeTimeout = 5 * time.Second
)

// OpenSQLite opens (creating if needed) the credential database at path
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.Wrap(err, "[OpenSQLite] creating database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "[OpenSQLite] sql.Open")
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		schemaCredentials,
		schemaMeta,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "[OpenSQLite] %s", stmt)
		}
	}
	return db, nil
}

// SealerForDB returns a Sealer keyed by passphrase and the salt kept in the
// database, generating and saving the salt on first use.
func SealerForDB(db *sql.DB, passphrase string) (*Sealer, error) {
	var salt []byte
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, saltKey).Scan(&salt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if salt, err = NewSalt(); err != nil {
			return nil, err
		}
		if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, saltKey, salt); err != nil {
			return nil, errors.Wrap(err, "[SealerForDB] saving salt")
		}
	case err != nil:
		return nil, errors.Wrap(err, "[SealerForDB] loading salt")
	}
	return NewSealer(passphrase, salt)
}

// SQLiteStore persists one namespace's credential as a single row, so every
// Set is one atomic upsert.
type SQLiteStore[T Record] struct {
	db        *sql.DB
	namespace string
	sealer    *Sealer
	logger    zerolog.Logger
	nowTime   func() time.Time
}

var _ Store[PatientCredential] = (*SQLiteStore[PatientCredential])(nil)

// SQLiteOption configures a SQLiteStore
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	sealer  *Sealer
	logger  zerolog.Logger
	nowTime func() time.Time
}

// WithSealer encrypts records at rest
func WithSealer(s *Sealer) SQLiteOption {
	return func(o *sqliteOptions) {
		o.sealer = s
	}
}

func WithLogger(l zerolog.Logger) SQLiteOption {
	return func(o *sqliteOptions) {
		o.logger = l
	}
}

// WithNowTime sets the clock used for updated_at (primarily for testing)
func WithNowTime(nowFunc func() time.Time) SQLiteOption {
	return func(o *sqliteOptions) {
		o.nowTime = nowFunc
	}
}

// NewSQLiteStore creates a store for namespace backed by db
func NewSQLiteStore[T Record](db *sql.DB, namespace string, options ...SQLiteOption) (*SQLiteStore[T], error) {
	if db == nil {
		return nil, errors.New("[NewSQLiteStore] db is required")
	}
	if namespace == "" {
		return nil, errors.New("[NewSQLiteStore] namespace is required")
	}

	opts := sqliteOptions{logger: log.Logger, nowTime: time.Now}
	for _, opt := range options {
		opt(&opts)
	}

	return &SQLiteStore[T]{
		db:        db,
		namespace: namespace,
		sealer:    opts.sealer,
		logger:    opts.logger.With().Str("namespace", namespace).Logger(),
		nowTime:   opts.nowTime,
	}, nil
}

func (s *SQLiteStore[T]) Get() (*T, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM credentials WHERE namespace = ?`, s.namespace).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn().Err(ierrors.Mark(err, ierrors.ErrStoreUnavailable)).Msg("credential read failed, treating as absent")
		return nil, false
	}

	if s.sealer != nil {
		if payload, err = s.sealer.Open(payload); err != nil {
			s.logger.Warn().Err(err).Msg("credential could not be unsealed, treating as absent")
			return nil, false
		}
	}

	var record T
	if err := json.Unmarshal(payload, &record); err != nil {
		s.logger.Warn().Err(err).Msg("credential could not be decoded, treating as absent")
		return nil, false
	}
	if !record.Complete() {
		return nil, false
	}
	return &record, true
}

func (s *SQLiteStore[T]) Set(credential T) {
	if !credential.Complete() {
		s.Clear()
		return
	}

	payload, err := json.Marshal(credential)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential could not be encoded")
		s.Clear()
		return
	}
	if s.sealer != nil {
		if payload, err = s.sealer.Seal(payload); err != nil {
			s.logger.Warn().Err(err).Msg("credential could not be sealed")
			s.Clear()
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `INSERT INTO credentials (namespace, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.namespace, payload, s.nowTime().Unix())
	if err != nil {
		// The previous record may still be there. Clear it so a failed write
		// doesn't leave a stale session behind.
		s.logger.Warn().Err(ierrors.Mark(err, ierrors.ErrStoreUnavailable)).Msg("credential write failed")
		s.Clear()
	}
}

func (s *SQLiteStore[T]) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE namespace = ?`, s.namespace); err != nil {
		s.logger.Warn().Err(ierrors.Mark(err, ierrors.ErrStoreUnavailable)).Msg("credential clear failed")
	}
}
