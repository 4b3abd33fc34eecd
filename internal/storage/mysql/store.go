// Package mysql implements the metadata store on MariaDB/MySQL.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/reinferio/saltfish/internal/storage"
)

// MySQL server error numbers the store maps onto the error taxonomy.
const (
	errDuplicateEntry  = 1062
	errNoReferencedRow = 1452
)

// maxRetries bounds reconnect attempts on connection-level failures
// before the call surfaces storage.ErrConnection.
const maxRetries = 3

// Config holds MariaDB connection configuration.
type Config struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"db" yaml:"db"`
	Username        string        `json:"user" yaml:"user"`
	Password        string        `json:"password" yaml:"password"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            3306,
		Database:        "saltfish",
		Username:        "root",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DSN returns the connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.Username, c.Password, c.Host, c.Port, c.Database,
	)
}

// Store implements storage.MetadataStore using MariaDB.
type Store struct {
	db     *sql.DB
	config Config

	stmts *preparedStatements
}

// preparedStatements holds all prepared SQL statements.
type preparedStatements struct {
	fetchSchema    *sql.Stmt
	createDataset  *sql.Stmt
	deleteDataset  *sql.Stmt
	getByID        *sql.Stmt
	listByUser     *sql.Stmt
	lookupUsername *sql.Stmt
	listByUsername *sql.Stmt
}

// NewStore opens the connection pool, runs migrations and prepares the
// statements.
func NewStore(config Config) (*Store, error) {
	db, err := sql.Open("mysql", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:     db,
		config: config,
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error
	stmts := &preparedStatements{}

	stmts.fetchSchema, err = s.db.Prepare(
		"SELECT source_schema FROM sources WHERE source_id = ?")
	if err != nil {
		return fmt.Errorf("prepare fetchSchema: %w", err)
	}

	stmts.createDataset, err = s.db.Prepare(
		"INSERT INTO sources (source_id, user_id, source_schema, name, private, frozen) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare createDataset: %w", err)
	}

	stmts.deleteDataset, err = s.db.Prepare(
		"DELETE FROM sources WHERE source_id = ?")
	if err != nil {
		return fmt.Errorf("prepare deleteDataset: %w", err)
	}

	stmts.getByID, err = s.db.Prepare(
		"SELECT source_id, user_id, source_schema, name, private, frozen, created, username, email FROM list_sources WHERE source_id = ?")
	if err != nil {
		return fmt.Errorf("prepare getByID: %w", err)
	}

	stmts.listByUser, err = s.db.Prepare(
		"SELECT source_id, user_id, source_schema, name, private, frozen, created, username, email FROM list_sources WHERE user_id = ? ORDER BY created ASC")
	if err != nil {
		return fmt.Errorf("prepare listByUser: %w", err)
	}

	stmts.lookupUsername, err = s.db.Prepare(
		"SELECT id FROM users WHERE username = ?")
	if err != nil {
		return fmt.Errorf("prepare lookupUsername: %w", err)
	}

	stmts.listByUsername, err = s.db.Prepare(
		"SELECT source_id, user_id, source_schema, name, private, frozen, created, username, email FROM list_sources WHERE username = ? ORDER BY created ASC")
	if err != nil {
		return fmt.Errorf("prepare listByUsername: %w", err)
	}

	s.stmts = stmts
	return nil
}

func (s *Store) closeStatements() {
	if s.stmts == nil {
		return
	}
	stmts := []*sql.Stmt{
		s.stmts.fetchSchema,
		s.stmts.createDataset,
		s.stmts.deleteDataset,
		s.stmts.getByID,
		s.stmts.listByUser,
		s.stmts.lookupUsername,
		s.stmts.listByUsername,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// withRetry runs fn, retrying up to maxRetries times when the failure is
// connection-level. After the last attempt it reports
// storage.ErrConnection so callers can map it to a network-error status.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil || !isConnectionError(err) {
			return err
		}
		lastErr = err
		if err := s.db.PingContext(ctx); err != nil && ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %v", storage.ErrConnection, lastErr)
}

func (s *Store) FetchSchema(ctx context.Context, datasetID []byte) ([]byte, error) {
	var blob []byte
	err := s.withRetry(ctx, func() error {
		err := s.stmts.fetchSchema.QueryRowContext(ctx, datasetID).Scan(&blob)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrInvalidDatasetID
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *Store) CreateDataset(ctx context.Context, d *storage.Dataset) error {
	return s.withRetry(ctx, func() error {
		_, err := s.stmts.createDataset.ExecContext(ctx,
			d.ID, d.UserID, d.SchemaBlob, d.Name, d.Private, d.Frozen)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) {
			switch mysqlErr.Number {
			case errDuplicateEntry:
				return storage.ErrDuplicateDatasetName
			case errNoReferencedRow:
				return storage.ErrInvalidUserID
			}
		}
		return err
	})
}

func (s *Store) DeleteDataset(ctx context.Context, datasetID []byte) (int, error) {
	var affected int64
	err := s.withRetry(ctx, func() error {
		res, err := s.stmts.deleteDataset.ExecContext(ctx, datasetID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

func (s *Store) GetDatasetByID(ctx context.Context, datasetID []byte) (*storage.Dataset, error) {
	var d storage.Dataset
	err := s.withRetry(ctx, func() error {
		err := s.stmts.getByID.QueryRowContext(ctx, datasetID).Scan(
			&d.ID, &d.UserID, &d.SchemaBlob, &d.Name, &d.Private,
			&d.Frozen, &d.Created, &d.Username, &d.Email)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrInvalidDatasetID
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDatasetsByUser(ctx context.Context, userID int64) ([]*storage.Dataset, error) {
	var out []*storage.Dataset
	err := s.withRetry(ctx, func() error {
		rows, err := s.stmts.listByUser.QueryContext(ctx, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanDatasets(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetDatasetsByUsername(ctx context.Context, username string) ([]*storage.Dataset, error) {
	var out []*storage.Dataset
	err := s.withRetry(ctx, func() error {
		var userID int64
		err := s.stmts.lookupUsername.QueryRowContext(ctx, username).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrInvalidUsername
		}
		if err != nil {
			return err
		}

		rows, err := s.stmts.listByUsername.QueryContext(ctx, username)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanDatasets(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanDatasets(rows *sql.Rows) ([]*storage.Dataset, error) {
	var out []*storage.Dataset
	for rows.Next() {
		var d storage.Dataset
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.SchemaBlob, &d.Name, &d.Private,
			&d.Frozen, &d.Created, &d.Username, &d.Email); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// isConnectionError reports whether err is a driver or network level
// failure rather than a server-side error with an error number.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrInvalidDatasetID) ||
		errors.Is(err, storage.ErrInvalidUserID) ||
		errors.Is(err, storage.ErrInvalidUsername) ||
		errors.Is(err, storage.ErrDuplicateDatasetName) ||
		errors.Is(err, sql.ErrNoRows) {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		// Server responded; the statement failed for a logical reason.
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Close closes the statements and the connection pool.
func (s *Store) Close() error {
	s.closeStatements()
	return s.db.Close()
}

// IsHealthy returns true if the database connection is healthy.
func (s *Store) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// Stats returns connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

var _ storage.MetadataStore = (*Store)(nil)
