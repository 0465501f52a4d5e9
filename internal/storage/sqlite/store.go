package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/relves/splitescrow/internal/storage"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Ensure Store implements StateStore at compile time.
var _ storage.StateStore = (*Store)(nil)

// Store is the persistent record store. All records of the ledger live in a
// single database so one SQL transaction covers an entire instruction.
type Store struct {
	db     *sql.DB
	dbPath string

	// writers serializes transactions; SQLite allows one writer anyway and
	// deferred transactions that upgrade to write locks can deadlock.
	writers sync.Mutex
}

// Open opens or creates the ledger database under basePath.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(basePath, "ledger.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+ // Balance safety/speed (FULL is slower, OFF risks corruption)
		"&_pragma=wal_autocheckpoint(1000)") // Checkpoint every 1000 pages to prevent WAL accumulation
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DBPath() string {
	return s.dbPath
}

// Begin starts a transaction. It blocks while another transaction is open.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	s.writers.Lock()
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writers.Unlock()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &tx{tx: sqlTx, release: s.writers.Unlock}, nil
}

// Datastore returns a go-datastore view over the blocks table.
func (s *Store) Datastore() *Datastore {
	return &Datastore{db: s.db}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
