// Package store persists the knowledge corpus, session transcripts, and
// compiled reports in SQLite. Retrieval is keyword-first with an optional
// embedding rerank when an engine is configured.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"formcoach/internal/embedding"
	"formcoach/internal/logging"
)

// LocalStore wraps one SQLite database holding knowledge atoms, session
// history, and reports. All access is serialized through an RWMutex plus
// a single connection, the safe configuration for modernc sqlite.
type LocalStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	dbPath   string
	embedder embedding.EmbeddingEngine // optional, enables semantic rerank
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is a large write speedup and WAL already provides
	// crash recovery
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore initialization complete")
	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	atomsTable := `
	CREATE TABLE IF NOT EXISTS knowledge_atoms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		concept TEXT NOT NULL,
		content TEXT NOT NULL,
		source TEXT,
		confidence REAL DEFAULT 1.0,
		tags TEXT,
		embedding TEXT,
		content_hash TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(category, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_atoms_category ON knowledge_atoms(category);
	CREATE INDEX IF NOT EXISTS idx_atoms_concept ON knowledge_atoms(concept);
	`

	// UNIQUE(conversation_id, turn_number) keeps replays idempotent
	historyTable := `
	CREATE TABLE IF NOT EXISTS session_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		content TEXT NOT NULL,
		field_tag TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(conversation_id, turn_number)
	);
	CREATE INDEX IF NOT EXISTS idx_history_conversation ON session_history(conversation_id);
	`

	reportsTable := `
	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		report_md TEXT NOT NULL,
		stages_executed INTEGER DEFAULT 0,
		partial BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_reports_conversation ON reports(conversation_id);
	`

	for _, table := range []string{atomsTable, historyTable, reportsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// SetEmbeddingEngine enables semantic rerank for SearchAtoms. Safe to call
// with nil to disable.
func (s *LocalStore) SetEmbeddingEngine(engine embedding.EmbeddingEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = engine
	if engine != nil {
		logging.Store("Embedding engine attached: %s", engine.Name())
	}
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	logging.Store("Closing LocalStore database connection")
	return s.db.Close()
}

// Stats returns row counts per table.
func (s *LocalStore) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"knowledge_atoms", "session_history", "reports"} {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
