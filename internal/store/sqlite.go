package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable, user-scoped home of VectorRecords, backed by SQLite.
// All mutation goes through Upsert and DeleteUser; nothing else in the
// system writes vectors. A single connection plus transactional deletes
// gives readers snapshot-or-empty semantics: a scan started before a clear
// sees either the pre-clear rows or none, never a partial mix.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the index database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", ErrStorage, err)
		}
		dsn = filepath.Join(dataDir, "agrindex.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStorage, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrStorage, err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: setting busy timeout: %v", ErrStorage, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: setting journal mode: %v", ErrStorage, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", ErrStorage, err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// Upsert inserts a record or overwrites the existing one with the same
// (user, id). Re-indexing a document therefore replaces its vector; a stale
// embedding can never survive a text change that goes through the pipeline.
func (s *Store) Upsert(rec VectorRecord) error {
	if rec.ID == "" || rec.Metadata.UserID == "" {
		return fmt.Errorf("%w: record requires id and userId", ErrStorage)
	}

	indexedAt := rec.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}
	createdAt := rec.Metadata.CreatedAt
	if createdAt.IsZero() {
		createdAt = indexedAt
	}

	_, err := s.db.Exec(`
		INSERT INTO vector_records (id, user_id, doc_type, title, text, county_fips, crop_type, embedding, model, created_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			doc_type = excluded.doc_type,
			title = excluded.title,
			text = excluded.text,
			county_fips = excluded.county_fips,
			crop_type = excluded.crop_type,
			embedding = excluded.embedding,
			model = excluded.model,
			created_at = excluded.created_at,
			indexed_at = excluded.indexed_at`,
		rec.ID, rec.Metadata.UserID, string(rec.Metadata.Type), rec.Metadata.Title,
		rec.Text, rec.Metadata.CountyFIPS, rec.Metadata.CropType,
		encodeFloat32s(rec.Embedding), rec.Model,
		createdAt.UTC().Format(time.RFC3339), indexedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: upserting record %s: %v", ErrStorage, rec.ID, err)
	}
	return nil
}

// GetAll returns every record for a user. No ordering guarantee.
func (s *Store) GetAll(userID string) ([]VectorRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, doc_type, title, text, county_fips, crop_type, embedding, model, created_at, indexed_at
		FROM vector_records WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying records: %v", ErrStorage, err)
	}
	defer rows.Close()

	var records []VectorRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating records: %v", ErrStorage, err)
	}
	return records, nil
}

// Get returns one record by (user, id).
func (s *Store) Get(userID, id string) (VectorRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, doc_type, title, text, county_fips, crop_type, embedding, model, created_at, indexed_at
		FROM vector_records WHERE user_id = ? AND id = ?`, userID, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return VectorRecord{}, ErrNotFound
	}
	if err != nil {
		return VectorRecord{}, err
	}
	return rec, nil
}

// DeleteUser removes all records for a user (full index clear). The delete
// runs in a single transaction on the single connection, so a concurrent
// GetAll observes either all pre-clear rows or none.
func (s *Store) DeleteUser(userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: beginning clear transaction: %v", ErrStorage, err)
	}
	if _, err := tx.Exec("DELETE FROM vector_records WHERE user_id = ?", userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: clearing index for %s: %v", ErrStorage, userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing clear: %v", ErrStorage, err)
	}
	return nil
}

// Stats reports the document count, estimated serialized size, and the most
// recent createdAt across a user's records.
func (s *Store) Stats(userID string) (Stats, error) {
	var st Stats
	var size sql.NullInt64
	var last sql.NullString
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       SUM(LENGTH(id) + LENGTH(doc_type) + LENGTH(title) + LENGTH(text) + LENGTH(county_fips) + LENGTH(crop_type) + LENGTH(embedding) + LENGTH(model)),
		       MAX(created_at)
		FROM vector_records WHERE user_id = ?`, userID).Scan(&st.TotalDocuments, &size, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: computing stats: %v", ErrStorage, err)
	}
	if size.Valid {
		st.TotalSize = size.Int64
	}
	if last.Valid && last.String != "" {
		t, err := time.Parse(time.RFC3339, last.String)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: parsing last created_at: %v", ErrStorage, err)
		}
		st.LastUpdated = t
	}
	return st, nil
}

// Count returns the number of records across all users.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM vector_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting records: %v", ErrStorage, err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (VectorRecord, error) {
	var rec VectorRecord
	var docType, createdAt, indexedAt string
	var blob []byte
	err := row.Scan(&rec.ID, &rec.Metadata.UserID, &docType, &rec.Metadata.Title,
		&rec.Text, &rec.Metadata.CountyFIPS, &rec.Metadata.CropType,
		&blob, &rec.Model, &createdAt, &indexedAt)
	if err == sql.ErrNoRows {
		return VectorRecord{}, err
	}
	if err != nil {
		return VectorRecord{}, fmt.Errorf("%w: scanning record: %v", ErrStorage, err)
	}
	rec.Metadata.Type = DocumentType(docType)
	rec.Embedding, err = decodeFloat32s(blob)
	if err != nil {
		return VectorRecord{}, fmt.Errorf("%w: decoding embedding for %s: %v", ErrStorage, rec.ID, err)
	}
	if rec.Metadata.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return VectorRecord{}, fmt.Errorf("%w: parsing created_at for %s: %v", ErrStorage, rec.ID, err)
	}
	if rec.IndexedAt, err = time.Parse(time.RFC3339, indexedAt); err != nil {
		return VectorRecord{}, fmt.Errorf("%w: parsing indexed_at for %s: %v", ErrStorage, rec.ID, err)
	}
	return rec, nil
}
