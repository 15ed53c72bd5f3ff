package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/akash-ravi/pomegranate-app/internal/faults"
)

// DefaultLocation is stored when a submission carries no location.
const DefaultLocation = "unknown"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS history (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	imagePath TEXT NOT NULL,
	type      TEXT,
	location  TEXT DEFAULT 'unknown',
	time      INTEGER
)`

const recordColumns = "id, imagePath, type, location, time"

// Record is one persisted classification event.
type Record struct {
	ID        int64  `json:"id" yaml:"id" parquet:"id"`
	ImagePath string `json:"imagePath" yaml:"imagePath" parquet:"imagePath"`
	Type      string `json:"type" yaml:"type" parquet:"type"`
	Location  string `json:"location" yaml:"location" parquet:"location"`
	// Time is milliseconds since the Unix epoch.
	Time int64 `json:"time" yaml:"time" parquet:"time"`
}

// Store persists history records in SQLite.
type Store struct {
	db   *sql.DB
	path string

	// writeMu serializes inserts and deletes so assigned ids stay unique and
	// increasing even with concurrent callers.
	writeMu sync.Mutex
}

// Open connects to the database at path. The schema is not created until
// InitSchema runs.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, faults.Wrap(faults.KindSchema, "open history", eris.Wrap(err, "open sqlite db"))
	}
	// One connection keeps the per-connection pragmas below in effect.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, faults.Wrap(faults.KindSchema, "open history", eris.Wrapf(execErr, "apply pragma %q", pragma))
		}
	}

	return &Store{db: db, path: path}, nil
}

// OpenAndInit opens the database and ensures the schema exists.
func OpenAndInit(ctx context.Context, path string) (*Store, error) {
	store, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// InitSchema creates the history table when absent. Calling it repeatedly is
// harmless.
func (s *Store) InitSchema(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schemaSQL)
		return err
	})
	return faults.Wrap(faults.KindSchema, "init schema", err)
}

// Insert stores rec and returns the assigned id. rec.ID is ignored.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	if rec.Location == "" {
		rec.Location = DefaultLocation
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO history (imagePath, type, location, time) VALUES (?, ?, ?, ?)`,
			rec.ImagePath,
			rec.Type,
			rec.Location,
			rec.Time,
		)
		if err != nil {
			return eris.Wrap(err, "insert record")
		}
		id, err = res.LastInsertId()
		return eris.Wrap(err, "last insert id")
	})
	if err != nil {
		return 0, faults.Wrap(faults.KindInsert, "insert history", err)
	}
	return id, nil
}

// ListAll returns every record in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns+` FROM history ORDER BY id`)
		if err != nil {
			return eris.Wrap(err, "query history")
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindQuery, "list history", err)
	}
	return records, nil
}

// Get fetches one record. It returns (nil, nil) when the id is unknown.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM history WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindQuery, "get history", err)
	}
	return &rec, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM history`).Scan(&count); err != nil {
		return 0, faults.Wrap(faults.KindQuery, "count history", err)
	}
	return count, nil
}

// Delete removes the record with id. Unknown ids are not an error; the
// returned bool reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var affected int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
		if err != nil {
			return eris.Wrap(err, "delete record")
		}
		affected, err = res.RowsAffected()
		return eris.Wrap(err, "rows affected")
	})
	if err != nil {
		return false, faults.Wrap(faults.KindDelete, "delete history", err)
	}
	return affected > 0, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit tx")
	}
	return nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec      Record
		label    sql.NullString
		location sql.NullString
		when     sql.NullInt64
	)
	if err := scanner.Scan(&rec.ID, &rec.ImagePath, &label, &location, &when); err != nil {
		return Record{}, err
	}
	rec.Type = label.String
	rec.Location = location.String
	rec.Time = when.Int64
	return rec, nil
}

// String renders a short description used in logs and CLI output.
func (r Record) String() string {
	return fmt.Sprintf("#%d %s (%s)", r.ID, r.Type, r.ImagePath)
}
