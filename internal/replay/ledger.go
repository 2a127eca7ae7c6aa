package replay

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ledgerSchema holds one statement per schema version. The database's
// user_version records how many have been applied.
var ledgerSchema = []string{
	`CREATE TABLE recordings (
		path        TEXT PRIMARY KEY,
		size        INTEGER NOT NULL,
		sha256      TEXT NOT NULL,
		session_id  TEXT NOT NULL,
		goal        INTEGER NOT NULL,
		reps        INTEGER NOT NULL,
		reason      TEXT NOT NULL,
		reward      INTEGER NOT NULL,
		frames      INTEGER NOT NULL,
		replayed_at INTEGER NOT NULL
	)`,
	`CREATE INDEX recordings_replayed_at ON recordings (replayed_at)`,
}

// Fingerprint identifies the content of a recording file.
type Fingerprint struct {
	Size   int64
	SHA256 string
}

// Entry is the ledger row for one recording and the session it produced.
type Entry struct {
	Path string
	Fingerprint
	SessionID  string
	Goal       int
	Reps       int
	Reason     string
	Reward     int64
	Frames     int
	ReplayedAt time.Time
}

// Ledger remembers which recordings were sent to the server and what each
// session earned, so unchanged recordings are not replayed twice.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger at dir/ledger.db and brings its
// schema up to date.
func OpenLedger(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger dir %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "ledger.db"))
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := migrateLedger(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func migrateLedger(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading ledger version: %w", err)
	}
	for v := version; v < len(ledgerSchema); v++ {
		if _, err := db.Exec(ledgerSchema[v]); err != nil {
			return fmt.Errorf("ledger migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			return fmt.Errorf("ledger migration %d: %w", v+1, err)
		}
	}
	return nil
}

// Lookup returns the entry for a recording path, or nil when the path was
// never replayed.
func (l *Ledger) Lookup(relPath string) (*Entry, error) {
	rows, err := l.query(`WHERE path = ?`, relPath)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// Replayed reports whether the recording at relPath was already sent with
// the same content.
func (l *Ledger) Replayed(relPath string, fp Fingerprint) (bool, error) {
	e, err := l.Lookup(relPath)
	if err != nil || e == nil {
		return false, err
	}
	return e.Fingerprint == fp, nil
}

// Record stores the outcome of a replayed recording, replacing any earlier
// entry for the same path.
func (l *Ledger) Record(e Entry) error {
	if e.ReplayedAt.IsZero() {
		e.ReplayedAt = time.Now()
	}
	_, err := l.db.Exec(
		`INSERT INTO recordings (path, size, sha256, session_id, goal, reps, reason, reward, frames, replayed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET
		   size = excluded.size, sha256 = excluded.sha256, session_id = excluded.session_id,
		   goal = excluded.goal, reps = excluded.reps, reason = excluded.reason,
		   reward = excluded.reward, frames = excluded.frames, replayed_at = excluded.replayed_at`,
		e.Path, e.Size, e.SHA256, e.SessionID, e.Goal, e.Reps, e.Reason, e.Reward, e.Frames,
		e.ReplayedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Path, err)
	}
	return nil
}

// History returns up to limit entries, most recently replayed first. A limit
// below one returns every entry.
func (l *Ledger) History(limit int) ([]Entry, error) {
	if limit < 1 {
		return l.query(`ORDER BY replayed_at DESC, path`)
	}
	return l.query(`ORDER BY replayed_at DESC, path LIMIT ?`, limit)
}

func (l *Ledger) query(tail string, args ...any) ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT path, size, sha256, session_id, goal, reps, reason, reward, frames, replayed_at
		 FROM recordings `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.Path, &e.Size, &e.SHA256, &e.SessionID, &e.Goal, &e.Reps,
			&e.Reason, &e.Reward, &e.Frames, &at); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		e.ReplayedAt = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// FingerprintFile computes the size and SHA-256 of a recording in one read.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Fingerprint{Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
