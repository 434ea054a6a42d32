package replaycatalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Row is one bundle as stored in the index.
type Row struct {
	Dir         string `json:"dir"`
	GameID      string `json:"game_id"`
	CreatedAt   string `json:"created_at"`
	Complete    bool   `json:"complete"`
	Events      int    `json:"events"`
	Matches     int    `json:"matches"`
	Rounds      int32  `json:"rounds"`
	Winner      int32  `json:"winner"`
	SpecVersion string `json:"spec_version,omitempty"`
}

// Filter narrows a bundle query. Zero values match everything.
type Filter struct {
	GameID       string
	CompleteOnly bool
	Winner       int32
}

// Index is a SQLite mirror of a bundle directory.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates the index database at path.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bundles (
			dir TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			complete INTEGER NOT NULL,
			events INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			winner INTEGER NOT NULL,
			spec_version TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			dir TEXT NOT NULL REFERENCES bundles(dir) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			map_name TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			winner INTEGER NOT NULL,
			finished INTEGER NOT NULL,
			PRIMARY KEY (dir, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS bundles_game_id ON bundles(game_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Sync replaces the index contents with entries in one transaction. Bundles
// no longer on disk are dropped.
func (x *Index) Sync(ctx context.Context, entries []Entry) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bundles;`); err != nil {
		return err
	}
	bundleStmt, err := tx.PrepareContext(ctx, `INSERT INTO bundles(dir, game_id, created_at, complete, events, rounds, winner, spec_version)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer bundleStmt.Close()
	matchStmt, err := tx.PrepareContext(ctx, `INSERT INTO matches(dir, idx, map_name, rounds, winner, finished)
		VALUES(?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer matchStmt.Close()

	for _, entry := range entries {
		var winner int32
		var specVersion string
		if entry.Header != nil {
			winner, specVersion = entry.Header.Winner, entry.Header.SpecVersion
		}
		m := entry.Manifest
		if _, err := bundleStmt.ExecContext(ctx, entry.Dir, m.GameID, m.CreatedAt, boolInt(m.Complete), m.Events, entry.Rounds(), winner, specVersion); err != nil {
			return fmt.Errorf("index %s: %w", entry.Dir, err)
		}
		for i, played := range m.Matches {
			if _, err := matchStmt.ExecContext(ctx, entry.Dir, i, played.MapName, played.Rounds, played.Winner, boolInt(played.Finished)); err != nil {
				return fmt.Errorf("index %s match %d: %w", entry.Dir, i, err)
			}
		}
	}
	return tx.Commit()
}

// Bundles returns indexed bundles matching filter, oldest first.
func (x *Index) Bundles(ctx context.Context, filter Filter) ([]Row, error) {
	query := `SELECT b.dir, b.game_id, b.created_at, b.complete, b.events,
			(SELECT COUNT(*) FROM matches m WHERE m.dir = b.dir), b.rounds, b.winner, b.spec_version
		FROM bundles b WHERE 1=1`
	var args []any
	if filter.GameID != "" {
		query += ` AND b.game_id = ?`
		args = append(args, filter.GameID)
	}
	if filter.CompleteOnly {
		query += ` AND b.complete = 1`
	}
	if filter.Winner != 0 {
		query += ` AND b.winner = ?`
		args = append(args, filter.Winner)
	}
	query += ` ORDER BY b.created_at, b.dir;`

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		var complete int
		if err := rows.Scan(&row.Dir, &row.GameID, &row.CreatedAt, &complete, &row.Events, &row.Matches, &row.Rounds, &row.Winner, &row.SpecVersion); err != nil {
			return nil, err
		}
		row.Complete = complete != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

// MapPlays counts recorded matches per map name.
func (x *Index) MapPlays(ctx context.Context) (map[string]int, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT map_name, COUNT(*) FROM matches GROUP BY map_name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		out[name] = count
	}
	return out, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
