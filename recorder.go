package iiwa_guard

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// Recorder stores demo iterations in a sqlite file. Writes are queued to a
// single writer goroutine and dropped when it falls behind.
type Recorder struct {
	db *sql.DB

	ch   chan IterationResult
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	lastErr atomic.Value
}

// OpenRecorder creates (or appends to) the sqlite file at path.
func OpenRecorder(path string) (*Recorder, error) {
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

	if err := initRecorderSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := &Recorder{
		db: db,
		ch: make(chan IterationResult, 4096),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
	return r, nil
}

func initRecorderSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS steps (
			step INTEGER NOT NULL,
			sim_time REAL NOT NULL,
			q_json TEXT NOT NULL,
			distances_json TEXT NOT NULL,
			min_distance REAL NOT NULL,
			margin REAL NOT NULL,
			in_collision INTEGER NOT NULL,
			applied INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_steps_collision ON steps(in_collision, step);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Record queues one iteration. It never blocks the demo loop.
func (r *Recorder) Record(res IterationResult) error {
	if r == nil || r.closed.Load() {
		return nil
	}
	select {
	case r.ch <- res:
	default:
		r.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many iterations were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) loop() {
	for res := range r.ch {
		if err := r.insert(res); err != nil {
			r.lastErr.Store(err)
		}
	}
}

func (r *Recorder) insert(res IterationResult) error {
	q, err := json.Marshal(res.Q)
	if err != nil {
		return err
	}
	d, err := json.Marshal(res.Distances)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`INSERT INTO steps (step, sim_time, q_json, distances_json, min_distance, margin, in_collision, applied)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Step, res.SimTime, string(q), string(d), minDistance(res.Distances), res.Margin,
		boolToInt(res.InCollision), boolToInt(res.Applied),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close flushes queued rows and closes the database. It returns the last write
// error, if any.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		r.closed.Store(true)
		close(r.ch)
		r.wg.Wait()
		if last, ok := r.lastErr.Load().(error); ok {
			err = last
		}
		if cerr := r.db.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

// CountSteps returns the number of recorded rows, optionally only colliding ones.
func (r *Recorder) CountSteps(onlyCollisions bool) (int, error) {
	q := "SELECT COUNT(*) FROM steps"
	if onlyCollisions {
		q += " WHERE in_collision = 1"
	}
	var n int
	if err := r.db.QueryRow(q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
