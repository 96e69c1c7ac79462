// Package tracks is the audio track database used by the random and
// BPM-matched resync commands. Tracks are imported ahead of time by the
// builder tool and only read at request time.
package tracks

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoMatch = errors.New("no matching tracks")

type Track struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Uploader string `json:"uploader"`
	Platform string `json:"platform"`
	URL      string `json:"url"`
	BPM      int    `json:"bpm"`
}

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a connection pool against the track database.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Init creates the tracks table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tracks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			uploader TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			bpm INTEGER NOT NULL DEFAULT 0
		)`)
	return err
}

// Insert adds a track, ignoring duplicates so imports can be re-run.
func (s *Store) Insert(ctx context.Context, t Track) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracks (id, title, uploader, platform, url, bpm)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Title, t.Uploader, t.Platform, t.URL, t.BPM)
	return err
}

// FindByBPM returns tracks whose tempo fits the target within the given
// tolerance. Half-time and double-time tempos count as matches too, a
// 140 BPM video pairs fine with a 70 BPM track.
func (s *Store) FindByBPM(ctx context.Context, target, tolerance int) ([]Track, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, uploader, platform, url, bpm FROM tracks
		WHERE abs(bpm - $1) <= $2
		   OR abs(bpm - $1 / 2) <= $2
		   OR abs(bpm - $1 * 2) <= $2`,
		target, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.ID, &t.Title, &t.Uploader, &t.Platform, &t.URL, &t.BPM); err != nil {
			return nil, err
		}
		matches = append(matches, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNoMatch
	}
	return matches, nil
}

// Random picks one track for the random resync commands.
func (s *Store) Random(ctx context.Context) (*Track, error) {
	var t Track
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, uploader, platform, url, bpm FROM tracks
		ORDER BY random() LIMIT 1`).Scan(&t.ID, &t.Title, &t.Uploader, &t.Platform, &t.URL, &t.BPM)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Count returns the number of tracks in the database.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tracks`).Scan(&n)
	return n, err
}

func (s *Store) Close() {
	s.pool.Close()
}
