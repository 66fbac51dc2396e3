// Package postgres provides a PostgreSQL-backed [archive.Store].
//
// Each pipeline run is one archive_channels row; its committed translations
// are archive_utterances rows. Both source text and translation are indexed
// for full-text search.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/babelcall/internal/archive"
)

var (
	_ archive.Store  = (*Store)(nil)
	_ archive.Reader = (*Store)(nil)
)

// ErrNoChannel is returned when a channel row id does not exist.
var ErrNoChannel = fmt.Errorf("archive store: no such channel row: %w", archive.ErrNotFound)

// Store is an archive.Store backed by a [pgxpool.Pool]. All methods are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() { s.pool.Close() }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive store: ping: %w", err)
	}
	return nil
}

// StartChannel implements [archive.Store].
func (s *Store) StartChannel(ctx context.Context, ch archive.Channel) (int64, error) {
	const q = `
		INSERT INTO archive_channels (channel_id, source_lang, target_lang, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q, ch.ChannelID, ch.SourceLang, ch.TargetLang, ch.StartedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("archive store: start channel: %w", err)
	}
	return id, nil
}

// AddUtterance implements [archive.Store].
func (s *Store) AddUtterance(ctx context.Context, id int64, u archive.Utterance) error {
	const q = `
		INSERT INTO archive_utterances (channel_row, source_text, translation, latency_ns, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, q, id, u.SourceText, u.Translation, u.Latency.Nanoseconds(), u.At); err != nil {
		return fmt.Errorf("archive store: add utterance: %w", err)
	}
	return nil
}

// EndChannel implements [archive.Store].
func (s *Store) EndChannel(ctx context.Context, id int64, end archive.End) error {
	const q = `
		UPDATE archive_channels
		SET    ended_at = $2, stop_reason = $3, segments = $4, translations = $5, errors = $6
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, end.EndedAt, end.Reason,
		int64(end.Segments), int64(end.Translations), int64(end.Errors))
	if err != nil {
		return fmt.Errorf("archive store: end channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("archive store: end channel %d: %w", id, ErrNoChannel)
	}
	return nil
}

// Transcript returns the utterances of the channel row id in the order they
// were spoken.
func (s *Store) Transcript(ctx context.Context, id int64) ([]archive.Utterance, error) {
	const q = `
		SELECT source_text, translation, latency_ns, created_at
		FROM   archive_utterances
		WHERE  channel_row = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("archive store: transcript: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Utterance, error) {
		return scanUtterance(row)
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	return out, nil
}

// Search runs a full-text query over source texts and translations, newest
// first. A non-positive limit returns every match.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]archive.Hit, error) {
	q := `
		SELECT c.channel_id, u.channel_row, u.source_text, u.translation, u.latency_ns, u.created_at
		FROM   archive_utterances u
		JOIN   archive_channels   c ON c.id = u.channel_row
		WHERE  to_tsvector('simple', u.source_text || ' ' || u.translation) @@ plainto_tsquery('simple', $1)
		ORDER  BY u.created_at DESC, u.id DESC`
	args := []any{query}
	if limit > 0 {
		q += "\n\t\tLIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive store: search: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Hit, error) {
		var (
			h         archive.Hit
			latencyNS int64
		)
		if err := row.Scan(&h.ChannelID, &h.Row, &h.SourceText, &h.Translation, &latencyNS, &h.At); err != nil {
			return archive.Hit{}, err
		}
		h.Latency = time.Duration(latencyNS)
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	return out, nil
}

func scanUtterance(row pgx.Row) (archive.Utterance, error) {
	var (
		u         archive.Utterance
		latencyNS int64
	)
	if err := row.Scan(&u.SourceText, &u.Translation, &latencyNS, &u.At); err != nil {
		return archive.Utterance{}, err
	}
	u.Latency = time.Duration(latencyNS)
	return u, nil
}
