// Package mock provides an in-memory test double for archive.Store and
// archive.Reader.
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/babelcall/internal/archive"
)

// Row is one archived channel with its utterances.
type Row struct {
	Channel    archive.Channel
	Utterances []archive.Utterance
	End        *archive.End
}

// Store is a mock implementation of archive.Store. Error fields, when
// non-nil, are returned by the corresponding method.
type Store struct {
	mu sync.Mutex

	StartErr error
	AddErr   error
	EndErr   error
	ReadErr  error

	// Block, when non-nil, is received from at the start of every call.
	Block chan struct{}

	rows []*Row
}

var (
	_ archive.Store  = (*Store)(nil)
	_ archive.Reader = (*Store)(nil)
)

func (s *Store) wait(ctx context.Context) error {
	if s.Block == nil {
		return nil
	}
	select {
	case <-s.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) StartChannel(ctx context.Context, ch archive.Channel) (int64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return 0, s.StartErr
	}
	s.rows = append(s.rows, &Row{Channel: ch})
	return int64(len(s.rows)), nil
}

func (s *Store) AddUtterance(ctx context.Context, id int64, u archive.Utterance) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return s.AddErr
	}
	r := s.rows[id-1]
	r.Utterances = append(r.Utterances, u)
	return nil
}

func (s *Store) EndChannel(ctx context.Context, id int64, end archive.End) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndErr != nil {
		return s.EndErr
	}
	s.rows[id-1].End = &end
	return nil
}

// Rows returns a copy of every channel row in creation order.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	for i, r := range s.rows {
		out[i] = *r
		out[i].Utterances = append([]archive.Utterance(nil), r.Utterances...)
	}
	return out
}

func (s *Store) Transcript(_ context.Context, id int64) ([]archive.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	if id < 1 || id > int64(len(s.rows)) {
		return nil, archive.ErrNotFound
	}
	return slices.Clone(s.rows[id-1].Utterances), nil
}

// Search matches query as a case-insensitive substring of either text,
// newest row first.
func (s *Store) Search(_ context.Context, query string, limit int) ([]archive.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	query = strings.ToLower(query)
	var hits []archive.Hit
	for i := len(s.rows) - 1; i >= 0; i-- {
		r := s.rows[i]
		for j := len(r.Utterances) - 1; j >= 0; j-- {
			u := r.Utterances[j]
			if !strings.Contains(strings.ToLower(u.SourceText), query) &&
				!strings.Contains(strings.ToLower(u.Translation), query) {
				continue
			}
			hits = append(hits, archive.Hit{ChannelID: r.Channel.ChannelID, Row: int64(i + 1), Utterance: u})
			if limit > 0 && len(hits) == limit {
				return hits, nil
			}
		}
	}
	return hits, nil
}
