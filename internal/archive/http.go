package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

// ErrNotFound is returned by a [Reader] for an unknown channel row.
var ErrNotFound = errors.New("archive: not found")

// Reader is the query side of a store.
type Reader interface {
	// Transcript returns the utterances of channel row id in spoken order.
	Transcript(ctx context.Context, id int64) ([]Utterance, error)

	// Search runs a full-text query, newest first. A non-positive limit
	// returns every match.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Register adds the read-only archive routes to mux:
//
//	GET /archive/search?q=<text>&limit=<n>
//	GET /archive/channels/{row}
func Register(mux *http.ServeMux, r Reader) {
	mux.HandleFunc("GET /archive/search", func(w http.ResponseWriter, req *http.Request) {
		q := strings.TrimSpace(req.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusBadRequest, "missing q")
			return
		}
		limit := defaultSearchLimit
		if s := req.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxSearchLimit)
		}
		hits, err := r.Search(req.Context(), q, limit)
		if err != nil {
			slog.Error("archive: search failed", "query", q, "err", err)
			writeError(w, http.StatusInternalServerError, "search failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hits": nonNil(hits)})
	})

	mux.HandleFunc("GET /archive/channels/{row}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(req.PathValue("row"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "row must be a positive integer")
			return
		}
		utts, err := r.Transcript(req.Context(), id)
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "no such channel row")
			return
		case err != nil:
			slog.Error("archive: transcript failed", "row", id, "err", err)
			writeError(w, http.StatusInternalServerError, "transcript failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"row": id, "utterances": nonNil(utts)})
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
