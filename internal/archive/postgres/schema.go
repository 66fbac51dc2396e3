package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChannels = `
CREATE TABLE IF NOT EXISTS archive_channels (
    id            BIGSERIAL    PRIMARY KEY,
    channel_id    TEXT         NOT NULL,
    source_lang   TEXT         NOT NULL DEFAULT '',
    target_lang   TEXT         NOT NULL DEFAULT '',
    started_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at      TIMESTAMPTZ,
    stop_reason   TEXT         NOT NULL DEFAULT '',
    segments      BIGINT       NOT NULL DEFAULT 0,
    translations  BIGINT       NOT NULL DEFAULT 0,
    errors        BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_archive_channels_channel_id
    ON archive_channels (channel_id, started_at);
`

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS archive_utterances (
    id           BIGSERIAL    PRIMARY KEY,
    channel_row  BIGINT       NOT NULL REFERENCES archive_channels (id) ON DELETE CASCADE,
    source_text  TEXT         NOT NULL,
    translation  TEXT         NOT NULL,
    latency_ns   BIGINT       NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_archive_utterances_channel_row
    ON archive_utterances (channel_row, created_at);

CREATE INDEX IF NOT EXISTS idx_archive_utterances_fts
    ON archive_utterances USING GIN (to_tsvector('simple', source_text || ' ' || translation));
`

// Migrate creates the archive tables and indexes if they do not exist. It is
// idempotent and runs on every [NewStore].
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlChannels, ddlUtterances} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
