package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/quantfeed/announcements-bot/internal/fingerprint"
	"github.com/quantfeed/announcements-bot/internal/models"
)

// ErrRepublished marks an announcement whose source reused an existing
// (source, native_id) under a changed publish time. The changed time
// yields a new fingerprint, so the insert trips the source/native_id
// uniqueness instead of updating; the first stored version stays
// authoritative and callers skip the new one without retrying.
var ErrRepublished = errors.New("announcement re-published with a changed publish time")

// PostgresStore implements Store on a pgx connection pool. The pool is
// process-wide and safe to share across concurrent feed pipelines;
// concurrent upserts of the same fingerprint resolve through the
// table's conflict clauses, not application locking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Ensure PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies connectivity and bootstraps the
// schema. A failure here is fatal at boot: the pipeline must not start
// without a working store, since novelty-checking would be meaningless.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logrus.Infof("Connected to PostgreSQL (max_conns=%d)", poolCfg.MaxConns)
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS announcements (
			fingerprint TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			native_id TEXT NOT NULL,
			url TEXT,
			title TEXT NOT NULL,
			content TEXT,
			announcement_type TEXT,
			tags JSONB,
			publish_time TIMESTAMPTZ NOT NULL,
			raw_data JSONB NOT NULL,
			auto_label TEXT,
			auto_confidence DOUBLE PRECISION,
			human_label TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source, native_id)
		)`,
		`CREATE TABLE IF NOT EXISTS classifications (
			id BIGSERIAL PRIMARY KEY,
			fingerprint TEXT NOT NULL REFERENCES announcements(fingerprint),
			label TEXT NOT NULL,
			confidence DOUBLE PRECISION,
			is_human BOOLEAN NOT NULL DEFAULT FALSE,
			classified_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		// One mutable automated slot per announcement; human rows are
		// append-only and unconstrained.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_classifications_auto
			ON classifications (fingerprint) WHERE NOT is_human`,
		`CREATE INDEX IF NOT EXISTS idx_announcements_publish_time
			ON announcements (publish_time)`,
		`CREATE INDEX IF NOT EXISTS idx_announcements_source
			ON announcements (source)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveAnnouncement upserts the announcement and, when supplied, its
// automated classification in one transaction. A partial write is
// never observable.
func (s *PostgresStore) SaveAnnouncement(ctx context.Context, source string, ann models.RawAnnouncement, cls *models.Classification, fp string) error {
	if ann.NativeID == "" {
		return fmt.Errorf("announcement from %s is missing a native id", source)
	}
	if ann.Title == "" {
		return fmt.Errorf("announcement %s/%s is missing a title", source, ann.NativeID)
	}

	publishTime, err := fingerprint.NormalizeTime(ann.PublishTime)
	if err != nil {
		return fmt.Errorf("announcement %s/%s: %w", source, ann.NativeID, err)
	}

	if fp == "" {
		fp = fingerprint.Generate(source, ann.NativeID, publishTime)
	}

	tagsJSON, err := json.Marshal(ann.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	rawJSON, err := marshalRaw(ann)
	if err != nil {
		return fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Identity fields and title never change on conflict; only the
	// content-bearing fields do.
	_, err = tx.Exec(ctx, `
		INSERT INTO announcements (
			fingerprint, source, native_id, url, title, content,
			announcement_type, tags, publish_time, raw_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fingerprint) DO UPDATE SET
			content = EXCLUDED.content,
			announcement_type = EXCLUDED.announcement_type,
			tags = EXCLUDED.tags,
			raw_data = EXCLUDED.raw_data,
			updated_at = NOW()`,
		fp, source, ann.NativeID, ann.URL, ann.Title, ann.Content,
		ann.Type, tagsJSON, publishTime, rawJSON)
	if err != nil {
		if isUniqueViolation(err, "announcements_source_native_id_key") {
			return fmt.Errorf("announcement %s/%s: %w", source, ann.NativeID, ErrRepublished)
		}
		return fmt.Errorf("failed to upsert announcement %s: %w", fp, err)
	}

	if cls != nil {
		_, err = tx.Exec(ctx, `
			UPDATE announcements
			SET auto_label = $2, auto_confidence = $3, updated_at = NOW()
			WHERE fingerprint = $1`,
			fp, cls.Label, cls.Confidence)
		if err != nil {
			return fmt.Errorf("failed to update automated label for %s: %w", fp, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO classifications (fingerprint, label, confidence, is_human)
			VALUES ($1, $2, $3, FALSE)
			ON CONFLICT (fingerprint) WHERE NOT is_human DO UPDATE SET
				label = EXCLUDED.label,
				confidence = EXCLUDED.confidence,
				classified_at = NOW()`,
			fp, cls.Label, cls.Confidence)
		if err != nil {
			return fmt.Errorf("failed to upsert automated classification for %s: %w", fp, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit announcement %s: %w", fp, err)
	}

	return nil
}

// RecordHumanCorrection appends a human-flagged classification row and
// updates the announcement's human label. Corrections accumulate; each
// one is a new row in the audit trail.
func (s *PostgresStore) RecordHumanCorrection(ctx context.Context, fp, label string) error {
	if fp == "" || label == "" {
		return fmt.Errorf("fingerprint and label are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE announcements SET human_label = $2, updated_at = NOW()
		WHERE fingerprint = $1`,
		fp, label)
	if err != nil {
		return fmt.Errorf("failed to set human label for %s: %w", fp, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("announcement %s not found", fp)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO classifications (fingerprint, label, is_human)
		VALUES ($1, $2, TRUE)`,
		fp, label)
	if err != nil {
		return fmt.Errorf("failed to append correction for %s: %w", fp, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit correction for %s: %w", fp, err)
	}

	logrus.Infof("Recorded human correction for %s: %s", fp, label)
	return nil
}

// ExistingFingerprints returns the subset of fingerprints already
// stored. Empty input short-circuits without touching the database.
func (s *PostgresStore) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(fingerprints) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint FROM announcements WHERE fingerprint = ANY($1)`,
		fingerprints)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		existing[fp] = struct{}{}
	}

	return existing, rows.Err()
}

// LatestAnnouncements returns the most recent classified announcements
// whose automated label is not in the ignored set.
func (s *PostgresStore) LatestAnnouncements(ctx context.Context, limit int, ignoredLabels []string) ([]models.StoredAnnouncement, error) {
	if ignoredLabels == nil {
		ignoredLabels = []string{}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT fingerprint, source, native_id, COALESCE(url, ''), title,
			COALESCE(content, ''), COALESCE(announcement_type, ''),
			COALESCE(tags, '[]'::jsonb), publish_time,
			COALESCE(auto_label, ''), COALESCE(auto_confidence, 0),
			COALESCE(human_label, ''), created_at, updated_at
		FROM announcements
		WHERE auto_label IS NOT NULL AND auto_label <> ALL($2)
		ORDER BY publish_time DESC
		LIMIT $1`,
		limit, ignoredLabels)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest announcements: %w", err)
	}
	defer rows.Close()

	var result []models.StoredAnnouncement
	for rows.Next() {
		var ann models.StoredAnnouncement
		var tagsJSON []byte

		err := rows.Scan(&ann.Fingerprint, &ann.Source, &ann.NativeID, &ann.URL,
			&ann.Title, &ann.Content, &ann.Type, &tagsJSON, &ann.PublishTime,
			&ann.AutoLabel, &ann.AutoConfidence, &ann.HumanLabel,
			&ann.CreatedAt, &ann.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}

		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &ann.Tags); err != nil {
				logrus.Warnf("Failed to decode tags for %s: %v", ann.Fingerprint, err)
			}
		}

		result = append(result, ann)
	}

	return result, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// marshalRaw stores the feed's original payload when present, and the
// standardized shape otherwise, so full fidelity is kept either way.
func marshalRaw(ann models.RawAnnouncement) ([]byte, error) {
	if ann.Raw != nil {
		return json.Marshal(ann.Raw)
	}
	return json.Marshal(ann)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
