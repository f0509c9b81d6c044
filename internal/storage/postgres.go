package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/androcom/invideo-ppt-to-png/internal/models"
)

// HistogramDims is the dimension of the stored similarity features
const HistogramDims = 256

// PostgresCatalog indexes saved slides and their histograms in PostgreSQL
type PostgresCatalog struct {
	pool  *pgxpool.Pool
	runID uuid.UUID
}

// NewPostgresCatalog connects to databaseURL and makes sure the schema exists
func NewPostgresCatalog(ctx context.Context, databaseURL string, runID uuid.UUID) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := InitSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresCatalog{pool: pool, runID: runID}, nil
}

// Close closes the database connection
func (c *PostgresCatalog) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// upsertVideo gets an existing video entry or creates a new one
func (c *PostgresCatalog) upsertVideo(ctx context.Context, tx pgx.Tx, video models.VideoSource) (int, error) {
	var id int
	err := tx.QueryRow(ctx,
		`INSERT INTO videos (name, path, width, height, frame_rate, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (name) DO UPDATE
        SET path = EXCLUDED.path, width = EXCLUDED.width,
            height = EXCLUDED.height, frame_rate = EXCLUDED.frame_rate
        RETURNING id`,
		video.Name, video.Path, video.Width, video.Height, video.FrameRate, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to store video entry: %w", err)
	}
	return id, nil
}

// RecordSlides replaces the slides of video in one transaction
func (c *PostgresCatalog) RecordSlides(ctx context.Context, video models.VideoSource, entries []CatalogEntry) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	videoID, err := c.upsertVideo(ctx, tx, video)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM slides WHERE video_id = $1`, videoID)
	now := time.Now()
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO slides
            (video_id, run_id, seq, label, path, group_label, histogram, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			videoID, c.runID, e.Seq, e.Label, e.Path, e.Group, histogramVector(e.Feature), now)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store slides: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit slides: %w", err)
	}
	return nil
}

// SearchSimilar finds the indexed slides whose histograms are closest to feature
func (c *PostgresCatalog) SearchSimilar(ctx context.Context, feature models.SimilarityFeature, limit int) ([]SlideMatch, error) {
	query := histogramVector(feature)
	if query == nil {
		return nil, fmt.Errorf("feature has %d bins, want %d", len(feature), HistogramDims)
	}

	rows, err := c.pool.Query(ctx,
		`SELECT v.name, s.seq, s.label, s.path, s.group_label,
        s.histogram <=> $1 AS distance
        FROM slides s
        JOIN videos v ON s.video_id = v.id
        WHERE s.histogram IS NOT NULL
        ORDER BY s.histogram <=> $1
        LIMIT $2`,
		*query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar slides: %w", err)
	}
	defer rows.Close()

	var matches []SlideMatch
	for rows.Next() {
		var m SlideMatch
		if err := rows.Scan(&m.Video, &m.Seq, &m.Label, &m.Path, &m.Group, &m.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// histogramVector converts a feature for storage; a missing feature stores NULL
func histogramVector(feature models.SimilarityFeature) *pgvector.Vector {
	if len(feature) != HistogramDims {
		return nil
	}
	data := make([]float32, len(feature))
	for i, v := range feature {
		data[i] = float32(v)
	}
	vec := pgvector.NewVector(data)
	return &vec
}

// InitSchema creates the catalog schema if it doesn't exist
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err := pool.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS videos (
            id SERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            path TEXT NOT NULL,
            width INTEGER NOT NULL,
            height INTEGER NOT NULL,
            frame_rate DOUBLE PRECISION NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(name)
        );

        CREATE TABLE IF NOT EXISTS slides (
            id SERIAL PRIMARY KEY,
            video_id INTEGER REFERENCES videos(id) ON DELETE CASCADE,
            run_id UUID NOT NULL,
            seq INTEGER NOT NULL,
            label VARCHAR(32) NOT NULL,
            path TEXT NOT NULL,
            group_label INTEGER NOT NULL,
            histogram vector(%d),
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(video_id, seq)
        );

        CREATE INDEX IF NOT EXISTS idx_slides_video_id ON slides(video_id);
    `, HistogramDims))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	return nil
}
