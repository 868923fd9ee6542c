// Package store persists the two evidence corpora in Postgres with
// pgvector embeddings and serves similarity search over them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ebcs/coach/config"
	"github.com/ebcs/coach/internal/repository"
)

type Store struct {
	DB *sql.DB
}

// New constructs the Store from config, pinging before returning.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Item is one stored corpus entry. Payload carries the document fields the
// repository adapters interpret; list-valued tags are comma-joined.
type Item struct {
	ID        string
	Payload   map[string]string
	Vector    []float32
	UpdatedAt time.Time
}

// tableFor maps a logical collection name onto its table. Collections are
// fixed at migration time; anything else is a configuration error.
func tableFor(collection string) (string, error) {
	switch collection {
	case "policy_docs":
		return "policy_items", nil
	case "thesis_segments":
		return "thesis_segments", nil
	default:
		return "", fmt.Errorf("unknown collection %q", collection)
	}
}

// UpsertItems writes a batch of corpus entries into a collection,
// replacing payload and embedding on conflict.
func (s *Store) UpsertItems(ctx context.Context, collection string, items []Item) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`INSERT INTO %s (id, payload, embedding, updated_at)
VALUES ($1, $2, $3::vector, NOW())
ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, embedding = EXCLUDED.embedding, updated_at = NOW()`, table)

	for _, item := range items {
		payload, err := json.Marshal(item.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", item.ID, err)
		}
		vecLiteral, err := encodeVectorLiteral(item.Vector)
		if err != nil {
			return fmt.Errorf("encode vector for %s: %w", item.ID, err)
		}
		if _, err := tx.ExecContext(ctx, stmt, item.ID, payload, vecLiteral); err != nil {
			return fmt.Errorf("upsert %s into %s: %w", item.ID, table, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of entries in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	table, err := tableFor(collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}

// Search implements the similarity-search contract consumed by the
// repository adapters. Cosine distance is converted to a similarity so
// downstream scoring matches the rest of the pipeline. The query text is
// unused here; the bleve-backed in-memory index uses it for BM25.
func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, _ string, limit int) ([]repository.Hit, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	if len(queryVector) == 0 {
		return nil, nil
	}
	vecLiteral, err := encodeVectorLiteral(queryVector)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 60
	}

	query := fmt.Sprintf(`
SELECT id, payload, embedding::text, embedding <=> $1::vector AS distance
FROM %s
ORDER BY embedding <=> $1::vector
LIMIT $2`, table)

	rows, err := s.DB.QueryContext(ctx, query, vecLiteral, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	defer rows.Close()

	var hits []repository.Hit
	for rows.Next() {
		var (
			id         string
			payloadRaw []byte
			vecRaw     string
			distance   float64
		)
		if err := rows.Scan(&id, &payloadRaw, &vecRaw, &distance); err != nil {
			return nil, err
		}
		payload := map[string]string{}
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &payload); err != nil {
				return nil, fmt.Errorf("decode payload for %s: %w", id, err)
			}
		}
		vec, err := decodeVectorLiteral(vecRaw)
		if err != nil {
			return nil, fmt.Errorf("decode vector for %s: %w", id, err)
		}
		hits = append(hits, repository.Hit{
			ID:      id,
			Score:   1 - distance,
			Vector:  vec,
			Payload: payload,
		})
	}
	return hits, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector value %q: %w", value, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
