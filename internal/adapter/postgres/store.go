package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/prdforge/internal/domain"
	"github.com/Strob0t/prdforge/internal/domain/clarify"
	"github.com/Strob0t/prdforge/internal/domain/generation"
	"github.com/Strob0t/prdforge/internal/port/audit"
)

// Store implements audit.Sink using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ audit.Sink = (*Store)(nil)

// RecordGeneration stores a run and its clarification answers in one transaction.
func (s *Store) RecordGeneration(ctx context.Context, rec audit.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("record generation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO generation_runs (id, session_id, request_id, project_id, provider, composite, iterations, status, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.RunID, rec.SessionID, nullIfEmpty(rec.RequestID), nullIfEmpty(rec.ProjectID),
		rec.Provider, rec.Composite, rec.Iterations, string(rec.Status), rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("record generation %s: %w", rec.RunID, err)
	}

	if len(rec.Clarifications) > 0 {
		rows := make([][]any, len(rec.Clarifications))
		for i, a := range rec.Clarifications {
			rows[i] = []any{rec.RunID, i, a.Question, a.Answer, string(a.Source), nullConfidence(a)}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"clarification_answers"},
			[]string{"run_id", "position", "question", "answer", "source", "confidence"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("record clarifications %s: %w", rec.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("record generation: commit: %w", err)
	}
	return nil
}

// GetRun loads one run with its clarification answers. An id that is not a
// UUID cannot name a run and is reported as not found.
func (s *Store) GetRun(ctx context.Context, runID string) (*audit.Record, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, domain.ErrNotFound)
	}

	var (
		rec       audit.Record
		requestID *string
		projectID *string
		status    string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, session_id, request_id, project_id, provider, composite::float8, iterations, status, finished_at
		 FROM generation_runs WHERE id = $1`, runID,
	).Scan(&rec.RunID, &rec.SessionID, &requestID, &projectID, &rec.Provider, &rec.Composite, &rec.Iterations, &status, &rec.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get run %s: %w", runID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec.RequestID = deref(requestID)
	rec.ProjectID = deref(projectID)
	rec.Status = generation.Status(status)

	rows, err := s.pool.Query(ctx,
		`SELECT question, answer, source, COALESCE(confidence, 0)::float8
		 FROM clarification_answers WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list clarifications %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a      clarify.Answer
			source string
		)
		if err := rows.Scan(&a.Question, &a.Answer, &source, &a.Confidence); err != nil {
			return nil, fmt.Errorf("scan clarification: %w", err)
		}
		a.Source = clarify.Source(source)
		rec.Clarifications = append(rec.Clarifications, a)
	}
	return &rec, rows.Err()
}

// ListRunsBySession returns the session's runs, newest first, without answers.
func (s *Store) ListRunsBySession(ctx context.Context, sessionID string, limit int) ([]audit.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, session_id, provider, composite::float8, iterations, status, finished_at
		 FROM generation_runs WHERE session_id = $1 ORDER BY finished_at DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []audit.Record
	for rows.Next() {
		var (
			rec    audit.Record
			status string
		)
		if err := rows.Scan(&rec.RunID, &rec.SessionID, &rec.Provider, &rec.Composite, &rec.Iterations, &status, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Status = generation.Status(status)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// nullIfEmpty returns nil for empty strings (for nullable columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullConfidence stores confidence only for answers from automatic sources.
func nullConfidence(a clarify.Answer) any {
	if !a.Source.Auto() {
		return nil
	}
	return a.Confidence
}
