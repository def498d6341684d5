package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsecrm/pulsecrm/internal/domain/session"
)

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return err
	}
	updateLog, err := json.Marshal(s.UpdateLog)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(s.Metrics)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO collab_sessions (session_id, document_id, participants, started_at, ended_at, last_activity_at, update_log, metrics)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.SessionID, s.DocumentID, participants, s.StartedAt, s.EndedAt, s.LastActivityAt, updateLog, metrics)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, document_id, participants, started_at, ended_at, last_activity_at, update_log, metrics
		FROM collab_sessions WHERE session_id=$1
	`, sessionID)
	return scanSession(row)
}

func (r *SessionRepository) GetActiveByDocument(ctx context.Context, documentID string) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, document_id, participants, started_at, ended_at, last_activity_at, update_log, metrics
		FROM collab_sessions WHERE document_id=$1 AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1
	`, documentID)
	return scanSession(row)
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return err
	}
	updateLog, err := json.Marshal(s.UpdateLog)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(s.Metrics)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE collab_sessions
		SET participants=$2, ended_at=$3, last_activity_at=$4, update_log=$5, metrics=$6
		WHERE session_id=$1
	`, s.SessionID, participants, s.EndedAt, s.LastActivityAt, updateLog, metrics)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*session.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, document_id, participants, started_at, ended_at, last_activity_at, update_log, metrics
		FROM collab_sessions WHERE document_id=$1
		ORDER BY started_at DESC LIMIT $2 OFFSET $3
	`, documentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	var participants, updateLog, metrics json.RawMessage
	if err := row.Scan(&s.SessionID, &s.DocumentID, &participants, &s.StartedAt, &s.EndedAt, &s.LastActivityAt, &updateLog, &metrics); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &s.Participants); err != nil {
			return nil, err
		}
	}
	if len(updateLog) > 0 {
		if err := json.Unmarshal(updateLog, &s.UpdateLog); err != nil {
			return nil, err
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &s.Metrics); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
