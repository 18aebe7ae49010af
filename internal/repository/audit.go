package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/google/uuid"
)

type InsertAuditLogParams struct {
	EntityType  string
	EntityID    string
	ActorID     *uuid.UUID
	Action      string
	PrevState   *string
	NextState   *string
	NeedsReview bool
	Metadata    []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	const query = `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, needs_review, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := q.db.Exec(ctx, query,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action,
		arg.PrevState, arg.NextState, arg.NeedsReview, arg.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (q *Queries) ListAuditNeedingReview(ctx context.Context, limit, offset int32) ([]models.AuditEntry, error) {
	const query = `
		SELECT id, entity_type, entity_id, actor_id, action, prev_state, next_state, needs_review, metadata, created_at
		FROM audit_log
		WHERE needs_review
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`
	rows, err := q.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorID, &e.Action, &e.PrevState, &e.NextState, &e.NeedsReview, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.Metadata = meta
		out = append(out, e)
	}
	return out, rows.Err()
}
