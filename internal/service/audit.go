package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record.
func (s *AuditService) Write(ctx context.Context, q repository.Querier, entityType, entityID string, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	return s.insert(ctx, q, entityType, entityID, actorID, action, prevState, nextState, false, metadata)
}

// Flag stores an audit record that an operator must resolve.
func (s *AuditService) Flag(ctx context.Context, q repository.Querier, entityType, entityID, reason, state string, metadata []byte) error {
	if err := s.insert(ctx, q, entityType, entityID, nil, reason, state, state, true, metadata); err != nil {
		return err
	}
	observability.IncrementManualReview(reason)
	return nil
}

// FlagDetached records a flag in its own transaction. Used when the work that
// discovered the problem has rolled back or never opened a transaction.
func (s *AuditService) FlagDetached(ctx context.Context, entityType, entityID, reason string, metadata []byte) {
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		return s.Flag(ctx, q, entityType, entityID, reason, "", metadata)
	})
	if err != nil {
		zap.L().Error("audit flag write failed",
			zap.Error(err),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("reason", reason),
		)
	}
}

// ListNeedingReview returns flagged audit entries, newest first.
func (s *AuditService) ListNeedingReview(ctx context.Context, limit, offset int32) ([]models.AuditEntry, error) {
	limit, offset = clampPage(limit, offset)
	entries, err := s.store.Queries().ListAuditNeedingReview(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit entries needing review: %w", err)
	}
	return entries, nil
}

func (s *AuditService) insert(ctx context.Context, q repository.Querier, entityType, entityID string, actorID *uuid.UUID, action, prevState, nextState string, needsReview bool, metadata []byte) error {
	if err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType:  entityType,
		EntityID:    entityID,
		ActorID:     actorID,
		Action:      action,
		PrevState:   textParam(prevState),
		NextState:   textParam(nextState),
		NeedsReview: needsReview,
		Metadata:    metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
