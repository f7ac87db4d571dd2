package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"go.uber.org/zap"
)

// Emitter records audit entries. Emission never fails the caller.
type Emitter interface {
	Emit(ctx context.Context, entry domain.AuditEntry)
}

// Publisher fans audit entries out to other systems.
type Publisher interface {
	Publish(ctx context.Context, entry domain.AuditEntry) error
}

var _ Emitter = (*Recorder)(nil)

// Recorder persists each entry and, when a publisher is set, forwards it.
type Recorder struct {
	store     repository.AuditStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewRecorder(store repository.AuditStore, publisher Publisher, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recorder{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (r *Recorder) Emit(ctx context.Context, entry domain.AuditEntry) {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}

	fields := []zap.Field{
		zap.String("auditType", entry.Type.String()),
		zap.String("eventId", entry.EventID),
	}

	if err := r.store.Create(ctx, &entry); err != nil {
		r.logger.Error("failed to persist audit entry", append(fields, zap.Error(err))...)
	}

	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, entry); err != nil {
		r.logger.Warn("failed to publish audit entry", append(fields, zap.Error(err))...)
	}
}

// Nop drops every entry.
type Nop struct{}

func (Nop) Emit(context.Context, domain.AuditEntry) {}
