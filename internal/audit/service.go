package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crm-telephony/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the append-only persistence contract for audit events.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends an event and logs instead of failing; callers never branch on audit errors.
func (s *Service) Record(ctx context.Context, actor Actor, typ EventType, callID, message string, metadata any) {
	e := Event{
		OrgID:       actor.OrgID,
		Type:        typ,
		ActorUserID: actor.UserID,
		ActorRole:   actor.Role,
		IPAddress:   actor.IP,
		CallID:      callID,
		Message:     message,
	}
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err == nil {
			e.Metadata = string(b)
		}
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit event dropped", "type", typ, "call_id", callID, "err", err)
	}
}
