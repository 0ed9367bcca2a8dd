package store

import (
	"context"
	"errors"

	"github.com/intelforge/intelforge/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionRepository persists pipeline sessions
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	List(ctx context.Context) ([]*models.Session, error)
}

// PhaseRecordRepository persists phase execution attempts
type PhaseRecordRepository interface {
	Create(ctx context.Context, r *models.PhaseRecord) error
	Get(ctx context.Context, id string) (*models.PhaseRecord, error)
	Update(ctx context.Context, r *models.PhaseRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.PhaseRecord, error)
}

// ArchiveRepository persists synthesis checkpoints
type ArchiveRepository interface {
	Create(ctx context.Context, a *models.Archive) error
	Get(ctx context.Context, id string) (*models.Archive, error)
	// Update exists only so re-validation can attach integrity scores;
	// archive content is append-only.
	Update(ctx context.Context, a *models.Archive) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.Archive, error)
}

// HumanInputRepository persists externally-sourced data requests
type HumanInputRepository interface {
	Create(ctx context.Context, r *models.HumanInputRequest) error
	Get(ctx context.Context, id string) (*models.HumanInputRequest, error)
	Update(ctx context.Context, r *models.HumanInputRequest) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.HumanInputRequest, error)
	ListByStatus(ctx context.Context, status models.RequestStatus) ([]*models.HumanInputRequest, error)
}

// HandoverRepository persists recovery checkpoints
type HandoverRepository interface {
	Create(ctx context.Context, h *models.Handover) error
	Get(ctx context.Context, id string) (*models.Handover, error)
	Update(ctx context.Context, h *models.Handover) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.Handover, error)
	// ListUnrecovered returns handovers not yet consumed by a resume; at most
	// one per session is expected at any time.
	ListUnrecovered(ctx context.Context) ([]*models.Handover, error)
}

// Store bundles the repository contracts the engine consumes. The core never
// assumes a specific storage technology behind them.
type Store struct {
	Sessions  SessionRepository
	Phases    PhaseRecordRepository
	Archives  ArchiveRepository
	Requests  HumanInputRepository
	Handovers HandoverRepository
}
