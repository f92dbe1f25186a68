package users

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/shared"
)

// ErrSelfStatusChange indicates an admin tried to change their own status.
var ErrSelfStatusChange = errors.New("users: cannot change own status")

// Service handles user management logic.
type Service struct {
	repo   RepositoryPort
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// ListUsers returns a filtered page of users with pagination metadata.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter) ([]User, shared.Pagination, error) {
	users, total, err := s.repo.ListUsers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(filter.Page, filter.Per, total), nil
}

// GetUser returns a single user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// SetStatus activates, deactivates or suspends an account. Status takes
// effect on the target's next request; their open session stays valid but
// every permission check fails the inactive-account step. Admins cannot lock
// themselves out.
func (s *Service) SetStatus(ctx context.Context, actor authz.Principal, id int64, status string) (User, error) {
	if actor.UserID == id {
		return User{}, ErrSelfStatusChange
	}
	user, err := s.repo.SetStatus(ctx, id, status)
	if err != nil {
		return User{}, err
	}
	s.recordAudit(ctx, actor, "user.set_status", id, map[string]any{"status": status})
	return user, nil
}

func (s *Service) recordAudit(ctx context.Context, actor authz.Principal, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("users audit record", slog.String("action", action), slog.Any("error", err))
	}
}
