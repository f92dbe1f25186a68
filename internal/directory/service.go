package directory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/carebook/carebook/internal/shared"
)

// Service wraps manager assignment operations with auditing.
type Service struct {
	repo   Repository
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Assign links a responsable to a doctor.
func (s *Service) Assign(ctx context.Context, actorID, managerID, doctorID int64) (ManagerAssignment, error) {
	assignment, err := s.repo.AssignManager(ctx, managerID, doctorID)
	if err != nil {
		return ManagerAssignment{}, err
	}
	s.record(ctx, actorID, "manager.assign", assignment.ID, map[string]any{
		"manager_id": managerID,
		"doctor_id":  doctorID,
	})
	return assignment, nil
}

// Unassign removes a manager assignment.
func (s *Service) Unassign(ctx context.Context, actorID, id int64) error {
	if err := s.repo.UnassignManager(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "manager.unassign", id, nil)
	return nil
}

// ManagedDoctors lists a responsable's doctors.
func (s *Service) ManagedDoctors(ctx context.Context, managerID int64) ([]ManagerAssignment, error) {
	return s.repo.ListManagedDoctors(ctx, managerID)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "doctor_manager",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("directory audit record", slog.String("action", action), slog.Any("error", err))
	}
}
