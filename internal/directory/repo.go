package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/shared"
)

// ErrDuplicateAssignment indicates the manager already manages the doctor.
var ErrDuplicateAssignment = errors.New("directory: duplicate assignment")

// Repository persists manager assignments and answers the relationship
// lookups behind ownership checks.
type Repository interface {
	authz.ManagerLookup
	authz.AppointmentLookup
	authz.DossierLookup

	AssignManager(ctx context.Context, managerID, doctorID int64) (ManagerAssignment, error)
	UnassignManager(ctx context.Context, id int64) error
	ListManagedDoctors(ctx context.Context, managerID int64) ([]ManagerAssignment, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// ManagesDoctor reports whether the responsable manages the doctor.
func (r *PGRepository) ManagesDoctor(ctx context.Context, managerID, doctorID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctor_managers WHERE manager_id = $1 AND doctor_id = $2
		)`, managerID, doctorID).Scan(&exists)
	return exists, err
}

// Participants returns both sides of an appointment.
func (r *PGRepository) Participants(ctx context.Context, appointmentID int64) (authz.Participants, error) {
	var p authz.Participants
	err := r.pool.QueryRow(ctx, `
		SELECT patient_id, doctor_id FROM appointments WHERE id = $1`, appointmentID).
		Scan(&p.PatientID, &p.DoctorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return authz.Participants{}, shared.ErrNotFound
	}
	return p, err
}

// PatientSeenByDoctor reports whether the doctor has any appointment with the
// patient, past or future.
func (r *PGRepository) PatientSeenByDoctor(ctx context.Context, patientID, doctorID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments WHERE patient_id = $1 AND doctor_id = $2
		)`, patientID, doctorID).Scan(&exists)
	return exists, err
}

// OwnerPatient returns the patient owning a medical dossier.
func (r *PGRepository) OwnerPatient(ctx context.Context, dossierID int64) (int64, error) {
	var patientID int64
	err := r.pool.QueryRow(ctx, `
		SELECT patient_id FROM medical_dossiers WHERE id = $1`, dossierID).Scan(&patientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return patientID, err
}

// AssignManager creates a manager assignment row.
func (r *PGRepository) AssignManager(ctx context.Context, managerID, doctorID int64) (ManagerAssignment, error) {
	var a ManagerAssignment
	err := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_managers (manager_id, doctor_id, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, manager_id, doctor_id, created_at`, managerID, doctorID).
		Scan(&a.ID, &a.ManagerID, &a.DoctorID, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ManagerAssignment{}, ErrDuplicateAssignment
		}
		return ManagerAssignment{}, err
	}
	return a, nil
}

// UnassignManager removes a manager assignment row.
func (r *PGRepository) UnassignManager(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctor_managers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListManagedDoctors returns the doctors a responsable manages.
func (r *PGRepository) ListManagedDoctors(ctx context.Context, managerID int64) ([]ManagerAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, manager_id, doctor_id, created_at
		FROM doctor_managers
		WHERE manager_id = $1
		ORDER BY id`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ManagerAssignment
	for rows.Next() {
		var a ManagerAssignment
		if err := rows.Scan(&a.ID, &a.ManagerID, &a.DoctorID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
