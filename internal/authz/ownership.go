package authz

import (
	"context"
	"errors"

	"github.com/carebook/carebook/internal/shared"
)

// Lookup ports over relationship data. They are injected so the ownership
// rules stay testable without persistence.

// ManagerLookup answers whether a responsable manages a doctor.
type ManagerLookup interface {
	ManagesDoctor(ctx context.Context, managerID, doctorID int64) (bool, error)
}

// Participants identifies the two sides of an appointment.
type Participants struct {
	PatientID int64
	DoctorID  int64
}

// AppointmentLookup resolves appointment relationships.
type AppointmentLookup interface {
	Participants(ctx context.Context, appointmentID int64) (Participants, error)
	PatientSeenByDoctor(ctx context.Context, patientID, doctorID int64) (bool, error)
}

// DossierLookup resolves the owning patient of a medical dossier.
type DossierLookup interface {
	OwnerPatient(ctx context.Context, dossierID int64) (int64, error)
}

// OwnershipCheck is the guard-facing shape of a relationship rule. The scope
// carries the resource instance under check.
type OwnershipCheck func(ctx context.Context, principal Principal, scope Scope) (bool, error)

// OwnershipChecker encodes structural relationships that are impractical to
// represent as static permission bindings. Every rule is an additional ALLOW
// path layered before the generic resolver; a false answer only means "fall
// through to the permission tables", never DENY.
type OwnershipChecker struct {
	managers     ManagerLookup
	appointments AppointmentLookup
	dossiers     DossierLookup
}

// NewOwnershipChecker constructs an OwnershipChecker.
func NewOwnershipChecker(managers ManagerLookup, appointments AppointmentLookup, dossiers DossierLookup) *OwnershipChecker {
	return &OwnershipChecker{managers: managers, appointments: appointments, dossiers: dossiers}
}

// CanAccessDoctor allows a doctor on their own record and a responsable on
// doctors they explicitly manage.
func (c *OwnershipChecker) CanAccessDoctor(ctx context.Context, principal Principal, scope Scope) (bool, error) {
	doctorID := scope.ResourceID
	if doctorID == 0 {
		return false, nil
	}
	switch principal.Role {
	case RoleDoctor:
		return principal.UserID == doctorID, nil
	case RoleResponsable:
		if c.managers == nil {
			return false, nil
		}
		ok, err := c.managers.ManagesDoctor(ctx, principal.UserID, doctorID)
		if err != nil {
			return false, ownershipErr(err)
		}
		return ok, nil
	default:
		return false, nil
	}
}

// CanAccessManager allows a responsable on their own assignment list.
func (c *OwnershipChecker) CanAccessManager(_ context.Context, principal Principal, scope Scope) (bool, error) {
	if scope.ResourceID == 0 || principal.Role != RoleResponsable {
		return false, nil
	}
	return principal.UserID == scope.ResourceID, nil
}

// CanAccessAppointment allows both participants of an appointment and a
// responsable managing the appointment's doctor.
func (c *OwnershipChecker) CanAccessAppointment(ctx context.Context, principal Principal, scope Scope) (bool, error) {
	appointmentID := scope.ResourceID
	if appointmentID == 0 || c.appointments == nil {
		return false, nil
	}
	participants, err := c.appointments.Participants(ctx, appointmentID)
	if err != nil {
		return false, ownershipErr(err)
	}
	switch principal.Role {
	case RolePatient:
		return participants.PatientID == principal.UserID, nil
	case RoleDoctor:
		return participants.DoctorID == principal.UserID, nil
	case RoleResponsable:
		return c.CanAccessDoctor(ctx, principal, InstanceScope("doctor", participants.DoctorID))
	default:
		return false, nil
	}
}

// CanAccessDossier allows the owning patient, and a doctor who has at least
// one appointment with the owning patient.
func (c *OwnershipChecker) CanAccessDossier(ctx context.Context, principal Principal, scope Scope) (bool, error) {
	dossierID := scope.ResourceID
	if dossierID == 0 || c.dossiers == nil {
		return false, nil
	}
	ownerID, err := c.dossiers.OwnerPatient(ctx, dossierID)
	if err != nil {
		return false, ownershipErr(err)
	}
	return c.canAccessPatientRecord(ctx, principal, ownerID)
}

// CanAccessPatient allows a patient on their own record and a doctor who has
// seen the patient.
func (c *OwnershipChecker) CanAccessPatient(ctx context.Context, principal Principal, scope Scope) (bool, error) {
	patientID := scope.ResourceID
	if patientID == 0 {
		return false, nil
	}
	return c.canAccessPatientRecord(ctx, principal, patientID)
}

func (c *OwnershipChecker) canAccessPatientRecord(ctx context.Context, principal Principal, patientID int64) (bool, error) {
	switch principal.Role {
	case RolePatient:
		return principal.UserID == patientID, nil
	case RoleDoctor:
		if c.appointments == nil {
			return false, nil
		}
		seen, err := c.appointments.PatientSeenByDoctor(ctx, patientID, principal.UserID)
		if err != nil {
			return false, ownershipErr(err)
		}
		return seen, nil
	default:
		return false, nil
	}
}

// ownershipErr keeps missing parent records as a plain fall-through: a
// relationship to a nonexistent resource widens nothing, and the generic
// resolver still decides the request.
func ownershipErr(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}
