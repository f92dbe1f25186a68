package directory

import "time"

// ManagerAssignment links a responsable to a doctor they manage. The
// relationship widens what the responsable can see through ownership rules;
// it carries no permissions of its own.
type ManagerAssignment struct {
	ID        int64     `json:"id"`
	ManagerID int64     `json:"managerId"`
	DoctorID  int64     `json:"doctorId"`
	CreatedAt time.Time `json:"createdAt"`
}
