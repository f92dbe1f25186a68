package shared

// Appointment permissions.
const (
	PermAppointmentViewOwn   = "appointment:view_own"
	PermAppointmentViewAll   = "appointment:view_all"
	PermAppointmentCreate    = "appointment:create"
	PermAppointmentUpdateOwn = "appointment:update_own"
	PermAppointmentCancel    = "appointment:cancel"
)

// Doctor permissions.
const (
	PermDoctorViewAll            = "doctor:view_all"
	PermDoctorManageAvailability = "doctor:manage_availability"
	PermDoctorManageProfile      = "doctor:manage_profile"
)

// Patient permissions.
const (
	PermPatientViewOwn = "patient:view_own"
	PermPatientViewAll = "patient:view_all"
	PermPatientManage  = "patient:manage"
)

// Medical dossier permissions.
const (
	PermDossierViewOwn = "dossier:view_own"
	PermDossierViewAll = "dossier:view_all"
	PermDossierUpdate  = "dossier:update"
)

// Profile permissions.
const (
	PermProfileViewOwn   = "profile:view_own"
	PermProfileUpdateOwn = "profile:update_own"
)
