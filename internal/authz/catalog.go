package authz

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/carebook/carebook/internal/shared"
)

// ErrUnknownPermission indicates a permission name absent from the catalog.
// Reaching it is a programmer error: catalog entries come from the compiled
// default list, not from user input.
var ErrUnknownPermission = errors.New("authz: unknown permission")

// CatalogEntry describes a registered permission identifier.
type CatalogEntry struct {
	Name        string
	Category    string
	Description string
	// SelfScoped marks permissions whose instance scope refers to the
	// requesting user itself. For these the resolver short-circuits to
	// ALLOW when the requested resource ID equals the principal's own ID,
	// without consulting the store.
	SelfScoped bool
}

// Catalog is the registry of known permission identifiers, grouped by
// category. It is seeded at boot from the compiled default list; admins may
// register additional entries at runtime.
type Catalog struct {
	mu         sync.RWMutex
	entries    map[string]CatalogEntry
	categories map[string][]CatalogEntry
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		entries:    make(map[string]CatalogEntry),
		categories: make(map[string][]CatalogEntry),
	}
}

// Register adds a permission identifier to the catalog.
func (c *Catalog) Register(name, category, description string) error {
	return c.register(CatalogEntry{Name: name, Category: category, Description: description})
}

// RegisterSelfScoped adds a self-referential permission identifier.
func (c *Catalog) RegisterSelfScoped(name, category, description string) error {
	return c.register(CatalogEntry{Name: name, Category: category, Description: description, SelfScoped: true})
}

func (c *Catalog) register(entry CatalogEntry) error {
	entry.Name = strings.TrimSpace(entry.Name)
	if entry.Name == "" {
		return errors.New("authz: permission name required")
	}
	if !strings.Contains(entry.Name, ":") {
		return fmt.Errorf("authz: permission %q must be namespaced as resource:action", entry.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[entry.Name]; exists {
		return fmt.Errorf("authz: permission %q already registered", entry.Name)
	}
	c.entries[entry.Name] = entry
	c.categories[entry.Category] = append(c.categories[entry.Category], entry)
	return nil
}

// IsKnown reports whether the name is registered.
func (c *Catalog) IsKnown(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// Get returns the catalog entry for a name.
func (c *Catalog) Get(name string) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	return entry, ok
}

// IsSelfScoped reports whether the permission is a self-access pair.
func (c *Catalog) IsSelfScoped(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	return ok && entry.SelfScoped
}

// ListByCategory returns all entries in a category, sorted by name.
func (c *Catalog) ListByCategory(category string) []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]CatalogEntry, len(c.categories[category]))
	copy(entries, c.categories[category])
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Categories returns the sorted list of category identifiers.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cats := make([]string, 0, len(c.categories))
	for cat := range c.categories {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}

var categoryTitle = cases.Title(language.English)

// CategoryLabel returns the display label for a category identifier.
func CategoryLabel(category string) string {
	return categoryTitle.String(strings.ReplaceAll(category, "_", " "))
}

// Permission categories.
const (
	CategoryAppointments = "appointments"
	CategoryDoctors      = "doctors"
	CategoryPatients     = "patients"
	CategoryDossiers     = "medical_dossiers"
	CategoryProfile      = "profile"
	CategoryPlatform     = "platform"
)

// DefaultCatalog registers the full compiled permission list.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	mustRegister := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	mustRegister(c.RegisterSelfScoped(shared.PermAppointmentViewOwn, CategoryAppointments, "View own appointments"))
	mustRegister(c.RegisterSelfScoped(shared.PermAppointmentUpdateOwn, CategoryAppointments, "Reschedule or update own appointments"))
	mustRegister(c.Register(shared.PermAppointmentViewAll, CategoryAppointments, "View any appointment"))
	mustRegister(c.Register(shared.PermAppointmentCreate, CategoryAppointments, "Book an appointment"))
	mustRegister(c.Register(shared.PermAppointmentCancel, CategoryAppointments, "Cancel an appointment"))

	mustRegister(c.Register(shared.PermDoctorViewAll, CategoryDoctors, "View any doctor"))
	mustRegister(c.Register(shared.PermDoctorManageAvailability, CategoryDoctors, "Manage a doctor's availability"))
	mustRegister(c.Register(shared.PermDoctorManageProfile, CategoryDoctors, "Manage a doctor's profile"))

	mustRegister(c.RegisterSelfScoped(shared.PermPatientViewOwn, CategoryPatients, "View own patient record"))
	mustRegister(c.Register(shared.PermPatientViewAll, CategoryPatients, "View any patient record"))
	mustRegister(c.Register(shared.PermPatientManage, CategoryPatients, "Manage patient records"))

	mustRegister(c.RegisterSelfScoped(shared.PermDossierViewOwn, CategoryDossiers, "View own medical dossier"))
	mustRegister(c.Register(shared.PermDossierViewAll, CategoryDossiers, "View any medical dossier"))
	mustRegister(c.Register(shared.PermDossierUpdate, CategoryDossiers, "Update a medical dossier"))

	mustRegister(c.RegisterSelfScoped(shared.PermProfileViewOwn, CategoryProfile, "View own profile"))
	mustRegister(c.RegisterSelfScoped(shared.PermProfileUpdateOwn, CategoryProfile, "Update own profile"))

	mustRegister(c.Register(shared.PermUsersView, CategoryPlatform, "List user accounts"))
	mustRegister(c.Register(shared.PermUsersManage, CategoryPlatform, "Manage user accounts"))
	mustRegister(c.Register(shared.PermPermissionsView, CategoryPlatform, "List permissions and bindings"))
	mustRegister(c.Register(shared.PermPermissionsManage, CategoryPlatform, "Manage permissions and bindings"))
	mustRegister(c.Register(shared.PermManagersManage, CategoryPlatform, "Manage doctor-manager assignments"))

	return c
}
