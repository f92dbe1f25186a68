package authz

import (
	"time"
)

// Snapshot source values.
const (
	SourceRole = "role"
	SourceUser = "user"
)

// SnapshotEntry is one resolved binding in the client-cached permission
// snapshot.
type SnapshotEntry struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Category     string     `json:"category"`
	Source       string     `json:"source"`
	Granted      bool       `json:"granted"`
	ResourceType string     `json:"resourceType,omitempty"`
	ResourceID   int64      `json:"resourceId,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	GrantedBy    int64      `json:"grantedBy,omitempty"`
	GrantedAt    time.Time  `json:"grantedAt"`
	Reason       string     `json:"reason,omitempty"`
}

func (e SnapshotEntry) scope() Scope {
	return Scope{ResourceType: e.ResourceType, ResourceID: e.ResourceID}
}

// Snapshot mirrors the server-side decision inputs for client UI gating. It
// is advisory only: the server guard stays authoritative for every
// state-changing or data-revealing operation, and the snapshot deliberately
// omits the ownership/relationship shortcuts, so a UI mismatch there is
// expected and resolves on the next round-trip.
type Snapshot struct {
	All        []SnapshotEntry            `json:"all"`
	ByCategory map[string][]SnapshotEntry `json:"byCategory"`
}

// NewSnapshot flattens resolved bindings into the wire shape.
func NewSnapshot(catalog *Catalog, resolved ResolvedPermissions) *Snapshot {
	snap := &Snapshot{
		All:        make([]SnapshotEntry, 0, len(resolved.Role)+len(resolved.Grants)+len(resolved.Denials)),
		ByCategory: make(map[string][]SnapshotEntry),
	}
	for _, binding := range resolved.Role {
		category := ""
		if entry, ok := catalog.Get(binding.Permission); ok {
			category = entry.Category
		}
		snap.add(SnapshotEntry{
			ID:           binding.ID,
			Name:         binding.Permission,
			Category:     category,
			Source:       SourceRole,
			Granted:      true,
			ResourceType: binding.Scope.ResourceType,
			ResourceID:   binding.Scope.ResourceID,
			GrantedAt:    binding.CreatedAt,
		})
	}
	for _, override := range resolved.Grants {
		snap.add(snapshotFromOverride(override))
	}
	for _, override := range resolved.Denials {
		snap.add(snapshotFromOverride(override))
	}
	return snap
}

func snapshotFromOverride(override UserPermission) SnapshotEntry {
	return SnapshotEntry{
		ID:           override.ID,
		Name:         override.Permission,
		Category:     override.Category,
		Source:       SourceUser,
		Granted:      override.IsGranted,
		ResourceType: override.Scope.ResourceType,
		ResourceID:   override.Scope.ResourceID,
		ExpiresAt:    override.ExpiresAt,
		GrantedBy:    override.GrantedBy,
		GrantedAt:    override.CreatedAt,
		Reason:       override.Reason,
	}
}

func (s *Snapshot) add(entry SnapshotEntry) {
	s.All = append(s.All, entry)
	s.ByCategory[entry.Category] = append(s.ByCategory[entry.Category], entry)
}

// HasPermission re-derives the binding-level decision from the snapshot
// using the same exact-tier scope rule and deny-over-grant precedence as the
// server resolver. Expired user grants never match.
func (s *Snapshot) HasPermission(name string, scope Scope) bool {
	return s.hasPermissionAt(name, scope, time.Now())
}

func (s *Snapshot) hasPermissionAt(name string, scope Scope, now time.Time) bool {
	granted := false
	for _, entry := range s.All {
		if entry.Name != name || !entry.scope().Matches(scope) {
			continue
		}
		if !entry.Granted {
			// Denials keep denying even past expiry; see the store
			// note on grant/denial expiry asymmetry.
			return false
		}
		if entry.Source == SourceUser && entry.ExpiresAt != nil && entry.ExpiresAt.Before(now) {
			continue
		}
		granted = true
	}
	return granted
}
