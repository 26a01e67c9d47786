package types

import (
	"slices"
	"time"
)

type ResourceType string

const (
	ResourceDoor      ResourceType = "DOOR"
	ResourceGate      ResourceType = "GATE"
	ResourceElevator  ResourceType = "ELEVATOR"
	ResourceStairway  ResourceType = "STAIRWAY"
	ResourcePrinter   ResourceType = "PRINTER"
	ResourceDispenser ResourceType = "DISPENSER"
	ResourceOther     ResourceType = "OTHER"
)

type ResourceState string

const (
	// StateControlled means access is decided by the policy engine.
	StateControlled ResourceState = "CONTROLLED"
	// StateUncontrolled means free access; the graph is never consulted.
	StateUncontrolled ResourceState = "UNCONTROLLED"
)

type HolderType string

const (
	HolderEmployee   HolderType = "EMPLOYEE"
	HolderContractor HolderType = "CONTRACTOR"
	HolderIntern     HolderType = "INTERN"
	HolderVisitor    HolderType = "VISITOR"
)

// Credential is a badge presented at a reader. The ID is an opaque trusted
// string; no cryptographic verification happens here.
type Credential struct {
	ID             string
	HolderID       string
	CreatedDate    time.Time
	ExpirationDate *time.Time // nil = never expires
	LastUpdateDate *time.Time
	Active         bool

	// ProfileNames is kept in insertion order. The order is observable:
	// the decision walk tries profiles first to last and stops at the
	// first satisfying path.
	ProfileNames []string
}

// ExpiredAt reports whether the credential's expiration date is strictly
// before the given day.
func (c *Credential) ExpiredAt(today time.Time) bool {
	if c.ExpirationDate == nil {
		return false
	}
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, today.Location())
	return c.ExpirationDate.Before(day)
}

// UsableAt reports whether the credential may be presented at all:
// active and not expired.
func (c *Credential) UsableAt(today time.Time) bool {
	return c.Active && !c.ExpiredAt(today)
}

// AddProfile appends a profile name if not already present.
func (c *Credential) AddProfile(name string) {
	if !slices.Contains(c.ProfileNames, name) {
		c.ProfileNames = append(c.ProfileNames, name)
	}
}

// RemoveProfile removes a profile name, preserving order of the rest.
func (c *Credential) RemoveProfile(name string) {
	c.ProfileNames = slices.DeleteFunc(c.ProfileNames, func(n string) bool {
		return n == name
	})
}

// Clone returns a deep copy. The cache swaps whole entities on mutation so
// concurrent readers never see a membership list mid-edit.
func (c *Credential) Clone() *Credential {
	cp := *c
	cp.ProfileNames = slices.Clone(c.ProfileNames)
	return &cp
}

// Holder is the person a credential is issued to. Holders participate in
// decision logging only, never in the authorization walk.
type Holder struct {
	ID        string
	FirstName string
	LastName  string
	Type      HolderType
}

func (h *Holder) FullName() string {
	return h.FirstName + " " + h.LastName
}

// Resource is a controllable thing (door, gate, elevator, ...). Each
// resource is bound 1:1 to a physical badge reader.
type Resource struct {
	ID       string
	ReaderID string
	Name     string
	Location string
	Building string
	Floor    *int
	Type     ResourceType
	State    ResourceState
}

func (r *Resource) Controlled() bool {
	return r.State == StateControlled
}

// ResourceGroup is a named set of resources sharing a security level,
// used as the policy unit rules attach to.
type ResourceGroup struct {
	Name          string
	SecurityLevel int
	Description   string

	// ResourceIDs in insertion order, each id at most once.
	ResourceIDs []string
}

func (g *ResourceGroup) Contains(resourceID string) bool {
	return slices.Contains(g.ResourceIDs, resourceID)
}

func (g *ResourceGroup) AddResource(resourceID string) {
	if !g.Contains(resourceID) {
		g.ResourceIDs = append(g.ResourceIDs, resourceID)
	}
}

func (g *ResourceGroup) RemoveResource(resourceID string) {
	g.ResourceIDs = slices.DeleteFunc(g.ResourceIDs, func(id string) bool {
		return id == resourceID
	})
}

func (g *ResourceGroup) Clone() *ResourceGroup {
	cp := *g
	cp.ResourceIDs = slices.Clone(g.ResourceIDs)
	return &cp
}

// Profile is a named set of resource groups assignable to credentials.
type Profile struct {
	Name        string
	Description string

	// GroupNames in insertion order, each name at most once.
	GroupNames []string
}

func (p *Profile) AddGroup(name string) {
	if !slices.Contains(p.GroupNames, name) {
		p.GroupNames = append(p.GroupNames, name)
	}
}

func (p *Profile) RemoveGroup(name string) {
	p.GroupNames = slices.DeleteFunc(p.GroupNames, func(n string) bool {
		return n == name
	})
}

func (p *Profile) Clone() *Profile {
	cp := *p
	cp.GroupNames = slices.Clone(p.GroupNames)
	return &cp
}
