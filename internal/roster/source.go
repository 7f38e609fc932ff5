package roster

import "context"

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/stacklok/roster-sync/internal/roster Source

// Source produces the raw roster tables. Implementations are read once per run.
type Source interface {
	// Fetch reads every roster table
	Fetch(ctx context.Context) (*Tables, error)
}

// Tables is the raw, unvalidated roster export
type Tables struct {
	Members       []MemberRow
	Organizations []OrganizationRow
	Contacts      []ContactRow
	DutyPositions []AssignmentRow
	Achievements  []AssignmentRow
}

// MemberRow is one unvalidated member row
type MemberRow struct {
	// Line is the 1-based position in the source, for diagnostics
	Line         int
	ID           string
	GivenName    string
	FamilyName   string
	OrgID        string
	Type         string
	Rank         string
	Status       string
	LastModified string
}

// OrganizationRow is one unvalidated organization row
type OrganizationRow struct {
	Line     int
	ID       string
	Scope    string
	ParentID string
	Code     string
	Name     string
	Path     string
}

// ContactRow is one contact entry of a member
type ContactRow struct {
	Line     int
	MemberID string
	// Kind is the contact type, only "email" entries are used
	Kind string
	// Priority is "primary" or "secondary"; primary wins
	Priority string
	Value    string
}

// AssignmentRow links a member to a duty position or achievement code
type AssignmentRow struct {
	Line     int
	MemberID string
	Code     string
}
