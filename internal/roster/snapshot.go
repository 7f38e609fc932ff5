package roster

import (
	"slices"
	"sync"
	"time"
)

// Snapshot is an immutable view of the roster for one run
type Snapshot struct {
	members   []MemberRecord
	byID      map[int64]int
	byAddress map[string]int
	orgs      map[int64]OrganizationUnit
	gaps      []OrganizationUnit
	loadedAt  time.Time

	// held are IDs of active members that were skipped as malformed
	held map[int64]struct{}

	activeOnce sync.Once
	active     IDSet
	addresses  []string
}

// NewSnapshot builds a snapshot from validated records. Members are ordered by ID.
func NewSnapshot(members []MemberRecord, orgs []OrganizationUnit, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		members:   make([]MemberRecord, 0, len(members)),
		byID:      make(map[int64]int, len(members)),
		byAddress: make(map[string]int, len(members)),
		orgs:      make(map[int64]OrganizationUnit, len(orgs)),
		held:      make(map[int64]struct{}),
		loadedAt:  loadedAt,
	}

	for _, org := range orgs {
		s.orgs[org.ID] = org
		if org.Scope == ScopeUnit && org.Path == "" {
			s.gaps = append(s.gaps, org)
		}
	}
	slices.SortFunc(s.gaps, func(a, b OrganizationUnit) int { return compareInt64(a.ID, b.ID) })

	for _, m := range members {
		s.members = append(s.members, m.clone())
	}
	slices.SortFunc(s.members, func(a, b MemberRecord) int { return compareInt64(a.ID, b.ID) })

	for i, m := range s.members {
		s.byID[m.ID] = i
		if m.Email != "" {
			s.byAddress[NormalizeAddress(m.Email)] = i
		}
	}

	return s
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// LoadedAt returns when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Len returns the number of valid members
func (s *Snapshot) Len() int {
	return len(s.members)
}

// Members returns a copy of all valid members ordered by ID
func (s *Snapshot) Members() []MemberRecord {
	out := make([]MemberRecord, len(s.members))
	for i, m := range s.members {
		out[i] = m.clone()
	}
	return out
}

// Member looks a member up by ID
func (s *Snapshot) Member(id int64) (MemberRecord, bool) {
	i, ok := s.byID[id]
	if !ok {
		return MemberRecord{}, false
	}
	return s.members[i].clone(), true
}

// MemberByAddress looks a member up by email address, ignoring case
func (s *Snapshot) MemberByAddress(address string) (MemberRecord, bool) {
	i, ok := s.byAddress[NormalizeAddress(address)]
	if !ok {
		return MemberRecord{}, false
	}
	return s.members[i].clone(), true
}

// Organization looks an organization up by ID
func (s *Snapshot) Organization(id int64) (OrganizationUnit, bool) {
	org, ok := s.orgs[id]
	return org, ok
}

// Organizations returns all organizations ordered by ID
func (s *Snapshot) Organizations() []OrganizationUnit {
	out := make([]OrganizationUnit, 0, len(s.orgs))
	for _, org := range s.orgs {
		out = append(out, org)
	}
	slices.SortFunc(out, func(a, b OrganizationUnit) int { return compareInt64(a.ID, b.ID) })
	return out
}

// OrganizationsByScope returns the organizations of one scope ordered by ID
func (s *Snapshot) OrganizationsByScope(scope Scope) []OrganizationUnit {
	var out []OrganizationUnit
	for _, org := range s.Organizations() {
		if org.Scope == scope {
			out = append(out, org)
		}
	}
	return out
}

// ConfigGaps returns unit-scope organizations without a directory path
func (s *Snapshot) ConfigGaps() []OrganizationUnit {
	return slices.Clone(s.gaps)
}

// UnitPath returns the directory org unit path of an organization
func (s *Snapshot) UnitPath(orgID int64) (string, bool) {
	org, ok := s.orgs[orgID]
	if !ok || org.Path == "" {
		return "", false
	}
	return org.Path, true
}

// Ancestor returns the nearest organization of the given scope at or above orgID
func (s *Snapshot) Ancestor(orgID int64, scope Scope) (OrganizationUnit, bool) {
	id := orgID
	// Bounded by the number of organizations so a parent cycle cannot loop forever.
	for range len(s.orgs) + 1 {
		org, ok := s.orgs[id]
		if !ok {
			return OrganizationUnit{}, false
		}
		if org.Scope == scope {
			return org, true
		}
		if org.ParentID == 0 || org.ParentID == org.ID {
			return OrganizationUnit{}, false
		}
		id = org.ParentID
	}
	return OrganizationUnit{}, false
}

// ActiveIDs returns the external IDs of all active members. Active members
// that were skipped as malformed are included, so a data problem never
// retires an account.
func (s *Snapshot) ActiveIDs() IDSet {
	s.activeOnce.Do(s.buildActive)
	return s.active
}

// ActiveAddresses returns the normalized addresses of active members, sorted
func (s *Snapshot) ActiveAddresses() []string {
	s.activeOnce.Do(s.buildActive)
	return slices.Clone(s.addresses)
}

func (s *Snapshot) buildActive() {
	ids := make(map[string]struct{}, len(s.members)+len(s.held))
	for _, m := range s.members {
		if !m.IsActive() {
			continue
		}
		ids[m.ExternalID()] = struct{}{}
		if m.Email != "" {
			s.addresses = append(s.addresses, NormalizeAddress(m.Email))
		}
	}
	for id := range s.held {
		ids[MemberRecord{ID: id}.ExternalID()] = struct{}{}
	}
	slices.Sort(s.addresses)
	s.active = IDSet{ids: ids}
}

// IDSet is a read-only set of external member IDs
type IDSet struct {
	ids map[string]struct{}
}

// NewIDSet builds a set from external IDs
func NewIDSet(ids ...string) IDSet {
	set := IDSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	return set
}

// Contains reports whether the external ID is in the set
func (s IDSet) Contains(externalID string) bool {
	_, ok := s.ids[externalID]
	return ok
}

// Len returns the size of the set
func (s IDSet) Len() int {
	return len(s.ids)
}
