// Package roster holds the in-memory view of the authoritative membership roster.
//
// A Snapshot is built once per run by a Loader reading a Source exactly once.
// It is a pure value: every accessor returns copies, and derived views are
// computed lazily and at most once per snapshot.
package roster

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Status is the membership status of a roster member
type Status string

const (
	// StatusActive members are current and get accounts and group memberships
	StatusActive Status = "active"

	// StatusInactive members have lapsed; their accounts enter the lifecycle
	StatusInactive Status = "inactive"
)

// Scope is the level of an organization in the hierarchy
type Scope string

const (
	// ScopeUnit is a leaf organization members are assigned to
	ScopeUnit Scope = "unit"

	// ScopeGroup is an intermediate organization that gets its own sub-unit groups
	ScopeGroup Scope = "group"

	// ScopeWing is the top organization that gets the wing-level groups
	ScopeWing Scope = "wing"
)

// ErrSourceUnavailable is returned when the roster source cannot be read
var ErrSourceUnavailable = errors.New("roster source unavailable")

// MemberRecord is one roster member
type MemberRecord struct {
	ID            int64     `json:"id"`
	GivenName     string    `json:"givenName"`
	FamilyName    string    `json:"familyName"`
	OrgID         int64     `json:"orgId"`
	Type          string    `json:"type"`
	Rank          string    `json:"rank"`
	DutyPositions []string  `json:"dutyPositions,omitempty"`
	Achievements  []string  `json:"achievements,omitempty"`
	Email         string    `json:"email,omitempty"`
	Status        Status    `json:"status"`
	LastModified  time.Time `json:"lastModified"`
}

// DisplayName returns "Given Family", or whichever part is present
func (m MemberRecord) DisplayName() string {
	return strings.TrimSpace(m.GivenName + " " + m.FamilyName)
}

// IsActive reports whether the member is currently active
func (m MemberRecord) IsActive() bool {
	return m.Status == StatusActive
}

// ExternalID returns the member ID in the form stored on directory accounts
func (m MemberRecord) ExternalID() string {
	return fmt.Sprintf("%d", m.ID)
}

func (m MemberRecord) clone() MemberRecord {
	out := m
	out.DutyPositions = append([]string(nil), m.DutyPositions...)
	out.Achievements = append([]string(nil), m.Achievements...)
	return out
}

// OrganizationUnit is one node of the organization hierarchy
type OrganizationUnit struct {
	ID       int64  `json:"id"`
	Scope    Scope  `json:"scope"`
	ParentID int64  `json:"parentId,omitempty"`
	Code     string `json:"code,omitempty"`
	Name     string `json:"name,omitempty"`
	// Path is the resolved directory org unit path; empty means unresolved
	Path string `json:"path,omitempty"`
}

// MalformedRecordError describes a roster row that failed validation
type MalformedRecordError struct {
	Table  string
	Row    int
	ID     string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("malformed %s record %s (row %d): %s", e.Table, e.ID, e.Row, e.Reason)
	}
	return fmt.Sprintf("malformed %s record at row %d: %s", e.Table, e.Row, e.Reason)
}

// NormalizeAddress folds an email address into its comparison form:
// NFKC normalized, trimmed and lower-cased.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(address)))
}
