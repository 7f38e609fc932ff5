// Package directory defines the contract of the target directory service and
// the Client through which every mutation of it is made.
package directory

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_directory.go -package=mocks github.com/stacklok/roster-sync/internal/directory Directory

// User is a directory account
type User struct {
	Address     string
	GivenName   string
	FamilyName  string
	OrgUnitPath string
	// ExternalID is the roster member ID the account was created for
	ExternalID    string
	Suspended     bool
	Archived      bool
	CreationTime  time.Time
	LastLoginTime time.Time
}

// Group is a directory group
type Group struct {
	Address     string
	Name        string
	Description string
}

// UserState sets the suspended and archived flags of an account together
type UserState struct {
	Suspended bool
	Archived  bool
}

// UserPage is one page of a user listing
type UserPage struct {
	Users         []User
	NextPageToken string
}

// MemberPage is one page of a group membership listing
type MemberPage struct {
	Members       []string
	NextPageToken string
}

// Directory is the raw directory service. Implementations return errors that
// carry a status code (see APIError) so failures can be classified.
// Nothing outside this package calls a Directory directly; use Client.
type Directory interface {
	// ListUsers returns one page of accounts. An empty token starts at the beginning.
	ListUsers(ctx context.Context, pageToken string) (*UserPage, error)
	// CreateUser creates an account
	CreateUser(ctx context.Context, user User) error
	// UpdateUser changes the name, org unit and external ID of an account
	UpdateUser(ctx context.Context, user User) error
	// SetUserState sets the suspended and archived flags of an account
	SetUserState(ctx context.Context, address string, state UserState) error
	// DeleteUser permanently deletes an account
	DeleteUser(ctx context.Context, address string) error
	// CreateGroup creates a group
	CreateGroup(ctx context.Context, group Group) error
	// ListMembers returns one page of a group's member addresses
	ListMembers(ctx context.Context, group, pageToken string) (*MemberPage, error)
	// InsertMember adds an address to a group
	InsertMember(ctx context.Context, group, member string) error
	// RemoveMember removes an address from a group
	RemoveMember(ctx context.Context, group, member string) error
}
