// Package memory is an in-process Directory. It backs dry runs against a
// seeded state and every test that needs a directory with real semantics.
package memory

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/stacklok/roster-sync/internal/directory"
	"github.com/stacklok/roster-sync/internal/roster"
)

// DefaultPageSize is the page size of listings
const DefaultPageSize = 100

// Directory keeps users, groups and memberships in maps
type Directory struct {
	mu       sync.Mutex
	pageSize int
	users    map[string]directory.User
	groups   map[string]directory.Group
	members  map[string]map[string]struct{}
	failures map[string][]error
	calls    map[string]int
}

// Option configures a Directory
type Option func(*Directory)

// WithPageSize sets the listing page size
func WithPageSize(n int) Option {
	return func(d *Directory) {
		if n > 0 {
			d.pageSize = n
		}
	}
}

// New returns an empty directory
func New(opts ...Option) *Directory {
	d := &Directory{
		pageSize: DefaultPageSize,
		users:    make(map[string]directory.User),
		groups:   make(map[string]directory.Group),
		members:  make(map[string]map[string]struct{}),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Seed adds users without going through CreateUser
func (d *Directory) Seed(users ...directory.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range users {
		u.Address = roster.NormalizeAddress(u.Address)
		d.users[u.Address] = u
	}
}

// SeedGroup adds a group with members
func (d *Directory) SeedGroup(group directory.Group, members ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	group.Address = roster.NormalizeAddress(group.Address)
	d.groups[group.Address] = group
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[roster.NormalizeAddress(m)] = struct{}{}
	}
	d.members[group.Address] = set
}

// FailNext makes the next calls of method return errs, one per call
func (d *Directory) FailNext(method string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[method] = append(d.failures[method], errs...)
}

// Calls returns how often method was called
func (d *Directory) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// User returns an account
func (d *Directory) User(address string) (directory.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[roster.NormalizeAddress(address)]
	return u, ok
}

// Users returns every account address, sorted
func (d *Directory) Users() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.users)
}

// Group returns a group
func (d *Directory) Group(address string) (directory.Group, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[roster.NormalizeAddress(address)]
	return g, ok
}

// Members returns the member addresses of a group, sorted
func (d *Directory) Members(group string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedKeys(d.members[roster.NormalizeAddress(group)])
}

// begin records a call and pops an injected failure. Callers hold d.mu.
func (d *Directory) begin(method string) error {
	d.calls[method]++
	if errs := d.failures[method]; len(errs) > 0 {
		d.failures[method] = errs[1:]
		return errs[0]
	}
	return nil
}

// ListUsers implements directory.Directory
func (d *Directory) ListUsers(ctx context.Context, pageToken string) (*directory.UserPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("ListUsers"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := sortedKeys(d.users)
	start, end, next, err := d.page(pageToken, len(keys))
	if err != nil {
		return nil, err
	}
	page := &directory.UserPage{NextPageToken: next}
	for _, k := range keys[start:end] {
		page.Users = append(page.Users, d.users[k])
	}
	return page, nil
}

// CreateUser implements directory.Directory
func (d *Directory) CreateUser(_ context.Context, user directory.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("CreateUser"); err != nil {
		return err
	}
	user.Address = roster.NormalizeAddress(user.Address)
	if _, ok := d.users[user.Address]; ok {
		return directory.Conflict("user %s already exists", user.Address)
	}
	d.users[user.Address] = user
	return nil
}

// UpdateUser implements directory.Directory
func (d *Directory) UpdateUser(_ context.Context, user directory.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateUser"); err != nil {
		return err
	}
	addr := roster.NormalizeAddress(user.Address)
	existing, ok := d.users[addr]
	if !ok {
		return directory.NotFound("user %s does not exist", addr)
	}
	existing.GivenName = user.GivenName
	existing.FamilyName = user.FamilyName
	existing.OrgUnitPath = user.OrgUnitPath
	existing.ExternalID = user.ExternalID
	d.users[addr] = existing
	return nil
}

// SetUserState implements directory.Directory
func (d *Directory) SetUserState(_ context.Context, address string, state directory.UserState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("SetUserState"); err != nil {
		return err
	}
	addr := roster.NormalizeAddress(address)
	u, ok := d.users[addr]
	if !ok {
		return directory.NotFound("user %s does not exist", addr)
	}
	u.Suspended = state.Suspended
	u.Archived = state.Archived
	d.users[addr] = u
	return nil
}

// DeleteUser implements directory.Directory
func (d *Directory) DeleteUser(_ context.Context, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("DeleteUser"); err != nil {
		return err
	}
	addr := roster.NormalizeAddress(address)
	if _, ok := d.users[addr]; !ok {
		return directory.NotFound("user %s does not exist", addr)
	}
	delete(d.users, addr)
	for _, set := range d.members {
		delete(set, addr)
	}
	return nil
}

// CreateGroup implements directory.Directory
func (d *Directory) CreateGroup(_ context.Context, group directory.Group) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("CreateGroup"); err != nil {
		return err
	}
	group.Address = roster.NormalizeAddress(group.Address)
	if _, ok := d.groups[group.Address]; ok {
		return directory.Conflict("group %s already exists", group.Address)
	}
	d.groups[group.Address] = group
	d.members[group.Address] = make(map[string]struct{})
	return nil
}

// ListMembers implements directory.Directory
func (d *Directory) ListMembers(ctx context.Context, group, pageToken string) (*directory.MemberPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("ListMembers"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set, ok := d.members[roster.NormalizeAddress(group)]
	if !ok {
		return nil, directory.NotFound("group %s does not exist", group)
	}

	keys := sortedKeys(set)
	start, end, next, err := d.page(pageToken, len(keys))
	if err != nil {
		return nil, err
	}
	return &directory.MemberPage{Members: slices.Clone(keys[start:end]), NextPageToken: next}, nil
}

// InsertMember implements directory.Directory
func (d *Directory) InsertMember(_ context.Context, group, member string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("InsertMember"); err != nil {
		return err
	}
	set, ok := d.members[roster.NormalizeAddress(group)]
	if !ok {
		return directory.NotFound("group %s does not exist", group)
	}
	addr := roster.NormalizeAddress(member)
	if _, ok := set[addr]; ok {
		return directory.Conflict("%s is already a member of %s", addr, group)
	}
	set[addr] = struct{}{}
	return nil
}

// RemoveMember implements directory.Directory
func (d *Directory) RemoveMember(_ context.Context, group, member string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("RemoveMember"); err != nil {
		return err
	}
	set, ok := d.members[roster.NormalizeAddress(group)]
	if !ok {
		return directory.NotFound("group %s does not exist", group)
	}
	addr := roster.NormalizeAddress(member)
	if _, ok := set[addr]; !ok {
		return directory.NotFound("%s is not a member of %s", addr, group)
	}
	delete(set, addr)
	return nil
}

// page resolves a page token, which is the decimal start offset
func (d *Directory) page(token string, total int) (start, end int, next string, err error) {
	if token != "" {
		start, err = strconv.Atoi(token)
		if err != nil || start < 0 || start > total {
			return 0, 0, "", &directory.APIError{Code: 400, Message: "invalid page token " + token}
		}
	}
	end = min(start+d.pageSize, total)
	if end < total {
		next = strconv.Itoa(end)
	}
	return start, end, next, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var _ directory.Directory = (*Directory)(nil)
