package membership

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/roster"
)

// DesiredGroup is one target group and the members it should have
type DesiredGroup struct {
	Address     string
	Name        string
	Description string
	Category    string
	// OrgID is the group-scope organization for sub-unit groups, 0 for wing-level groups
	OrgID int64
	// Members are normalized addresses, sorted
	Members []string
}

// Naming builds group addresses under a domain
type Naming struct {
	Domain string
}

// WingAddress returns the wing-level group address of a definition
func (n Naming) WingAddress(def config.GroupDefinition) string {
	return fmt.Sprintf("%s.%s@%s", slug(def.Category), slug(def.BaseName), n.Domain)
}

// SubUnitAddress returns the address of a definition's group for one group-scope organization
func (n Naming) SubUnitAddress(def config.GroupDefinition, org roster.OrganizationUnit) string {
	return fmt.Sprintf("%s.%s.%s@%s", slug(def.Category), slug(def.BaseName), orgSlug(org), n.Domain)
}

// AccountAddress returns the preferred account address of a member,
// "given.family@domain". When taken reports that address as used by another
// account, the member ID is appended.
func (n Naming) AccountAddress(m roster.MemberRecord, taken func(address string) bool) string {
	local := strings.Trim(slug(m.GivenName)+"."+slug(m.FamilyName), ".")
	if local == "" {
		local = m.ExternalID()
	}
	address := roster.NormalizeAddress(local + "@" + n.Domain)
	if taken != nil && taken(address) {
		address = roster.NormalizeAddress(fmt.Sprintf("%s.%d@%s", local, m.ID, n.Domain))
	}
	return address
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func orgSlug(org roster.OrganizationUnit) string {
	if s := slug(org.Code); s != "" {
		return s
	}
	return fmt.Sprintf("g%d", org.ID)
}

// DesiredGroups evaluates every definition against the active members of snap.
// Each selected member lands in the wing-level group and, when its organization
// sits under a group-scope organization, in that sub-unit's group as well.
// Every group-scope organization gets a group even when empty, so members
// leaving it are removed. The result is ordered by address.
func DesiredGroups(
	snap *roster.Snapshot, defs []config.GroupDefinition, reg *Registry, naming Naming,
) ([]DesiredGroup, error) {
	if err := reg.ValidateDefinitions(defs); err != nil {
		return nil, err
	}

	subUnits := snap.OrganizationsByScope(roster.ScopeGroup)
	members := snap.Members()
	byAddress := make(map[string]*DesiredGroup)
	sets := make(map[string]map[string]struct{})

	add := func(g DesiredGroup) {
		if _, ok := byAddress[g.Address]; ok {
			return
		}
		byAddress[g.Address] = &g
		sets[g.Address] = make(map[string]struct{})
	}

	for _, def := range defs {
		pred, _ := reg.Lookup(def.Attribute)
		values := NewValueSet(def.Values)

		wing := naming.WingAddress(def)
		add(DesiredGroup{
			Address:     wing,
			Name:        fmt.Sprintf("%s %s", def.Category, def.BaseName),
			Description: fmt.Sprintf("Members whose %s is one of %s", def.Attribute, strings.Join(def.Values, ", ")),
			Category:    def.Category,
		})
		for _, org := range subUnits {
			add(DesiredGroup{
				Address:     naming.SubUnitAddress(def, org),
				Name:        fmt.Sprintf("%s %s %s", def.Category, def.BaseName, orgLabel(org)),
				Description: fmt.Sprintf("Members of %s whose %s is one of %s", orgLabel(org), def.Attribute, strings.Join(def.Values, ", ")),
				Category:    def.Category,
				OrgID:       org.ID,
			})
		}

		for _, m := range members {
			if !m.IsActive() || m.Email == "" || !pred(m, values) {
				continue
			}
			addr := roster.NormalizeAddress(m.Email)
			sets[wing][addr] = struct{}{}
			if org, ok := snap.Ancestor(m.OrgID, roster.ScopeGroup); ok {
				sets[naming.SubUnitAddress(def, org)][addr] = struct{}{}
			}
		}
	}

	out := make([]DesiredGroup, 0, len(byAddress))
	for address, g := range byAddress {
		for addr := range sets[address] {
			g.Members = append(g.Members, addr)
		}
		slices.Sort(g.Members)
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b DesiredGroup) int { return strings.Compare(a.Address, b.Address) })
	return out, nil
}

func orgLabel(org roster.OrganizationUnit) string {
	if org.Name != "" {
		return org.Name
	}
	if org.Code != "" {
		return org.Code
	}
	return fmt.Sprintf("group %d", org.ID)
}
