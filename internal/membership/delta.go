// Package membership computes group membership: which roster members belong
// in which directory groups, and the minimal changes that get a group there.
package membership

import (
	"slices"

	"github.com/stacklok/roster-sync/internal/roster"
)

// Action is what happens to one address of one group
type Action string

const (
	// ActionAdd inserts a desired address missing from the group
	ActionAdd Action = "ADD"
	// ActionRemove removes an address that is not desired
	ActionRemove Action = "REMOVE"
	// ActionNoop leaves an address that is both desired and present
	ActionNoop Action = "NOOP"
)

// Delta maps each normalized address of one group to exactly one action
type Delta map[string]Action

// MembershipDelta maps group addresses to their deltas
type MembershipDelta map[string]Delta

// ComputeDelta compares desired and actual members of one group. Addresses
// are normalized first, so case and surrounding space never produce two entries.
// Runs in O(len(desired) + len(actual)).
func ComputeDelta(desired, actual []string) Delta {
	want := normalizedSet(desired)
	have := normalizedSet(actual)

	delta := make(Delta, len(want)+len(have))
	for addr := range have {
		if _, ok := want[addr]; ok {
			delta[addr] = ActionNoop
		} else {
			delta[addr] = ActionRemove
		}
	}
	for addr := range want {
		if _, ok := have[addr]; !ok {
			delta[addr] = ActionAdd
		}
	}
	return delta
}

func normalizedSet(addresses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if n := roster.NormalizeAddress(a); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Addresses returns the addresses with the given action, sorted
func (d Delta) Addresses(action Action) []string {
	var out []string
	for addr, a := range d {
		if a == action {
			out = append(out, addr)
		}
	}
	slices.Sort(out)
	return out
}

// Counts returns the number of addresses per action
func (d Delta) Counts() map[Action]int {
	counts := map[Action]int{ActionAdd: 0, ActionRemove: 0, ActionNoop: 0}
	for _, a := range d {
		counts[a]++
	}
	return counts
}

// IsNoop reports whether the group already matches
func (d Delta) IsNoop() bool {
	for _, a := range d {
		if a != ActionNoop {
			return false
		}
	}
	return true
}

// Result returns the membership the group has once the delta is applied, sorted
func (d Delta) Result() []string {
	var out []string
	for addr, a := range d {
		if a != ActionRemove {
			out = append(out, addr)
		}
	}
	slices.Sort(out)
	return out
}
