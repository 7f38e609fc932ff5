// Package changes classifies roster members as new, changed or unchanged
// against the fingerprints persisted by the previous run.
package changes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"

	"github.com/stacklok/roster-sync/internal/roster"
)

// Kind is the change classification of a member
type Kind string

const (
	// KindNew members had no fingerprint in the previous run
	KindNew Kind = "new"
	// KindChanged members have a different fingerprint
	KindChanged Kind = "changed"
	// KindUnchanged members have the same fingerprint
	KindUnchanged Kind = "unchanged"
)

// Entry is the persisted state of one member
type Entry struct {
	Fingerprint string `json:"fingerprint"`
	// LastSeenActive is the last run that saw the member active
	LastSeenActive *time.Time `json:"lastSeenActive,omitempty"`
}

// Store persists fingerprints between runs
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/roster-sync/internal/roster/changes Store
type Store interface {
	// Load returns all persisted entries; an empty map on first run
	Load(ctx context.Context) (map[int64]Entry, error)

	// Save replaces all persisted entries
	Save(ctx context.Context, entries map[int64]Entry) error
}

// Fingerprint hashes the material fields of a member. LastModified is left
// out so that a touched but otherwise identical record counts as unchanged.
func Fingerprint(m roster.MemberRecord) string {
	m.LastModified = time.Time{}
	m.DutyPositions = sortedCopy(m.DutyPositions)
	m.Achievements = sortedCopy(m.Achievements)

	// Marshal cannot fail for this struct.
	data, _ := json.Marshal(m)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}

// Classification is the result of comparing a snapshot with the previous run
type Classification struct {
	kinds    map[int64]Kind
	previous map[int64]Entry
	removed  []int64
	held     map[int64]bool
}

// Kind returns the classification of a member; unknown IDs are new
func (c *Classification) Kind(id int64) Kind {
	if k, ok := c.kinds[id]; ok {
		return k
	}
	return KindNew
}

// Hold keeps the previous fingerprint of id at Commit so the member is
// looked at again by the next run
func (c *Classification) Hold(id int64) {
	if c.held == nil {
		c.held = make(map[int64]bool)
	}
	c.held[id] = true
}

// Removed returns IDs present in the previous run but not in the snapshot
func (c *Classification) Removed() []int64 {
	return slices.Clone(c.removed)
}

// Counts returns the number of members per kind
func (c *Classification) Counts() map[Kind]int {
	counts := map[Kind]int{KindNew: 0, KindChanged: 0, KindUnchanged: 0}
	for _, k := range c.kinds {
		counts[k]++
	}
	return counts
}

// LastSeenActive returns when the member was last seen active by a previous run
func (c *Classification) LastSeenActive(id int64) (time.Time, bool) {
	entry, ok := c.previous[id]
	if !ok || entry.LastSeenActive == nil {
		return time.Time{}, false
	}
	return *entry.LastSeenActive, true
}

// Detector compares snapshots against the store
type Detector struct {
	store Store
	now   func() time.Time
}

// Option configures a Detector
type Option func(*Detector)

// WithClock sets the clock used to stamp last-seen-active markers
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// NewDetector creates a Detector over store
func NewDetector(store Store, opts ...Option) *Detector {
	d := &Detector{store: store, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classify compares every member of snap with the persisted fingerprints
func (d *Detector) Classify(ctx context.Context, snap *roster.Snapshot) (*Classification, error) {
	previous, err := d.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}

	c := &Classification{
		kinds:    make(map[int64]Kind, snap.Len()),
		previous: previous,
	}

	seen := make(map[int64]bool, snap.Len())
	for _, m := range snap.Members() {
		seen[m.ID] = true
		entry, ok := previous[m.ID]
		switch {
		case !ok:
			c.kinds[m.ID] = KindNew
		case entry.Fingerprint != Fingerprint(m):
			c.kinds[m.ID] = KindChanged
		default:
			c.kinds[m.ID] = KindUnchanged
		}
	}
	for id := range previous {
		if !seen[id] {
			c.removed = append(c.removed, id)
		}
	}
	slices.Sort(c.removed)

	counts := c.Counts()
	logr.FromContextOrDiscard(ctx).Info("Classified roster changes",
		"new", counts[KindNew],
		"changed", counts[KindChanged],
		"unchanged", counts[KindUnchanged],
		"removed", len(c.removed))

	return c, nil
}

// Commit persists the fingerprints of snap. Active members are stamped with
// the current time; others keep their previous last-seen-active marker.
// Members that left the roster keep their entry so their marker survives.
// Held members keep their previous fingerprint, or none if they were new.
func (d *Detector) Commit(ctx context.Context, snap *roster.Snapshot, c *Classification) error {
	now := d.now().UTC()
	entries := make(map[int64]Entry, snap.Len()+len(c.removed))

	for id, entry := range c.previous {
		entries[id] = entry
	}

	active := snap.ActiveIDs()
	for _, m := range snap.Members() {
		entry := Entry{Fingerprint: Fingerprint(m)}
		prev, ok := c.previous[m.ID]
		if ok {
			entry.LastSeenActive = prev.LastSeenActive
		}
		if c.held[m.ID] {
			entry.Fingerprint = prev.Fingerprint
		}
		if active.Contains(m.ExternalID()) {
			stamp := now
			entry.LastSeenActive = &stamp
		}
		entries[m.ID] = entry
	}

	if err := d.store.Save(ctx, entries); err != nil {
		return fmt.Errorf("failed to save fingerprints: %w", err)
	}
	return nil
}
