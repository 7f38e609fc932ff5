package roster

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// LoadReport summarizes what a load kept and skipped
type LoadReport struct {
	Members       int
	Organizations int
	Malformed     []*MalformedRecordError
	ConfigGaps    []OrganizationUnit
}

// Loader builds snapshots from a Source
type Loader struct {
	source   Source
	orgPaths map[int64]string
	now      func() time.Time
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithOrgPaths sets org unit paths that override the source's path column
func WithOrgPaths(paths map[int64]string) LoaderOption {
	return func(l *Loader) {
		l.orgPaths = paths
	}
}

// WithClock sets the clock used to stamp snapshots
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) {
		l.now = now
	}
}

// NewLoader creates a Loader reading from source
func NewLoader(source Source, opts ...LoaderOption) *Loader {
	l := &Loader{source: source, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadSnapshot reads the source once and validates every row. Rows that fail
// validation are logged and reported, and the load continues without them.
func (l *Loader) LoadSnapshot(ctx context.Context) (*Snapshot, *LoadReport, error) {
	ctxLogger := logr.FromContextOrDiscard(ctx)

	tables, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if tables == nil {
		return nil, nil, fmt.Errorf("%w: source returned no tables", ErrSourceUnavailable)
	}

	report := &LoadReport{}
	orgs := l.parseOrganizations(tables.Organizations, report)
	emails := primaryEmails(tables.Contacts)
	duties := assignments(tables.DutyPositions)
	achievements := assignments(tables.Achievements)

	b := &memberBuilder{
		orgs:       orgs,
		emails:     emails,
		seenIDs:    make(map[int64]bool),
		seenEmails: make(map[string]int64),
		held:       make(map[int64]struct{}),
	}
	members := make([]MemberRecord, 0, len(tables.Members))
	for _, row := range tables.Members {
		m, err := b.build(row)
		if err != nil {
			var malformed *MalformedRecordError
			if errors.As(err, &malformed) {
				report.Malformed = append(report.Malformed, malformed)
			}
			continue
		}
		m.DutyPositions = duties[m.ID]
		m.Achievements = achievements[m.ID]
		members = append(members, m)
	}

	orgList := make([]OrganizationUnit, 0, len(orgs))
	for _, org := range orgs {
		orgList = append(orgList, org)
	}

	snap := NewSnapshot(members, orgList, l.now())
	for id := range b.held {
		snap.held[id] = struct{}{}
	}

	report.Members = snap.Len()
	report.Organizations = len(orgList)
	report.ConfigGaps = snap.ConfigGaps()

	for _, malformed := range report.Malformed {
		ctxLogger.Info("Skipping malformed roster record",
			"table", malformed.Table, "row", malformed.Row, "id", malformed.ID, "reason", malformed.Reason)
	}
	for _, gap := range report.ConfigGaps {
		ctxLogger.Error(errMissingPath, "Organization has no directory path configured",
			"orgId", gap.ID, "code", gap.Code, "name", gap.Name)
	}
	ctxLogger.Info("Loaded roster snapshot",
		"members", report.Members,
		"organizations", report.Organizations,
		"malformed", len(report.Malformed),
		"configGaps", len(report.ConfigGaps))

	return snap, report, nil
}

var errMissingPath = errors.New("missing organizational path")

func (l *Loader) parseOrganizations(rows []OrganizationRow, report *LoadReport) map[int64]OrganizationUnit {
	orgs := make(map[int64]OrganizationUnit, len(rows))
	for _, row := range rows {
		malformed := func(reason string) {
			report.Malformed = append(report.Malformed, &MalformedRecordError{
				Table: "organizations", Row: row.Line, ID: strings.TrimSpace(row.ID), Reason: reason,
			})
		}

		id, err := parseID(row.ID)
		if err != nil {
			malformed(err.Error())
			continue
		}
		if _, dup := orgs[id]; dup {
			malformed("duplicate organization id")
			continue
		}

		scope := Scope(strings.ToLower(strings.TrimSpace(row.Scope)))
		switch scope {
		case ScopeUnit, ScopeGroup, ScopeWing:
		default:
			malformed(fmt.Sprintf("unknown scope %q", row.Scope))
			continue
		}

		var parent int64
		if strings.TrimSpace(row.ParentID) != "" {
			if parent, err = parseID(row.ParentID); err != nil {
				malformed("invalid parent id")
				continue
			}
		}

		path := strings.TrimSpace(row.Path)
		if override, ok := l.orgPaths[id]; ok && override != "" {
			path = override
		}

		orgs[id] = OrganizationUnit{
			ID:       id,
			Scope:    scope,
			ParentID: parent,
			Code:     strings.TrimSpace(row.Code),
			Name:     strings.TrimSpace(row.Name),
			Path:     path,
		}
	}
	return orgs
}

type memberBuilder struct {
	orgs       map[int64]OrganizationUnit
	emails     map[int64]string
	seenIDs    map[int64]bool
	seenEmails map[string]int64
	held       map[int64]struct{}
}

func (b *memberBuilder) build(row MemberRow) (MemberRecord, error) {
	rawID := strings.TrimSpace(row.ID)
	malformed := func(reason string) error {
		return &MalformedRecordError{Table: "members", Row: row.Line, ID: rawID, Reason: reason}
	}

	id, err := parseID(row.ID)
	if err != nil {
		return MemberRecord{}, malformed(err.Error())
	}
	if b.seenIDs[id] {
		return MemberRecord{}, malformed("duplicate member id")
	}
	b.seenIDs[id] = true

	status, err := parseStatus(row.Status)
	if err != nil {
		return MemberRecord{}, malformed(err.Error())
	}
	// From here on the ID and status are trustworthy.
	hold := func(reason string) error {
		if status == StatusActive {
			b.held[id] = struct{}{}
		}
		return malformed(reason)
	}

	m := MemberRecord{
		ID:         id,
		GivenName:  strings.TrimSpace(row.GivenName),
		FamilyName: strings.TrimSpace(row.FamilyName),
		Type:       strings.TrimSpace(row.Type),
		Rank:       strings.TrimSpace(row.Rank),
		Status:     status,
	}
	if m.GivenName == "" && m.FamilyName == "" {
		return MemberRecord{}, hold("missing name")
	}

	orgID, err := parseID(row.OrgID)
	if err != nil {
		return MemberRecord{}, hold("missing organization")
	}
	org, ok := b.orgs[orgID]
	if !ok {
		return MemberRecord{}, hold(fmt.Sprintf("unknown organization %d", orgID))
	}
	if org.Path == "" {
		return MemberRecord{}, hold(errMissingPath.Error())
	}
	m.OrgID = orgID

	if email := b.emails[id]; email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return MemberRecord{}, hold("invalid email syntax")
		}
		normalized := NormalizeAddress(email)
		if owner, taken := b.seenEmails[normalized]; taken {
			return MemberRecord{}, hold(fmt.Sprintf("email already used by member %d", owner))
		}
		b.seenEmails[normalized] = id
		m.Email = normalized
	}

	if m.LastModified, err = parseTimestamp(row.LastModified); err != nil {
		return MemberRecord{}, hold("invalid last-modified timestamp")
	}

	return m, nil
}

func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("missing id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func parseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return StatusActive, nil
	case "inactive", "expired":
		return StatusInactive, nil
	case "":
		return "", errors.New("missing status")
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

var timestampLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "01/02/2006"}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// primaryEmails picks one email per member, preferring primary entries
func primaryEmails(rows []ContactRow) map[int64]string {
	out := make(map[int64]string)
	primary := make(map[int64]bool)
	for _, row := range rows {
		if !strings.EqualFold(strings.TrimSpace(row.Kind), "email") {
			continue
		}
		id, err := parseID(row.MemberID)
		if err != nil {
			continue
		}
		value := strings.TrimSpace(row.Value)
		if value == "" || primary[id] {
			continue
		}
		isPrimary := strings.EqualFold(strings.TrimSpace(row.Priority), "primary")
		if isPrimary || out[id] == "" {
			out[id] = value
			primary[id] = isPrimary
		}
	}
	return out
}

func assignments(rows []AssignmentRow) map[int64][]string {
	out := make(map[int64][]string)
	for _, row := range rows {
		id, err := parseID(row.MemberID)
		if err != nil {
			continue
		}
		code := strings.TrimSpace(row.Code)
		if code == "" {
			continue
		}
		out[id] = append(out[id], code)
	}
	return out
}
