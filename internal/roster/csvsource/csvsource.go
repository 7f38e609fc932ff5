// Package csvsource reads a roster export made of CSV files in one directory.
package csvsource

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/stacklok/roster-sync/internal/roster"
)

// Default file names inside the export directory
const (
	MembersFile       = "members.csv"
	OrganizationsFile = "organizations.csv"
	ContactsFile      = "contacts.csv"
	DutyPositionsFile = "duty_positions.csv"
	AchievementsFile  = "achievements.csv"
)

// Header aliases, compared after folding case and dropping spaces and underscores
var (
	memberColumns = map[string][]string{
		"id":           {"id", "capid", "memberid"},
		"given":        {"firstname", "givenname", "namefirst"},
		"family":       {"lastname", "familyname", "namelast"},
		"org":          {"orgid", "organizationid", "unitid"},
		"type":         {"type", "membertype"},
		"rank":         {"rank"},
		"status":       {"status", "mbrstatus"},
		"lastModified": {"lastmodified", "modified", "datemod"},
	}
	orgColumns = map[string][]string{
		"id":     {"id", "orgid"},
		"scope":  {"scope", "level", "scopelevel"},
		"parent": {"parentid", "nextlevel"},
		"code":   {"code", "unit"},
		"name":   {"name"},
		"path":   {"path", "orgunitpath"},
	}
	contactColumns = map[string][]string{
		"member":   {"memberid", "capid"},
		"kind":     {"type", "kind"},
		"priority": {"priority"},
		"value":    {"contact", "value"},
	}
	assignmentColumns = map[string][]string{
		"member": {"memberid", "capid"},
		"code":   {"code", "duty", "achievement", "achv"},
	}
)

// Source reads roster tables from CSV files
type Source struct {
	dir string
}

// New returns a Source reading the export in dir
func New(dir string) *Source {
	return &Source{dir: dir}
}

// Fetch reads all tables. The members and organizations files are required;
// the others are optional and read as empty when absent.
func (s *Source) Fetch(ctx context.Context) (*roster.Tables, error) {
	tables := &roster.Tables{}

	members, err := s.readTable(ctx, MembersFile, true, memberColumns, "id")
	if err != nil {
		return nil, err
	}
	for _, r := range members {
		tables.Members = append(tables.Members, roster.MemberRow{
			Line:         r.line,
			ID:           r.get("id"),
			GivenName:    r.get("given"),
			FamilyName:   r.get("family"),
			OrgID:        r.get("org"),
			Type:         r.get("type"),
			Rank:         r.get("rank"),
			Status:       r.get("status"),
			LastModified: r.get("lastModified"),
		})
	}

	orgs, err := s.readTable(ctx, OrganizationsFile, true, orgColumns, "id")
	if err != nil {
		return nil, err
	}
	for _, r := range orgs {
		tables.Organizations = append(tables.Organizations, roster.OrganizationRow{
			Line:     r.line,
			ID:       r.get("id"),
			Scope:    r.get("scope"),
			ParentID: r.get("parent"),
			Code:     r.get("code"),
			Name:     r.get("name"),
			Path:     r.get("path"),
		})
	}

	contacts, err := s.readTable(ctx, ContactsFile, false, contactColumns, "member")
	if err != nil {
		return nil, err
	}
	for _, r := range contacts {
		tables.Contacts = append(tables.Contacts, roster.ContactRow{
			Line:     r.line,
			MemberID: r.get("member"),
			Kind:     r.get("kind"),
			Priority: r.get("priority"),
			Value:    r.get("value"),
		})
	}

	if tables.DutyPositions, err = s.readAssignments(ctx, DutyPositionsFile); err != nil {
		return nil, err
	}
	if tables.Achievements, err = s.readAssignments(ctx, AchievementsFile); err != nil {
		return nil, err
	}

	return tables, nil
}

func (s *Source) readAssignments(ctx context.Context, name string) ([]roster.AssignmentRow, error) {
	rows, err := s.readTable(ctx, name, false, assignmentColumns, "member")
	if err != nil {
		return nil, err
	}
	out := make([]roster.AssignmentRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, roster.AssignmentRow{Line: r.line, MemberID: r.get("member"), Code: r.get("code")})
	}
	return out, nil
}

type row struct {
	line   int
	fields map[string]string
}

func (r row) get(key string) string {
	return strings.TrimSpace(r.fields[key])
}

func (s *Source) readTable(
	ctx context.Context, name string, required bool, columns map[string][]string, keyColumn string,
) ([]row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, name)
	// #nosec G304 -- path is the configured roster directory plus a fixed file name
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	decoded, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s is empty", name)
		}
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	index := resolveColumns(header, columns)
	if _, ok := index[keyColumn]; !ok {
		return nil, fmt.Errorf("%s has no %s column", name, keyColumn)
	}

	var rows []row
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s line %d: %w", name, line, err)
		}
		if isBlank(record) {
			continue
		}

		fields := make(map[string]string, len(index))
		for key, col := range index {
			if col < len(record) {
				fields[key] = record[col]
			}
		}
		rows = append(rows, row{line: line, fields: fields})
	}
	return rows, nil
}

func resolveColumns(header []string, columns map[string][]string) map[string]int {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		positions[foldHeader(h)] = i
	}

	index := make(map[string]int, len(columns))
	for key, aliases := range columns {
		for _, alias := range aliases {
			if pos, ok := positions[alias]; ok {
				index[key] = pos
				break
			}
		}
	}
	return index
}

func foldHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// decode returns UTF-8 text. A BOM selects UTF-8 or UTF-16; text without a
// BOM that is not valid UTF-8 is read as Latin-1.
func decode(data []byte) ([]byte, error) {
	if hasBOM(data) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		return out, err
	}
	if utf8.Valid(data) {
		return data, nil
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	return out, err
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}
