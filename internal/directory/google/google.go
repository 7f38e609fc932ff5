// Package google implements directory.Directory on the Google Workspace Admin
// SDK, authenticating as a service account with domain-wide delegation.
package google

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	googleoauth "golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/directory"
)

const (
	userPageSize   = 500
	memberPageSize = 200
	memberRole     = "MEMBER"
)

// Scopes are the OAuth scopes the service account must be delegated
var Scopes = []string{
	admin.AdminDirectoryUserScope,
	admin.AdminDirectoryGroupScope,
	admin.AdminDirectoryGroupMemberScope,
}

// Google reports quota exhaustion as 403 with one of these reasons.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

type workspace struct {
	svc            *admin.Service
	customer       string
	externalIDType string
}

// New reads the service account key from cfg.CredentialsFile and impersonates cfg.AdminSubject
func New(ctx context.Context, cfg *config.GoogleConfig) (directory.Directory, error) {
	key, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file '%s': %w", cfg.CredentialsFile, err)
	}

	jwtCfg, err := googleoauth.JWTConfigFromJSON(key, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}
	jwtCfg.Subject = cfg.AdminSubject

	return NewWithOptions(ctx, cfg, option.WithTokenSource(jwtCfg.TokenSource(ctx)))
}

// NewWithOptions builds the directory from explicit client options
func NewWithOptions(ctx context.Context, cfg *config.GoogleConfig, opts ...option.ClientOption) (directory.Directory, error) {
	svc, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin directory service: %w", err)
	}
	return &workspace{
		svc:            svc,
		customer:       cfg.GetCustomerID(),
		externalIDType: cfg.GetExternalIDType(),
	}, nil
}

func (w *workspace) ListUsers(ctx context.Context, pageToken string) (*directory.UserPage, error) {
	call := w.svc.Users.List().
		Customer(w.customer).
		Projection("full").
		MaxResults(userPageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, wrapErr(err)
	}

	page := &directory.UserPage{NextPageToken: resp.NextPageToken}
	for _, u := range resp.Users {
		page.Users = append(page.Users, w.fromAdmin(u))
	}
	return page, nil
}

func (w *workspace) CreateUser(ctx context.Context, user directory.User) error {
	u := w.toAdmin(user)
	u.PrimaryEmail = user.Address
	u.Password = rand.Text()
	u.ChangePasswordAtNextLogin = true
	_, err := w.svc.Users.Insert(u).Context(ctx).Do()
	return wrapErr(err)
}

func (w *workspace) UpdateUser(ctx context.Context, user directory.User) error {
	_, err := w.svc.Users.Patch(user.Address, w.toAdmin(user)).Context(ctx).Do()
	return wrapErr(err)
}

func (w *workspace) SetUserState(ctx context.Context, address string, state directory.UserState) error {
	patch := &admin.User{
		Suspended: state.Suspended,
		Archived:  state.Archived,
		// false values are omitted from the request unless forced
		ForceSendFields: []string{"Suspended", "Archived"},
	}
	_, err := w.svc.Users.Patch(address, patch).Context(ctx).Do()
	return wrapErr(err)
}

func (w *workspace) DeleteUser(ctx context.Context, address string) error {
	return wrapErr(w.svc.Users.Delete(address).Context(ctx).Do())
}

func (w *workspace) CreateGroup(ctx context.Context, group directory.Group) error {
	_, err := w.svc.Groups.Insert(&admin.Group{
		Email:       group.Address,
		Name:        group.Name,
		Description: group.Description,
	}).Context(ctx).Do()
	return wrapErr(err)
}

func (w *workspace) ListMembers(ctx context.Context, group, pageToken string) (*directory.MemberPage, error) {
	call := w.svc.Members.List(group).MaxResults(memberPageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, wrapErr(err)
	}

	page := &directory.MemberPage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Members {
		if m.Email != "" {
			page.Members = append(page.Members, m.Email)
		}
	}
	return page, nil
}

func (w *workspace) InsertMember(ctx context.Context, group, member string) error {
	_, err := w.svc.Members.Insert(group, &admin.Member{Email: member, Role: memberRole}).Context(ctx).Do()
	return wrapErr(err)
}

func (w *workspace) RemoveMember(ctx context.Context, group, member string) error {
	return wrapErr(w.svc.Members.Delete(group, member).Context(ctx).Do())
}

func (w *workspace) toAdmin(user directory.User) *admin.User {
	u := &admin.User{
		Name: &admin.UserName{
			GivenName:  user.GivenName,
			FamilyName: user.FamilyName,
		},
		OrgUnitPath: user.OrgUnitPath,
	}
	if user.ExternalID != "" {
		u.ExternalIds = []admin.UserExternalId{{Type: w.externalIDType, Value: user.ExternalID}}
	}
	return u
}

func (w *workspace) fromAdmin(u *admin.User) directory.User {
	user := directory.User{
		Address:       u.PrimaryEmail,
		OrgUnitPath:   u.OrgUnitPath,
		ExternalID:    w.externalID(u.ExternalIds),
		Suspended:     u.Suspended,
		Archived:      u.Archived,
		CreationTime:  parseTime(u.CreationTime),
		LastLoginTime: parseTime(u.LastLoginTime),
	}
	if u.Name != nil {
		user.GivenName = u.Name.GivenName
		user.FamilyName = u.Name.FamilyName
	}
	return user
}

// externalID finds the roster member ID among the account's external IDs.
// The API returns them untyped, so they are decoded through JSON.
func (w *workspace) externalID(raw any) string {
	if raw == nil {
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	var ids []admin.UserExternalId
	if err := json.Unmarshal(data, &ids); err != nil {
		return ""
	}
	for _, id := range ids {
		if id.Type == w.externalIDType || (id.Type == "custom" && id.CustomType == w.externalIDType) {
			return id.Value
		}
	}
	return ""
}

// parseTime reads an API timestamp. The epoch stands for "never".
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil || t.Unix() <= 0 {
		return time.Time{}
	}
	return t
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	code := gerr.Code
	if code == http.StatusForbidden {
		for _, item := range gerr.Errors {
			if rateLimitReasons[item.Reason] {
				code = http.StatusTooManyRequests
				break
			}
		}
	}
	return &directory.APIError{Code: code, Message: gerr.Message, Err: err}
}
