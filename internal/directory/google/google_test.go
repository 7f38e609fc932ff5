package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/stacklok/roster-sync/internal/config"
	"github.com/stacklok/roster-sync/internal/directory"
	"github.com/stacklok/roster-sync/internal/retry"
)

type request struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []request
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &req.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	f.handler(w, r)
}

func (f *fakeAPI) last() request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func writeError(w http.ResponseWriter, code int, reason string) {
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"failed","errors":[{"reason":%q,"message":"failed"}]}}`, code, reason)
}

func newTestDirectory(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (directory.Directory, *fakeAPI) {
	t.Helper()

	api := &fakeAPI{handler: handler}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	dir, err := NewWithOptions(context.Background(), &config.GoogleConfig{AdminSubject: "admin@example.org"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return dir, api
}

func TestListUsers(t *testing.T) {
	t.Parallel()

	dir, api := newTestDirectory(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"users": [{
				"primaryEmail": "alice@example.org",
				"name": {"givenName": "Alice", "familyName": "Able"},
				"orgUnitPath": "/Wing/G1",
				"suspended": true,
				"creationTime": "2020-01-02T03:04:05.000Z",
				"lastLoginTime": "1970-01-01T00:00:00.000Z",
				"externalIds": [{"type": "account", "value": "x"}, {"type": "organization", "value": "12345"}]
			}],
			"nextPageToken": "next"
		}`)
	})

	page, err := dir.ListUsers(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "next", page.NextPageToken)
	require.Len(t, page.Users, 1)

	u := page.Users[0]
	assert.Equal(t, "alice@example.org", u.Address)
	assert.Equal(t, "Alice", u.GivenName)
	assert.Equal(t, "Able", u.FamilyName)
	assert.Equal(t, "/Wing/G1", u.OrgUnitPath)
	assert.Equal(t, "12345", u.ExternalID)
	assert.True(t, u.Suspended)
	assert.False(t, u.Archived)
	assert.Equal(t, 2020, u.CreationTime.Year())
	assert.True(t, u.LastLoginTime.IsZero(), "the epoch means never logged in")

	req := api.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/admin/directory/v1/users", req.Path)
	assert.Contains(t, req.Query, "customer=my_customer")
	assert.Contains(t, req.Query, "pageToken=tok")
	assert.Contains(t, req.Query, "projection=full")
}

func TestCreateUser(t *testing.T) {
	t.Parallel()

	dir, api := newTestDirectory(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"primaryEmail":"alice@example.org"}`)
	})

	err := dir.CreateUser(context.Background(), directory.User{
		Address:     "alice@example.org",
		GivenName:   "Alice",
		FamilyName:  "Able",
		OrgUnitPath: "/Wing",
		ExternalID:  "12345",
	})
	require.NoError(t, err)

	req := api.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/admin/directory/v1/users", req.Path)
	assert.Equal(t, "alice@example.org", req.Body["primaryEmail"])
	assert.Equal(t, "/Wing", req.Body["orgUnitPath"])
	assert.Equal(t, true, req.Body["changePasswordAtNextLogin"])
	assert.NotEmpty(t, req.Body["password"])
	assert.Equal(t, []any{map[string]any{"type": "organization", "value": "12345"}}, req.Body["externalIds"])
}

func TestSetUserStateSendsFalseFlags(t *testing.T) {
	t.Parallel()

	dir, api := newTestDirectory(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	require.NoError(t, dir.SetUserState(context.Background(), "alice@example.org", directory.UserState{}))

	req := api.last()
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/admin/directory/v1/users/alice@example.org", req.Path)
	assert.Equal(t, false, req.Body["suspended"])
	assert.Equal(t, false, req.Body["archived"])
}

func TestMembers(t *testing.T) {
	t.Parallel()

	dir, api := newTestDirectory(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"members":[{"email":"a@example.org"},{"id":"no-email"},{"email":"b@example.org"}]}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	page, err := dir.ListMembers(ctx, "g@example.org", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, page.Members)
	assert.Empty(t, page.NextPageToken)
	assert.Equal(t, "/admin/directory/v1/groups/g@example.org/members", api.last().Path)

	require.NoError(t, dir.InsertMember(ctx, "g@example.org", "c@example.org"))
	req := api.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "c@example.org", req.Body["email"])
	assert.Equal(t, "MEMBER", req.Body["role"])

	require.NoError(t, dir.RemoveMember(ctx, "g@example.org", "c@example.org"))
	req = api.last()
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/admin/directory/v1/groups/g@example.org/members/c@example.org", req.Path)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		code      int
		reason    string
		op        retry.Op
		wantCode  int
		wantClass retry.Class
	}{
		{name: "rate_limited_forbidden", code: 403, reason: "userRateLimitExceeded", op: retry.OpInsert, wantCode: 429, wantClass: retry.ClassTransient},
		{name: "plain_forbidden", code: 403, reason: "forbidden", op: retry.OpInsert, wantCode: 403, wantClass: retry.ClassFatal},
		{name: "duplicate", code: 409, reason: "duplicate", op: retry.OpInsert, wantCode: 409, wantClass: retry.ClassPermanentExpected},
		{name: "bad_request", code: 400, reason: "invalid", op: retry.OpInsert, wantCode: 400, wantClass: retry.ClassPermanentUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir, _ := newTestDirectory(t, func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, tt.code, tt.reason)
			})

			err := dir.InsertMember(context.Background(), "g@example.org", "a@example.org")
			require.Error(t, err)

			var apiErr *directory.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantCode, apiErr.StatusCode())
			assert.Equal(t, tt.wantClass, retry.Classify(tt.op, err))
		})
	}
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &config.GoogleConfig{CredentialsFile: "/does/not/exist.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read credentials file")
}
