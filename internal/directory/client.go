package directory

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/roster-sync/internal/otel"
	"github.com/stacklok/roster-sync/internal/retry"
)

// Client is the only path that mutates the directory. Every call runs under
// the retry policy, and every failure it returns is a classified *retry.Error.
type Client struct {
	dir    Directory
	policy retry.Policy
	dryRun bool
	tracer trace.Tracer
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithPolicy sets the retry policy
func WithPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithDryRun makes every mutation a logged no-op. Listings still reach the directory.
func WithDryRun(dryRun bool) ClientOption {
	return func(c *Client) {
		c.dryRun = dryRun
	}
}

// WithTracer traces every mutation as a child span of the caller's context
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// NewClient wraps dir
func NewClient(dir Directory, opts ...ClientOption) *Client {
	c := &Client{dir: dir, policy: retry.DefaultPolicy()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DryRun reports whether mutations are skipped
func (c *Client) DryRun() bool {
	return c.dryRun
}

// Ping lists a single page of accounts. It fails the same way the first
// real call would when the credentials are rejected.
func (c *Client) Ping(ctx context.Context) error {
	_, err := retry.Do(ctx, c.policy, retry.OpList, func(ctx context.Context) (*UserPage, error) {
		return c.dir.ListUsers(ctx, "")
	})
	if err != nil {
		return fmt.Errorf("failed to reach the directory: %w", err)
	}
	return nil
}

// ListAllUsers pages through every account
func (c *Client) ListAllUsers(ctx context.Context) ([]User, error) {
	var users []User
	token := ""
	for {
		page, err := retry.Do(ctx, c.policy, retry.OpList, func(ctx context.Context) (*UserPage, error) {
			return c.dir.ListUsers(ctx, token)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		users = append(users, page.Users...)
		if page.NextPageToken == "" {
			return users, nil
		}
		token = page.NextPageToken
	}
}

// ListAllMembers pages through every member address of group
func (c *Client) ListAllMembers(ctx context.Context, group string) ([]string, error) {
	var members []string
	token := ""
	for {
		page, err := retry.Do(ctx, c.policy, retry.OpList, func(ctx context.Context) (*MemberPage, error) {
			return c.dir.ListMembers(ctx, group, token)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list members of '%s': %w", group, err)
		}
		members = append(members, page.Members...)
		if page.NextPageToken == "" {
			return members, nil
		}
		token = page.NextPageToken
	}
}

// CreateUser creates an account
func (c *Client) CreateUser(ctx context.Context, user User) error {
	return c.mutate(ctx, retry.OpInsert, "create user", user.Address, func(ctx context.Context) error {
		return c.dir.CreateUser(ctx, user)
	})
}

// UpdateUser updates an account's profile
func (c *Client) UpdateUser(ctx context.Context, user User) error {
	return c.mutate(ctx, retry.OpUpdate, "update user", user.Address, func(ctx context.Context) error {
		return c.dir.UpdateUser(ctx, user)
	})
}

// Suspend blocks sign-in for an account
func (c *Client) Suspend(ctx context.Context, address string) error {
	return c.setState(ctx, "suspend user", address, UserState{Suspended: true})
}

// Archive suspends and archives an account
func (c *Client) Archive(ctx context.Context, address string) error {
	return c.setState(ctx, "archive user", address, UserState{Suspended: true, Archived: true})
}

// Reactivate clears the suspended and archived flags
func (c *Client) Reactivate(ctx context.Context, address string) error {
	return c.setState(ctx, "reactivate user", address, UserState{})
}

func (c *Client) setState(ctx context.Context, action, address string, state UserState) error {
	return c.mutate(ctx, retry.OpUpdate, action, address, func(ctx context.Context) error {
		return c.dir.SetUserState(ctx, address, state)
	})
}

// Delete permanently deletes an account
func (c *Client) Delete(ctx context.Context, address string) error {
	return c.mutate(ctx, retry.OpDelete, "delete user", address, func(ctx context.Context) error {
		return c.dir.DeleteUser(ctx, address)
	})
}

// CreateGroup creates a group. An existing group fails with an expected error.
func (c *Client) CreateGroup(ctx context.Context, group Group) error {
	return c.mutate(ctx, retry.OpInsert, "create group", group.Address, func(ctx context.Context) error {
		return c.dir.CreateGroup(ctx, group)
	})
}

// AddMember adds member to group. An existing membership fails with an expected error.
func (c *Client) AddMember(ctx context.Context, group, member string) error {
	return c.mutate(ctx, retry.OpInsert, "add member", member, func(ctx context.Context) error {
		return c.dir.InsertMember(ctx, group, member)
	}, "group", group)
}

// RemoveMember removes member from group. A missing membership fails with an expected error.
func (c *Client) RemoveMember(ctx context.Context, group, member string) error {
	return c.mutate(ctx, retry.OpRemove, "remove member", member, func(ctx context.Context) error {
		return c.dir.RemoveMember(ctx, group, member)
	}, "group", group)
}

func (c *Client) mutate(
	ctx context.Context, op retry.Op, action, address string, fn func(context.Context) error, kv ...any,
) error {
	ctxLogger := logr.FromContextOrDiscard(ctx).WithValues(append([]any{"action", action, "address", address}, kv...)...)
	if c.dryRun {
		ctxLogger.Info("Dry run, skipping directory mutation")
		return nil
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "directory."+string(op),
		trace.WithAttributes(otel.AttrOperation.String(action), otel.AttrAddress.String(address)),
	)
	defer span.End()

	err := retry.Call(ctx, c.policy, op, fn)
	if err != nil && !retry.IsExpected(err) {
		otel.RecordError(span, err, otel.AttrErrClass.String(retry.ClassOf(err).String()))
	}
	switch {
	case err == nil:
		ctxLogger.V(1).Info("Directory mutation applied")
	case retry.IsExpected(err):
		ctxLogger.Info("Directory already in desired state", "reason", err.Error())
	default:
		ctxLogger.Error(err, "Directory mutation failed", "class", retry.ClassOf(err).String())
	}
	return err
}
