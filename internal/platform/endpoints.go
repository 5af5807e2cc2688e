package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthenticated is returned by Authenticate for a rejected token.
var ErrUnauthenticated = errors.New("unauthenticated")

type permissionCheck struct {
	Accountability Accountability `json:"accountability"`
	Collection     string         `json:"collection"`
	PrimaryKey     string         `json:"primary_key,omitempty"`
	Fields         []string       `json:"fields"`
	Action         string         `json:"action"`
}

type permissionResult struct {
	Allowed bool `json:"allowed"`
}

// CanRead implements Oracle via POST /permissions/check.
func (c *Client) CanRead(ctx context.Context, acc Accountability, collection, primaryKey string, fields []string) (bool, error) {
	if acc.Admin {
		return true, nil
	}

	var result permissionResult
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/permissions/check",
		body: permissionCheck{
			Accountability: acc,
			Collection:     collection,
			PrimaryKey:     primaryKey,
			Fields:         fields,
			Action:         "read",
		},
	}, &result)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden {
			return false, nil
		}
		return false, fmt.Errorf("check permissions: %w", err)
	}
	return result.Allowed, nil
}

type userWire struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	AdminAccess bool   `json:"admin_access"`
}

// Authenticate implements Authenticator via GET /users/me with the user's
// token.
func (c *Client) Authenticate(ctx context.Context, token string) (Accountability, error) {
	if token == "" {
		return Accountability{}, ErrUnauthenticated
	}

	var user userWire
	err := c.do(ctx, call{method: http.MethodGet, path: "/users/me", token: token}, &user)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return Accountability{}, ErrUnauthenticated
		}
		return Accountability{}, fmt.Errorf("authenticate: %w", err)
	}
	if user.ID == "" {
		return Accountability{}, ErrUnauthenticated
	}

	return Accountability{
		User:  user.ID,
		Role:  user.Role,
		Admin: user.AdminAccess,
	}, nil
}

// FetchSchema fetches the schema snapshot via GET /schema/snapshot.
func (c *Client) FetchSchema(ctx context.Context) (SchemaSnapshot, error) {
	var snap SchemaSnapshot
	if err := c.do(ctx, call{method: http.MethodGet, path: "/schema/snapshot"}, &snap); err != nil {
		return SchemaSnapshot{}, fmt.Errorf("fetch schema: %w", err)
	}
	return snap, nil
}
