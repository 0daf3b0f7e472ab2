package platform

import (
	"context"
	"net/http"
	"net/url"
)

// User represents a platform user
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// SessionDocument is the server-side record of the device session allowed
// to act for a user.
type SessionDocument struct {
	SessionID string `json:"sessionId"`
}

// GetCurrentUser retrieves the currently authenticated user
func (c *Client) GetCurrentUser(ctx context.Context) (*User, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/users/me", nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := parseResponse(resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetSessionID writes sessionID into the user's session document.
func (c *Client) SetSessionID(ctx context.Context, userID, sessionID string) error {
	return c.patchSession(ctx, userID, sessionID)
}

// ClearSessionID empties the sessionId field of the user's session document.
func (c *Client) ClearSessionID(ctx context.Context, userID string) error {
	return c.patchSession(ctx, userID, "")
}

func (c *Client) patchSession(ctx context.Context, userID, sessionID string) error {
	path := "/api/v1/users/" + url.PathEscape(userID) + "/session"
	resp, err := c.doRequest(ctx, http.MethodPatch, path, SessionDocument{SessionID: sessionID})
	if err != nil {
		return err
	}
	return parseResponse(resp, nil)
}
