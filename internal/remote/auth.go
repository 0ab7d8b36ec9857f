package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/marcus/offsync/internal/models"
)

// userResponse is the auth provider's user object.
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// sessionResponse is returned by sign-in and sign-up.
type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	User         userResponse `json:"user"`
}

func (u userResponse) toIdentity(token string) *models.Identity {
	meta := make(map[string]string, len(u.UserMetadata))
	for k, v := range u.UserMetadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	return &models.Identity{
		ID:          u.ID,
		Email:       u.Email,
		Metadata:    meta,
		AccessToken: token,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn exchanges email and password for a session. The returned identity is
// raw: it carries provider metadata but no profile fields.
func (c *Client) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	var resp sessionResponse
	path := "/auth/v1/token?grant_type=password"
	if err := c.do(ctx, http.MethodPost, path, credentials{Email: email, Password: password}, &resp, nil); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return resp.User.toIdentity(resp.AccessToken), nil
}

// SignUp registers a new account and returns its session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*models.Identity, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", credentials{Email: email, Password: password}, &resp, nil); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	return resp.User.toIdentity(resp.AccessToken), nil
}

// SignOut revokes the client's access token.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// GetCurrentUser returns the user the client's token belongs to.
// ErrNoSession is returned when the token is missing or rejected.
func (c *Client) GetCurrentUser(ctx context.Context) (*models.Identity, error) {
	if c.Token == "" {
		return nil, ErrNoSession
	}
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, &resp, nil); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return resp.toIdentity(c.Token), nil
}

// ProfileRecord is a row of the profiles table. Nil fields are absent (or
// null) on the server.
type ProfileRecord struct {
	ID        string  `json:"id"`
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

// GetProfile returns the profile for userID, or nil when none exists yet.
func (c *Client) GetProfile(ctx context.Context, userID string) (*ProfileRecord, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("id", eq(userID))
	params.Set("limit", "1")

	var out []ProfileRecord
	if err := c.do(ctx, http.MethodGet, "/rest/v1/profiles"+encodeQuery(params), nil, &out, nil); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// UpsertProfile creates the profile or merges into an existing one with the
// same id, so repeated calls are harmless.
func (c *Client) UpsertProfile(ctx context.Context, p ProfileRecord) error {
	h := http.Header{}
	h.Set("Prefer", "resolution=merge-duplicates")
	if err := c.do(ctx, http.MethodPost, "/rest/v1/profiles?on_conflict=id", p, nil, h); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// UpdateProfile applies a partial update to the profile of userID.
func (c *Client) UpdateProfile(ctx context.Context, userID string, fields map[string]any) error {
	params := url.Values{}
	params.Set("id", eq(userID))
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/profiles"+encodeQuery(params), fields, nil, nil); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}
