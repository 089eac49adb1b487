package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/protocol"
)

// authResponse is the login and registration response. Older servers put
// the user fields at the top level instead of under "user".
type authResponse struct {
	Token       string            `json:"token"`
	User        *protocol.Session `json:"user"`
	Username    string            `json:"username"`
	DisplayName string            `json:"displayName"`
	Status      protocol.Status   `json:"status"`
}

func (r authResponse) session(defaultStatus protocol.Status) (protocol.Session, error) {
	if r.Token == "" {
		return protocol.Session{}, errors.New("rest: auth response without token")
	}
	var s protocol.Session
	if r.User != nil {
		s = *r.User
	} else {
		s = protocol.Session{Username: r.Username, DisplayName: r.DisplayName, Status: r.Status}
	}
	if s.Status == "" {
		s.Status = defaultStatus
	} else if st, err := protocol.ParseStatus(string(s.Status)); err == nil {
		s.Status = st
	}
	s.Token = r.Token
	return s, nil
}

// Login authenticates and returns the session. The client adopts its token.
func (c *Client) Login(ctx context.Context, username, password string) (protocol.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return protocol.Session{}, &chat.ValidationError{Field: "credentials", Reason: "username and password are required"}
	}

	var resp authResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return protocol.Session{}, err
	}
	s, err := resp.session(protocol.StatusOnline)
	if err != nil {
		return protocol.Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

type registerRequest struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	PhoneNumber *string `json:"phoneNumber"`
	DisplayName string  `json:"displayName"`
	Password    string  `json:"password"`
}

// Register creates an account and returns its session. The registration is
// validated locally first.
func (c *Client) Register(ctx context.Context, reg chat.Registration) (protocol.Session, error) {
	if err := reg.Validate(); err != nil {
		return protocol.Session{}, err
	}

	req := registerRequest{
		Username:    strings.TrimSpace(reg.Username),
		Email:       strings.TrimSpace(reg.Email),
		DisplayName: strings.TrimSpace(reg.DisplayName),
		Password:    reg.Password,
	}
	if phone := strings.TrimSpace(reg.PhoneNumber); phone != "" {
		req.PhoneNumber = &phone
	}

	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", req, &resp); err != nil {
		return protocol.Session{}, err
	}
	s, err := resp.session(protocol.StatusOffline)
	if err != nil {
		return protocol.Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// Logout invalidates the session on the server. The local token is dropped
// whether or not the call succeeds.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

// ProfileUpdate holds the editable profile fields. Empty fields are left
// unchanged by the server.
type ProfileUpdate struct {
	Username    string `json:"username,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Validate checks the non-empty fields.
func (p ProfileUpdate) Validate() error {
	if p.Username != "" {
		if err := chat.ValidateUsername(p.Username); err != nil {
			return err
		}
	}
	if p.Email != "" {
		if err := chat.ValidateEmail(p.Email); err != nil {
			return err
		}
	}
	return chat.ValidatePhone(p.PhoneNumber)
}

// UpdateProfile updates the caller's profile and returns the server's view
// of the user. The token is not part of the response; callers keep theirs.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (protocol.Session, error) {
	if err := update.Validate(); err != nil {
		return protocol.Session{}, err
	}
	var s protocol.Session
	if err := c.do(ctx, http.MethodPut, "/api/users/profile", update, &s); err != nil {
		return protocol.Session{}, err
	}
	if st, err := protocol.ParseStatus(string(s.Status)); err == nil {
		s.Status = st
	}
	s.Token = c.Token()
	return s, nil
}
