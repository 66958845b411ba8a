package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/agentchat/internal/auth"
	"github.com/Tyrowin/agentchat/internal/domain"
	"github.com/Tyrowin/agentchat/internal/logging"
	"github.com/Tyrowin/agentchat/internal/repo"
)

const maxUsernameLen = 64

var reservedUsernames = map[string]struct{}{
	"system": {},
}

func isReserved(username string) bool {
	_, ok := reservedUsernames[strings.ToLower(username)]
	return ok
}

func (d *Dispatcher) handleAuth(c *Client, action string, f Frame) {
	var err error
	switch action {
	case "register":
		err = d.register(c, f)
	case "login":
		err = d.login(c, f)
	case "resume":
		err = d.resume(c, f)
	case "change_password":
		err = d.changePassword(c, f)
	case "update_profile":
		err = d.updateProfile(c, f)
	case "logout":
		err = d.logout(c, f)
	default:
		err = ErrMalformedFrame
	}
	if err != nil {
		d.replyError(c, EventAuthError, f, err)
	}
}

func (d *Dispatcher) register(c *Client, f Frame) error {
	if d.hub.Identity(c) != "" {
		return ErrAlreadyAuthenticated
	}
	username := strings.TrimSpace(f.Username)
	if username == "" || f.Password == "" {
		return fmt.Errorf("%w: username and password required", ErrInvalidRequest)
	}
	if len(username) > maxUsernameLen {
		return fmt.Errorf("%w: username longer than %d characters", ErrInvalidRequest, maxUsernameLen)
	}
	if isReserved(username) {
		return ErrReservedUsername
	}

	ctx := d.hub.Context()
	hash, err := d.auth.HashPassword(f.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user, err := d.store.CreateUser(ctx, username, hash)
	if errors.Is(err, repo.ErrAlreadyExists) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return d.bindAndReply(c, f, user, "")
}

func (d *Dispatcher) login(c *Client, f Frame) error {
	if d.hub.Identity(c) != "" {
		return ErrAlreadyAuthenticated
	}
	username := strings.TrimSpace(f.Username)
	if username == "" || f.Password == "" {
		return fmt.Errorf("%w: username and password required", ErrInvalidRequest)
	}

	user, err := d.store.GetUser(d.hub.Context(), username)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if !d.auth.VerifyPassword(f.Password, user.Password) {
		return ErrInvalidCredentials
	}
	return d.bindAndReply(c, f, user, "")
}

// resume binds the identity behind an existing token. No new token is issued.
func (d *Dispatcher) resume(c *Client, f Frame) error {
	if d.hub.Identity(c) != "" {
		return ErrAlreadyAuthenticated
	}
	ctx := d.hub.Context()
	username, err := d.auth.ResolveToken(ctx, f.Token)
	if err != nil {
		return err
	}
	user, err := d.store.GetUser(ctx, username)
	if errors.Is(err, repo.ErrNotFound) {
		return auth.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	return d.bindAndReply(c, f, user, f.Token)
}

// bindAndReply binds user to c and sends auth:success. An empty token means
// a fresh one is issued.
func (d *Dispatcher) bindAndReply(c *Client, f Frame, user *domain.User, token string) error {
	ctx := d.hub.Context()
	issued := token == ""
	if issued {
		var err error
		if token, err = d.auth.IssueToken(ctx, user.Username); err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
	}
	if err := d.hub.Bind(c, user.Username, token); err != nil {
		if issued {
			_ = d.auth.RevokeToken(ctx, token)
		}
		return err
	}

	c.log.Info().Str(logging.FieldUsername, user.Username).Str("via", f.Type).Msg("session authenticated")
	profile := user.Profile()
	d.reply(c, AuthSuccessEvent{Type: EventAuthSuccess, Ref: f.Ref, Token: token, User: &profile})
	return nil
}

func (d *Dispatcher) changePassword(c *Client, f Frame) error {
	identity := d.hub.Identity(c)
	if identity == "" {
		return ErrUnauthenticated
	}
	if f.NewPassword == "" {
		return fmt.Errorf("%w: new password required", ErrInvalidRequest)
	}

	ctx := d.hub.Context()
	user, err := d.store.GetUser(ctx, identity)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if !d.auth.VerifyPassword(f.OldPassword, user.Password) {
		return ErrIncorrectPassword
	}
	hash, err := d.auth.HashPassword(f.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := d.store.UpdatePassword(ctx, identity, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	d.reply(c, AuthSuccessEvent{Type: EventAuthSuccess, Ref: f.Ref, Message: "Password changed"})
	return nil
}

func (d *Dispatcher) updateProfile(c *Client, f Frame) error {
	identity := d.hub.Identity(c)
	if identity == "" {
		return ErrUnauthenticated
	}
	user, err := d.store.UpdateProfile(d.hub.Context(), identity, f.Avatar, f.About)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	d.reply(c, ProfileUpdatedEvent{Type: EventAuthProfileUpdated, Ref: f.Ref, User: user.Profile()})
	return nil
}

// logout revokes the session token and closes the connection after the
// reply is flushed.
func (d *Dispatcher) logout(c *Client, f Frame) error {
	if d.hub.Identity(c) == "" {
		return ErrUnauthenticated
	}
	if err := d.auth.RevokeToken(d.hub.Context(), d.hub.SessionToken(c)); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	d.reply(c, AuthSuccessEvent{Type: EventAuthSuccess, Ref: f.Ref, Message: "Logged out"})
	d.hub.disconnect(c)
	return nil
}
