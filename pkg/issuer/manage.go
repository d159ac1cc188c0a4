// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package issuer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/tokengate/pkg/audit"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

// ErrHistoryDisabled is returned by History when no history store is
// configured.
var ErrHistoryDisabled = httperr.WithCode(
	errors.New("token change history is not available"),
	http.StatusNotFound,
)

// maxNameLength bounds user token names.
const maxNameLength = 64

// IsAdmin reports whether auth may manage the tokens of any user.
func IsAdmin(auth *token.Data) bool {
	return auth != nil && auth.HasScope(token.ScopeAdminToken)
}

// CanManage reports whether auth may list, create and revoke the tokens of
// username. Users manage their own tokens with user:token, whatever the
// type of the authenticating token; admin:token manages everyone's.
func CanManage(auth *token.Data, username string) bool {
	if auth == nil {
		return false
	}
	if IsAdmin(auth) {
		return true
	}
	return auth.Username == username && auth.HasScope(token.ScopeUserToken)
}

// UserTokenRequest describes a user or service token to create.
type UserTokenRequest struct {
	Username string
	Name     string
	Scopes   []string
	Expires  *time.Time
	// Type is user by default. Only administrators may create service
	// tokens.
	Type token.Type
}

// CreateUserToken creates a long-lived token on behalf of auth.
func (i *Issuer) CreateUserToken(ctx context.Context, auth *token.Data, req UserTokenRequest, ip string) (token.Token, *token.Data, error) {
	if !CanManage(auth, req.Username) {
		return token.Token{}, nil, ErrPermissionDenied
	}
	if req.Type == "" {
		req.Type = token.TypeUser
	}
	if req.Type != token.TypeUser && !(req.Type == token.TypeService && IsAdmin(auth)) {
		return token.Token{}, nil, fmt.Errorf("%w: cannot create a %q token", ErrInvalidRequest, req.Type)
	}
	if err := token.ValidateUsername(req.Username); err != nil {
		return token.Token{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	name := strings.TrimSpace(req.Name)
	if err := validateName(req.Type, name); err != nil {
		return token.Token{}, nil, err
	}
	if err := i.checkScopes(req.Scopes); err != nil {
		return token.Token{}, nil, err
	}
	scopes := token.NormalizeScopes(req.Scopes)
	if !IsAdmin(auth) && !token.IsSubset(scopes, auth.Scopes) {
		return token.Token{}, nil, ErrEscalation
	}

	now := i.now().UTC()
	if err := i.validateExpires(req.Expires, now); err != nil {
		return token.Token{}, nil, err
	}

	data := &token.Data{
		Type:     req.Type,
		Username: req.Username,
		Scopes:   scopes,
		Created:  now,
		Expires:  utcPtr(req.Expires),
		Name:     name,
	}
	if auth.Username == req.Username {
		data.DisplayName = auth.DisplayName
		data.Email = auth.Email
		data.UID = auth.UID
		data.Groups = slices.Clone(auth.Groups)
	}
	tok, err := i.create(ctx, data, false)
	if err != nil {
		return token.Token{}, nil, err
	}
	i.record(ctx, audit.NewEvent(audit.ActionCreate, data, auth.Username, ip))
	return tok, data, nil
}

func validateName(t token.Type, name string) error {
	if t == token.TypeUser && name == "" {
		return fmt.Errorf("%w: token name is required", ErrInvalidRequest)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: token name longer than %d characters", ErrInvalidRequest, maxNameLength)
	}
	return nil
}

func (i *Issuer) validateExpires(expires *time.Time, now time.Time) error {
	if err := token.ValidateExpires(expires, now); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if i.config.UserMaxLifetime > 0 {
		if expires == nil || expires.After(now.Add(i.config.UserMaxLifetime)) {
			return fmt.Errorf("%w: token lifetime may not exceed %s", ErrInvalidRequest, i.config.UserMaxLifetime)
		}
	}
	return nil
}

// ListTokens returns the live tokens of username.
func (i *Issuer) ListTokens(ctx context.Context, auth *token.Data, username string) ([]token.Info, error) {
	if !CanManage(auth, username) {
		return nil, ErrPermissionDenied
	}
	infos := []token.Info{}
	for d, err := range i.store.ListTokens(ctx, username) {
		if err != nil {
			return nil, err
		}
		infos = append(infos, d.Info())
	}
	slices.SortFunc(infos, func(a, b token.Info) int {
		return b.Created.Compare(a.Created)
	})
	return infos, nil
}

// GetToken returns the token key owned by username.
func (i *Issuer) GetToken(ctx context.Context, auth *token.Data, username, key string) (*token.Data, error) {
	if !CanManage(auth, username) {
		return nil, ErrPermissionDenied
	}
	d, err := i.store.GetToken(ctx, key)
	if err != nil {
		return nil, err
	}
	if d.Username != username {
		return nil, storage.ErrNotFound
	}
	return d, nil
}

// TokenChanges lists the edits to a user or service token. Nil fields are
// left unchanged.
type TokenChanges struct {
	Name   *string
	Scopes []string
	// Expires is applied when SetExpires is true. Nil means never.
	Expires    *time.Time
	SetExpires bool
}

// ModifyToken changes the name, scopes or expiry of a user or service
// token. Descendants lose scopes the token no longer has and are
// shortened to its new expiry.
func (i *Issuer) ModifyToken(ctx context.Context, auth *token.Data, username, key string, changes TokenChanges, ip string) (*token.Data, error) {
	current, err := i.GetToken(ctx, auth, username, key)
	if err != nil {
		return nil, err
	}
	if current.Type != token.TypeUser && current.Type != token.TypeService {
		return nil, fmt.Errorf("%w: only user and service tokens can be edited", ErrInvalidRequest)
	}

	var update storage.TokenUpdate
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if err := validateName(current.Type, name); err != nil {
			return nil, err
		}
		update.Name = &name
	}
	if changes.Scopes != nil {
		if err := i.checkScopes(changes.Scopes); err != nil {
			return nil, err
		}
		scopes := token.NormalizeScopes(changes.Scopes)
		if !IsAdmin(auth) && !token.IsSubset(scopes, auth.Scopes) {
			return nil, ErrEscalation
		}
		update.Scopes = scopes
	}
	if changes.SetExpires {
		if err := i.validateExpires(changes.Expires, i.now().UTC()); err != nil {
			return nil, err
		}
		update.Expires = utcPtr(changes.Expires)
		update.SetExpires = true
	}
	if update.Name == nil && update.Scopes == nil && !update.SetExpires {
		return nil, fmt.Errorf("%w: no changes requested", ErrInvalidRequest)
	}

	updated, err := i.store.UpdateToken(ctx, key, update)
	if err != nil {
		return nil, err
	}
	event := audit.NewEvent(audit.ActionEdit, updated, auth.Username, ip)
	if update.Name != nil && current.Name != updated.Name {
		event.OldName = current.Name
	}
	if update.Scopes != nil && !slices.Equal(current.Scopes, updated.Scopes) {
		event.OldScopes = token.NormalizeScopes(current.Scopes)
	}
	if update.SetExpires {
		event.OldExpires = current.Expires
	}
	i.record(ctx, event)

	if update.Scopes != nil || (update.SetExpires && updated.Expires != nil) {
		if err := i.constrainChildren(ctx, key, updated.Scopes, updated.Expires, auth.Username, ip); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// constrainChildren removes scopes outside scopes from every descendant of
// key and shortens those expiring after limit.
func (i *Issuer) constrainChildren(ctx context.Context, key string, scopes []string, limit *time.Time, actor, ip string) error {
	children, err := i.store.Children(ctx, key)
	if err != nil {
		return err
	}
	for _, child := range children {
		d, err := i.store.GetToken(ctx, child)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		var update storage.TokenUpdate
		if limit != nil && (d.Expires == nil || d.Expires.After(*limit)) {
			update.Expires = limit
			update.SetExpires = true
		}
		if !token.IsSubset(d.Scopes, scopes) {
			update.Scopes = intersect(d.Scopes, scopes)
		}
		if update.SetExpires || update.Scopes != nil {
			updated, err := i.store.UpdateToken(ctx, child, update)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			event := audit.NewEvent(audit.ActionEdit, updated, actor, ip)
			if update.SetExpires {
				event.OldExpires = d.Expires
			}
			if update.Scopes != nil {
				event.OldScopes = slices.Clone(d.Scopes)
			}
			i.record(ctx, event)
			d = updated
		}
		if err := i.constrainChildren(ctx, child, d.Scopes, d.Expires, actor, ip); err != nil {
			return err
		}
	}
	return nil
}

func intersect(scopes, of []string) []string {
	out := []string{}
	for _, s := range scopes {
		if slices.Contains(of, s) {
			out = append(out, s)
		}
	}
	return out
}

// Revoke revokes the token key owned by username and all of its
// descendants. One revoke event is recorded per removed token.
func (i *Issuer) Revoke(ctx context.Context, auth *token.Data, username, key, ip string) ([]*token.Data, error) {
	if _, err := i.GetToken(ctx, auth, username, key); err != nil {
		return nil, err
	}
	return i.revoke(ctx, key, auth.Username, ip)
}

// RevokeSelf revokes the authenticating token, as done on logout.
func (i *Issuer) RevokeSelf(ctx context.Context, auth *token.Data, ip string) ([]*token.Data, error) {
	return i.revoke(ctx, auth.Key, auth.Username, ip)
}

func (i *Issuer) revoke(ctx context.Context, key, actor, ip string) ([]*token.Data, error) {
	revoked, err := i.store.RevokeToken(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, d := range revoked {
		i.record(ctx, audit.NewEvent(audit.ActionRevoke, d, actor, ip))
	}
	i.metrics.TokensRevoked(len(revoked))
	return revoked, nil
}

// History returns a page of the token change history of username.
func (i *Issuer) History(ctx context.Context, auth *token.Data, username string, filter audit.Filter) (*audit.Page, error) {
	if !CanManage(auth, username) {
		return nil, ErrPermissionDenied
	}
	filter.Username = username
	return i.listHistory(ctx, filter)
}

// AllHistory returns a page of the token change history of every user.
// Only administrators may read it.
func (i *Issuer) AllHistory(ctx context.Context, auth *token.Data, filter audit.Filter) (*audit.Page, error) {
	if !IsAdmin(auth) {
		return nil, ErrPermissionDenied
	}
	return i.listHistory(ctx, filter)
}

func (i *Issuer) listHistory(ctx context.Context, filter audit.Filter) (*audit.Page, error) {
	if i.history == nil {
		return nil, ErrHistoryDisabled
	}
	page, err := i.history.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if page.Events == nil {
		page.Events = []audit.Event{}
	}
	return page, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
