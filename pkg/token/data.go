// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"fmt"
	"slices"
	"time"
)

// Type is the class of a token.
type Type string

const (
	// TypeSession is a root token created from a verified login.
	TypeSession Type = "session"
	// TypeUser is a long-lived token created by a user for API access.
	TypeUser Type = "user"
	// TypeNotebook is a child token handed to a user's notebook.
	TypeNotebook Type = "notebook"
	// TypeInternal is a child token delegated to an internal service.
	TypeInternal Type = "internal"
	// TypeService is a token issued by an administrator to a service.
	TypeService Type = "service"
)

// ParseType converts a string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown token type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known token types.
func (t Type) Valid() bool {
	switch t {
	case TypeSession, TypeUser, TypeNotebook, TypeInternal, TypeService:
		return true
	}
	return false
}

// Satisfy controls how a set of required scopes is matched.
type Satisfy string

const (
	// SatisfyAll requires every listed scope.
	SatisfyAll Satisfy = "all"
	// SatisfyAny requires at least one listed scope.
	SatisfyAny Satisfy = "any"
)

// ParseSatisfy converts a query value into a Satisfy, defaulting to all.
func ParseSatisfy(s string) (Satisfy, error) {
	switch Satisfy(s) {
	case "", SatisfyAll:
		return SatisfyAll, nil
	case SatisfyAny:
		return SatisfyAny, nil
	}
	return "", fmt.Errorf("invalid satisfy value %q", s)
}

// Data is the stored record for a token. It never holds the secret itself.
type Data struct {
	Key         string     `json:"key"`
	Fingerprint string     `json:"fingerprint"`
	Type        Type       `json:"type"`
	Username    string     `json:"username"`
	Scopes      []string   `json:"scopes"`
	Created     time.Time  `json:"created"`
	Expires     *time.Time `json:"expires,omitempty"`
	Parent      string     `json:"parent,omitempty"`
	Service     string     `json:"service,omitempty"`
	Name        string     `json:"token_name,omitempty"`
	DisplayName string     `json:"name,omitempty"`
	Email       string     `json:"email,omitempty"`
	UID         int        `json:"uid,omitempty"`
	Groups      []string   `json:"groups,omitempty"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

// Expired reports whether the token has an expiry at or before now.
func (d *Data) Expired(now time.Time) bool {
	return d.Expires != nil && !now.Before(*d.Expires)
}

// Lifetime returns the remaining lifetime of the token, or zero when the
// token does not expire.
func (d *Data) Lifetime(now time.Time) time.Duration {
	if d.Expires == nil {
		return 0
	}
	return d.Expires.Sub(now)
}

// HasScope reports whether the token carries scope.
func (d *Data) HasScope(scope string) bool {
	return slices.Contains(d.Scopes, scope)
}

// HasScopes checks required against the token's scopes. An empty required
// list is always satisfied.
func (d *Data) HasScopes(required []string, satisfy Satisfy) bool {
	if len(required) == 0 {
		return true
	}
	if satisfy == SatisfyAny {
		return slices.ContainsFunc(required, d.HasScope)
	}
	for _, s := range required {
		if !d.HasScope(s) {
			return false
		}
	}
	return true
}

// Info returns the public view of the record.
func (d *Data) Info() Info {
	return Info{
		Key:      d.Key,
		Username: d.Username,
		Type:     d.Type,
		Name:     d.Name,
		Scopes:   slices.Clone(d.Scopes),
		Service:  d.Service,
		Parent:   d.Parent,
		Created:  d.Created,
		Expires:  d.Expires,
		LastUsed: d.LastUsed,
	}
}

// Info is the view of a token exposed by the management API.
type Info struct {
	Key      string     `json:"token"`
	Username string     `json:"username"`
	Type     Type       `json:"token_type"`
	Name     string     `json:"token_name,omitempty"`
	Scopes   []string   `json:"scopes"`
	Service  string     `json:"service,omitempty"`
	Parent   string     `json:"parent,omitempty"`
	Created  time.Time  `json:"created"`
	Expires  *time.Time `json:"expires,omitempty"`
	LastUsed *time.Time `json:"last_used,omitempty"`
}

// NormalizeScopes returns a sorted copy of scopes without duplicates.
func NormalizeScopes(scopes []string) []string {
	out := slices.Clone(scopes)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// IsSubset reports whether every element of scopes is present in of.
func IsSubset(scopes, of []string) bool {
	for _, s := range scopes {
		if !slices.Contains(of, s) {
			return false
		}
	}
	return true
}

// MinExpiry returns the earlier of two optional expiry times, where nil
// means never.
func MinExpiry(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	}
	return a
}
