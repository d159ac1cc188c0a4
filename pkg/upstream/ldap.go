// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Defaults for the LDAP group lookup.
const (
	DefaultLDAPGroupFilter   = "(&(objectClass=posixGroup)(memberUid={username}))"
	DefaultLDAPGroupNameAttr = "cn"
	DefaultLDAPTimeout       = 5 * time.Second
)

// LDAPConfig configures group enrichment from an LDAP directory.
type LDAPConfig struct {
	URL          string
	BindDN       string
	BindPassword string

	// GroupBaseDN is searched for groups the user is a member of.
	GroupBaseDN string
	// GroupFilter is the search filter; {username} is replaced by the
	// escaped username.
	GroupFilter string
	// GroupNameAttr is the attribute holding the group name.
	GroupNameAttr string

	// UserBaseDN, when set, is searched for the user's uidNumber.
	UserBaseDN   string
	UIDAttribute string

	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Validate checks that required fields are set.
func (c *LDAPConfig) Validate() error {
	if c.URL == "" {
		return errors.New("ldap url is required")
	}
	if c.GroupBaseDN == "" {
		return errors.New("ldap group_base_dn is required")
	}
	if c.GroupFilter != "" && !strings.Contains(c.GroupFilter, "{username}") {
		return errors.New("ldap group_filter must contain {username}")
	}
	return nil
}

// ldapConn is the subset of *ldap.Conn used by LDAPEnricher.
type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type ldapDialer func(ctx context.Context, cfg *LDAPConfig) (ldapConn, error)

// LDAPEnricher resolves group memberships, and optionally a numeric uid,
// from an LDAP directory after a login provider has authenticated the user.
type LDAPEnricher struct {
	config *LDAPConfig
	dial   ldapDialer
}

var _ Enricher = (*LDAPEnricher)(nil)

// NewLDAPEnricher creates an LDAP enricher.
func NewLDAPEnricher(config *LDAPConfig) (*LDAPEnricher, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &LDAPEnricher{config: config, dial: dialLDAP}, nil
}

func dialLDAP(ctx context.Context, cfg *LDAPConfig) (ldapConn, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultLDAPTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: timeout})}
	if cfg.TLSConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(cfg.TLSConfig))
	}
	conn, err := ldap.DialURL(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(timeout)
	return conn, nil
}

// Enrich adds the user's LDAP groups to id.Groups. When a user base DN is
// configured and id.UID is unset, it also fills in the uid.
func (e *LDAPEnricher) Enrich(ctx context.Context, id *Identity) error {
	if id == nil || id.Username == "" {
		return errors.New("identity has no username")
	}

	conn, err := e.dial(ctx, e.config)
	if err != nil {
		return fmt.Errorf("%w: ldap dial: %w", ErrUnreachable, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("failed to close ldap connection", "error", err)
		}
	}()

	if e.config.BindDN != "" {
		if err := conn.Bind(e.config.BindDN, e.config.BindPassword); err != nil {
			return classifyLDAPError("bind", err)
		}
	}

	groups, err := e.searchGroups(conn, id.Username)
	if err != nil {
		return err
	}
	id.AddGroups(groups...)

	if e.config.UserBaseDN != "" && id.UID == 0 {
		uid, err := e.searchUID(conn, id.Username)
		if err != nil {
			return err
		}
		id.UID = uid
	}

	slog.Debug("ldap enrichment complete",
		"username", id.Username,
		"groups", len(groups),
	)
	return nil
}

func (e *LDAPEnricher) searchGroups(conn ldapConn, username string) ([]string, error) {
	filter := valueOr(e.config.GroupFilter, DefaultLDAPGroupFilter)
	filter = strings.ReplaceAll(filter, "{username}", ldap.EscapeFilter(username))
	attr := valueOr(e.config.GroupNameAttr, DefaultLDAPGroupNameAttr)

	req := ldap.NewSearchRequest(
		e.config.GroupBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{attr},
		nil,
	)
	result, err := conn.Search(req)
	if err != nil {
		return nil, classifyLDAPError("group search", err)
	}

	groups := make([]string, 0, len(result.Entries))
	for _, entry := range result.Entries {
		if name := entry.GetAttributeValue(attr); name != "" {
			groups = append(groups, name)
		}
	}
	return groups, nil
}

func (e *LDAPEnricher) searchUID(conn ldapConn, username string) (int, error) {
	attr := valueOr(e.config.UIDAttribute, "uidNumber")
	req := ldap.NewSearchRequest(
		e.config.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		fmt.Sprintf("(uid=%s)", ldap.EscapeFilter(username)),
		[]string{attr},
		nil,
	)
	result, err := conn.Search(req)
	if err != nil {
		return 0, classifyLDAPError("user search", err)
	}
	if len(result.Entries) == 0 {
		return 0, fmt.Errorf("%w: user %s not found in ldap", ErrDenied, username)
	}
	uid, err := strconv.Atoi(result.Entries[0].GetAttributeValue(attr))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s for %s: %w", ErrDenied, attr, username, err)
	}
	return uid, nil
}

func classifyLDAPError(op string, err error) error {
	if ldap.IsErrorAnyOf(err, ldap.ErrorNetwork, ldap.LDAPResultBusy, ldap.LDAPResultUnavailable, ldap.LDAPResultTimeLimitExceeded) {
		return fmt.Errorf("%w: ldap %s: %w", ErrUnreachable, op, err)
	}
	return fmt.Errorf("%w: ldap %s: %w", ErrDenied, op, err)
}
