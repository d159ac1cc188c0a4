// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"net/http"
	"strings"

	"github.com/stacklok/tokengate/pkg/token"
)

// Source records where a credential was found.
type Source string

const (
	// SourceNone means no credential was presented.
	SourceNone Source = ""
	// SourceBearer is an Authorization: Bearer header.
	SourceBearer Source = "bearer"
	// SourceBasicUsername is HTTP Basic with the token as the username.
	SourceBasicUsername Source = "basic-username"
	// SourceBasicPassword is HTTP Basic with the token as the password.
	SourceBasicPassword Source = "basic-password"
	// SourceCookie is the session cookie.
	SourceCookie Source = "cookie"
)

// BasicPlaceholder marks the half of an HTTP Basic credential that is not
// the token, following the convention used by git clients.
const BasicPlaceholder = "x-oauth-basic"

// ExtractCredential returns the credential presented with r and its
// source. The Authorization header takes precedence over the cookie; an
// Authorization header with an unsupported scheme is ignored.
func ExtractCredential(r *http.Request, cookieName string) (string, Source) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, _ := strings.Cut(strings.TrimSpace(header), " ")
		value = strings.TrimSpace(value)
		switch {
		case strings.EqualFold(scheme, "bearer") && value != "":
			return value, SourceBearer
		case strings.EqualFold(scheme, "basic"):
			if cred, source := basicCredential(r); cred != "" {
				return cred, source
			}
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, SourceCookie
		}
	}
	return "", SourceNone
}

func basicCredential(r *http.Request) (string, Source) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", SourceNone
	}
	switch {
	case username == BasicPlaceholder:
		return password, SourceBasicPassword
	case password == BasicPlaceholder:
		return username, SourceBasicUsername
	case strings.HasPrefix(username, token.Prefix):
		return username, SourceBasicUsername
	}
	return password, SourceBasicPassword
}
