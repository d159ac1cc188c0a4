// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	t.Parallel()

	tok := New()
	assert.Len(t, tok.Key, partLength)
	assert.Len(t, tok.Secret, partLength)
	assert.NotEqual(t, tok.Key, tok.Secret)

	parsed, err := Parse(tok.String())
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)
	assert.True(t, strings.HasPrefix(tok.String(), "gt-"))
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	valid := New()
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "no prefix", input: valid.Key + "." + valid.Secret},
		{name: "ticket prefix", input: TicketPrefix + valid.Key + "." + valid.Secret},
		{name: "no separator", input: Prefix + valid.Key + valid.Secret},
		{name: "short key", input: Prefix + "abc." + valid.Secret},
		{name: "long secret", input: Prefix + valid.Key + "." + valid.Secret + "x"},
		{name: "bad alphabet", input: Prefix + strings.Repeat("*", partLength) + "." + valid.Secret},
		{name: "extra separator", input: Prefix + valid.Key + ".." + valid.Secret},
		{name: "jwt", input: "eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiJ4In0.sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.input)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestTicketRoundTrip(t *testing.T) {
	t.Parallel()

	ticket := NewTicket()
	parsed, err := ParseTicket(ticket.String())
	require.NoError(t, err)
	assert.Equal(t, ticket, parsed)

	_, err = ParseTicket(New().String())
	require.ErrorIs(t, err, ErrMalformed)
}

func TestHasScopes(t *testing.T) {
	t.Parallel()

	data := &Data{Scopes: []string{"read", "write"}}

	tests := []struct {
		name     string
		required []string
		satisfy  Satisfy
		want     bool
	}{
		{name: "none required", required: nil, satisfy: SatisfyAll, want: true},
		{name: "all present", required: []string{"read", "write"}, satisfy: SatisfyAll, want: true},
		{name: "one missing", required: []string{"read", "admin"}, satisfy: SatisfyAll, want: false},
		{name: "only missing", required: []string{"admin"}, satisfy: SatisfyAll, want: false},
		{name: "any with one present", required: []string{"read", "admin"}, satisfy: SatisfyAny, want: true},
		{name: "any with none present", required: []string{"admin"}, satisfy: SatisfyAny, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, data.HasScopes(tt.required, tt.satisfy))
		})
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.False(t, (&Data{}).Expired(now))
	assert.True(t, (&Data{Expires: &past}).Expired(now))
	assert.True(t, (&Data{Expires: &now}).Expired(now))
	assert.False(t, (&Data{Expires: &future}).Expired(now))
}

func TestMinExpiry(t *testing.T) {
	t.Parallel()

	early := time.Now()
	late := early.Add(time.Hour)

	assert.Nil(t, MinExpiry(nil, nil))
	assert.Equal(t, &early, MinExpiry(nil, &early))
	assert.Equal(t, &early, MinExpiry(&early, nil))
	assert.Equal(t, &early, MinExpiry(&late, &early))
	assert.Equal(t, &early, MinExpiry(&early, &late))
}

func TestNormalizeScopes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b", "c"}, NormalizeScopes([]string{"c", "a", "b", "a"}))
	assert.Equal(t, []string{}, NormalizeScopes(nil))
	assert.True(t, IsSubset([]string{"a"}, []string{"a", "b"}))
	assert.False(t, IsSubset([]string{"a", "c"}, []string{"a", "b"}))
	assert.True(t, IsSubset(nil, nil))
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"session", "user", "notebook", "internal", "service"} {
		typ, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, Type(s), typ)
	}
	_, err := ParseType("bogus")
	require.Error(t, err)
}

func TestParseSatisfy(t *testing.T) {
	t.Parallel()

	s, err := ParseSatisfy("")
	require.NoError(t, err)
	assert.Equal(t, SatisfyAll, s)

	s, err = ParseSatisfy("any")
	require.NoError(t, err)
	assert.Equal(t, SatisfyAny, s)

	_, err = ParseSatisfy("some")
	require.Error(t, err)
}
