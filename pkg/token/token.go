// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token defines the tokens issued by the gateway and the records
// kept about them. Types in this package are plain values and perform no I/O.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Prefix is prepended to every serialized token.
const Prefix = "gt-"

// TicketPrefix is prepended to every serialized login ticket.
const TicketPrefix = "gtt-"

// secretBytes is the number of random bytes in a key or secret.
const secretBytes = 16

// partLength is the encoded length of a secretBytes value.
const partLength = 22

// ErrMalformed is returned when a presented credential cannot be parsed.
var ErrMalformed = errors.New("malformed token")

var encoding = base64.RawURLEncoding

// Token is a bearer credential split into its public key and its secret.
// The key identifies the stored record; the secret proves possession.
type Token struct {
	Key    string
	Secret string
}

// New generates a token with a random key and secret.
func New() Token {
	return Token{Key: randomPart(), Secret: randomPart()}
}

// Parse parses a serialized token of the form gt-<key>.<secret>.
func Parse(s string) (Token, error) {
	return parseWithPrefix(s, Prefix)
}

// String returns the serialized form handed to clients.
func (t Token) String() string {
	return Prefix + t.Key + "." + t.Secret
}

// Ticket is a single-use credential bridging a provider callback to
// session issuance. It shares the key/secret layout of Token.
type Ticket struct {
	Key    string
	Secret string
}

// NewTicket generates a ticket with a random key and secret.
func NewTicket() Ticket {
	return Ticket{Key: randomPart(), Secret: randomPart()}
}

// ParseTicket parses a serialized ticket of the form gtt-<key>.<secret>.
func ParseTicket(s string) (Ticket, error) {
	t, err := parseWithPrefix(s, TicketPrefix)
	if err != nil {
		return Ticket{}, err
	}
	return Ticket(t), nil
}

// String returns the serialized ticket.
func (t Ticket) String() string {
	return TicketPrefix + t.Key + "." + t.Secret
}

func parseWithPrefix(s, prefix string) (Token, error) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return Token{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, prefix)
	}
	key, secret, ok := strings.Cut(rest, ".")
	if !ok {
		return Token{}, fmt.Errorf("%w: missing separator", ErrMalformed)
	}
	if !validPart(key) || !validPart(secret) {
		return Token{}, fmt.Errorf("%w: invalid key or secret", ErrMalformed)
	}
	return Token{Key: key, Secret: secret}, nil
}

// ValidKey reports whether s has the shape of a token key.
func ValidKey(s string) bool {
	return validPart(s)
}

func validPart(s string) bool {
	if len(s) != partLength {
		return false
	}
	_, err := encoding.DecodeString(s)
	return err == nil
}

func randomPart() string {
	b := make([]byte, secretBytes)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return encoding.EncodeToString(b)
}
