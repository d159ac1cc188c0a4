// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/stacklok/tokengate/pkg/audit"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

// timeFormat is fixed width so stored times sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 1000

// HistoryStore implements audit.Store using SQLite.
type HistoryStore struct {
	wrapper *DB
	db      *sql.DB
}

var _ audit.Store = (*HistoryStore)(nil)

// NewHistoryStore creates a new SQLite-backed history store.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{wrapper: db, db: db.DB()}
}

// Close closes the underlying database connection.
func (s *HistoryStore) Close() error {
	return s.wrapper.Close()
}

const eventColumns = `rowid, id, token, username, token_type, token_name, parent, service,
	json(scopes), old_token_name, json(old_scopes), expires, old_expires, actor, action,
	ip_address, event_time`

// ipInPrefix is a SQL function reporting whether an address falls in a
// prefix, both given as text. Unparseable addresses never match.
const ipInPrefix = "ip_in_prefix"

func init() {
	sqlite3.MustRegisterDeterministicScalarFunction(ipInPrefix, 2,
		func(_ *sqlite3.FunctionContext, args []driver.Value) (driver.Value, error) {
			ip, _ := args[0].(string)
			prefix, _ := args[1].(string)
			addr, err := netip.ParseAddr(ip)
			if err != nil {
				return int64(0), nil
			}
			p, err := netip.ParsePrefix(prefix)
			if err != nil {
				return nil, err
			}
			if p.Contains(addr.Unmap()) {
				return int64(1), nil
			}
			return int64(0), nil
		})
}

// Add appends an event.
func (s *HistoryStore) Add(ctx context.Context, event audit.Event) error {
	scopes, err := encodeJSONB(event.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}
	var oldScopes any
	if event.OldScopes != nil {
		if oldScopes, err = encodeJSONB(event.OldScopes); err != nil {
			return fmt.Errorf("encoding old scopes: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO token_changes (
			id, token, username, token_type, token_name, parent, service,
			scopes, old_token_name, old_scopes, expires, old_expires, actor,
			action, ip_address, event_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, jsonb(?), ?, jsonb(?), ?, ?, ?, ?, ?, ?)`,
		event.ID.String(),
		event.Key,
		event.Username,
		string(event.Type),
		event.Name,
		event.Parent,
		event.Service,
		scopes,
		event.OldName,
		oldScopes,
		formatTime(event.Expires),
		formatTime(event.OldExpires),
		event.Actor,
		string(event.Action),
		event.IPAddress,
		event.Time.UTC().Format(timeFormat),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting token change: %w", err)
	}
	return nil
}

// List returns a page of matching events, newest first.
func (s *HistoryStore) List(ctx context.Context, filter audit.Filter) (*audit.Page, error) {
	query := `SELECT ` + eventColumns + ` FROM token_changes WHERE 1 = 1`
	var args []any

	if filter.Username != "" {
		query += ` AND username = ?`
		args = append(args, filter.Username)
	}
	if filter.Key != "" {
		query += ` AND (token = ? OR parent = ?)`
		args = append(args, filter.Key, filter.Key)
	}
	if filter.Actor != "" {
		query += ` AND actor = ?`
		args = append(args, filter.Actor)
	}
	if filter.TokenType != "" {
		query += ` AND token_type = ?`
		args = append(args, string(filter.TokenType))
	}
	if filter.IP.IsValid() {
		query += ` AND ` + ipInPrefix + `(ip_address, ?)`
		args = append(args, filter.IP.String())
	}
	if !filter.Since.IsZero() {
		query += ` AND event_time >= ?`
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}
	if !filter.Until.IsZero() {
		query += ` AND event_time < ?`
		args = append(args, filter.Until.UTC().Format(timeFormat))
	}
	if c := filter.Cursor; c != nil {
		ts := c.Time.UTC().Format(timeFormat)
		query += ` AND (event_time < ? OR (event_time = ? AND rowid < ?))`
		args = append(args, ts, ts, c.ID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	// One extra row tells whether another page follows.
	query += ` ORDER BY event_time DESC, rowid DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	page := &audit.Page{Events: make([]audit.Event, 0, min(len(rows), limit))}
	for i, r := range rows {
		if i == limit {
			last := rows[i-1]
			page.Next = &audit.Cursor{Time: last.event.Time, ID: last.rowid}
			break
		}
		page.Events = append(page.Events, r.event)
	}
	return page, nil
}

// Lapsed returns the latest create or edit event of every token that has
// not been revoked or expired and whose recorded expiry is before before.
func (s *HistoryStore) Lapsed(ctx context.Context, before time.Time, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.query(ctx, `
		SELECT `+eventColumns+`
		FROM token_changes c
		WHERE c.action IN ('create', 'edit')
		  AND c.expires IS NOT NULL AND c.expires < ?
		  AND NOT EXISTS (
			SELECT 1 FROM token_changes t
			WHERE t.token = c.token AND t.action IN ('revoke', 'expire'))
		  AND NOT EXISTS (
			SELECT 1 FROM token_changes n
			WHERE n.token = c.token AND n.action IN ('create', 'edit')
			  AND (n.event_time > c.event_time OR (n.event_time = c.event_time AND n.rowid > c.rowid)))
		ORDER BY c.expires
		LIMIT ?`,
		before.UTC().Format(timeFormat), limit,
	)
	if err != nil {
		return nil, err
	}
	events := make([]audit.Event, len(rows))
	for i, r := range rows {
		events[i] = r.event
	}
	return events, nil
}

// eventRow is an event with its position in the table.
type eventRow struct {
	rowid int64
	event audit.Event
}

func (s *HistoryStore) query(ctx context.Context, query string, args ...any) ([]eventRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying token changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []eventRow
	for rows.Next() {
		r, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token change rows: %w", err)
	}
	return out, nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface{ Scan(dest ...any) error }

func scanEvent(sc scanner) (eventRow, error) {
	var (
		rowid                              int64
		id, key, username, tokenType, name string
		parent, service, actor, action, ip string
		oldName, eventTime                 string
		scopesBlob, oldScopesBlob          []byte
		expires, oldExpires                sql.NullString
	)
	err := sc.Scan(
		&rowid, &id, &key, &username, &tokenType, &name, &parent, &service,
		&scopesBlob, &oldName, &oldScopesBlob, &expires, &oldExpires,
		&actor, &action, &ip, &eventTime,
	)
	if err != nil {
		return eventRow{}, fmt.Errorf("scanning token change row: %w", err)
	}

	e := audit.Event{
		Key:       key,
		Username:  username,
		Type:      token.Type(tokenType),
		Name:      name,
		Parent:    parent,
		Service:   service,
		OldName:   oldName,
		Actor:     actor,
		IPAddress: ip,
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return eventRow{}, fmt.Errorf("parsing id: %w", err)
	}
	if e.Action, err = audit.ParseAction(action); err != nil {
		return eventRow{}, err
	}
	if e.Scopes, err = decodeJSONB(scopesBlob); err != nil {
		return eventRow{}, fmt.Errorf("decoding scopes: %w", err)
	}
	if e.OldScopes, err = decodeJSONB(oldScopesBlob); err != nil {
		return eventRow{}, fmt.Errorf("decoding old scopes: %w", err)
	}
	if e.Expires, err = parseTime(expires); err != nil {
		return eventRow{}, fmt.Errorf("parsing expires: %w", err)
	}
	if e.OldExpires, err = parseTime(oldExpires); err != nil {
		return eventRow{}, fmt.Errorf("parsing old_expires: %w", err)
	}
	if e.Time, err = time.Parse(timeFormat, eventTime); err != nil {
		return eventRow{}, fmt.Errorf("parsing event_time: %w", err)
	}
	return eventRow{rowid: rowid, event: e}, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeJSONB marshals a string slice for the SQLite jsonb() function.
func encodeJSONB(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

// decodeJSONB unmarshals a JSON text column into a string slice.
func decodeJSONB(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var result []string
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return result, nil
}

// isUniqueViolation checks for a SQLite PRIMARY KEY or UNIQUE violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
