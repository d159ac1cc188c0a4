// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.Decision("allow")
	m.Decision("allow")
	m.Decision("forbidden")
	m.Login("github", "success")
	m.TokenIssued("session")
	m.TokensRevoked(3)
	m.ObserveStore("get_token", 2*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.decisions.WithLabelValues("allow")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.decisions.WithLabelValues("forbidden")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.logins.WithLabelValues("github", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.tokensIssued.WithLabelValues("session")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.tokensRevoked), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.storeLatency))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Decision("allow")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tokengate_authz_decisions_total{outcome="allow"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.Decision("allow")
		m.Login("x", "y")
		m.TokenIssued("user")
		m.TokensRevoked(1)
		m.ObserveStore("ping", time.Second)
		assert.Nil(t, m.Registry())
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
