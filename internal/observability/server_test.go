// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", nil, nil, ready)
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
		http.DefaultClient.CloseIdleConnections()
	})
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, nil)

	status, body := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")

	m := server.Metrics()
	m.RecordLogin("password", true)
	m.RecordLogin("password", true)
	m.RecordLogin("google", false)
	m.RecordToken("password_reset", EventIssued)
	m.RecordSessions(EventRevoked, 3)
	m.RecordTokensPurged(4)
	m.RecordMerge()
	m.ObserveRequest("/api/auth/login", http.MethodPost, http.StatusOK, 15*time.Millisecond)

	_, body = get(t, server, "/metrics")
	assert.Contains(t, body, `medidir_logins_total{method="password",outcome="success"} 2`)
	assert.Contains(t, body, `medidir_logins_total{method="google",outcome="failure"} 1`)
	assert.Contains(t, body, `medidir_security_tokens_total{event="issued",kind="password_reset"} 1`)
	assert.Contains(t, body, `medidir_sessions_total{event="revoked"} 3`)
	assert.Contains(t, body, `medidir_security_tokens_total{event="purged",kind="all"} 4`)
	assert.Contains(t, body, `medidir_account_merges_total 1`)
	assert.Contains(t, body, `medidir_http_requests_total{method="POST",route="/api/auth/login",status="200"} 1`)
	assert.Contains(t, body, "medidir_http_request_duration_seconds_bucket")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLogin("password", false)
		m.RecordToken("email_change", EventConsumed)
		m.RecordSessions(EventCreated, 1)
		m.RecordTokensPurged(2)
		m.RecordMerge()
		m.ObserveRequest("", http.MethodGet, http.StatusNotFound, time.Millisecond)
	})
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, func(context.Context) error { return errors.New("db down") })

	status, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		check      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"ready", func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"not ready", func(context.Context) error { return errors.New("db down") }, http.StatusServiceUnavailable, "not ready"},
		{"nil checker", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.check)
			status, body := get(t, server, "/healthz/readiness")
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, strings.TrimSpace(body))
		})
	}
}

func TestServer_ReadinessHasDeadline(t *testing.T) {
	var hadDeadline bool
	server := startServer(t, func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})

	status, _ := get(t, server, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, hadDeadline)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)

	_, err := server.Start()
	assert.Error(t, err)
}

func TestServer_ListenFailure(t *testing.T) {
	first := startServer(t, nil)

	second := NewServer(first.Addr(), nil, nil, nil)
	_, err := second.Start()
	require.Error(t, err)

	_, err = second.Start()
	assert.Error(t, err, "failed start leaves the server stopped")
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil, nil)
	assert.NoError(t, server.Stop(context.Background()))
	assert.Empty(t, server.Addr())
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	require.NotNil(t, server.listener)
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve error was not reported")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil, nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel did not close")
	}
}
