package upstreamserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/pool"
	"github.com/hypertool-ai/mcp-proxy/internal/session"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
)

type fakePoolStatus struct {
	statuses []pool.ConnectionStatus
}

func (f *fakePoolStatus) Status() []pool.ConnectionStatus { return f.statuses }

type fakeToolCache struct {
	tools []toolcache.Tool
	err   error
}

func (f *fakeToolCache) GetAll(_ context.Context, _ bool) ([]toolcache.Tool, error) {
	return f.tools, f.err
}

func TestStatusReporterReportHealthySingleServer(t *testing.T) {
	p := &fakePoolStatus{statuses: []pool.ConnectionStatus{
		{ServerName: "weather", State: pool.StateConnected, LastHealthCheckAt: time.Now()},
	}}
	cache := &fakeToolCache{tools: []toolcache.Tool{
		{Name: "get", ServerName: "weather"},
		{Name: "forecast", ServerName: "weather"},
	}}
	r := NewStatusReporter(p, cache, nil, zap.NewNop())

	resp := r.Report(context.Background())

	if resp.TotalServers != 1 || resp.HealthyServers != 1 || resp.UnhealthyServers != 0 {
		t.Fatalf("unexpected server counts: %+v", resp)
	}
	if !resp.OverallValid {
		t.Fatalf("expected overall valid with a single healthy server, got %+v", resp)
	}
	if resp.Servers[0].ToolCount != 2 {
		t.Fatalf("expected tool count 2, got %d", resp.Servers[0].ToolCount)
	}
}

func TestStatusReporterReportDetectsToolConflicts(t *testing.T) {
	p := &fakePoolStatus{statuses: []pool.ConnectionStatus{
		{ServerName: "weather", State: pool.StateConnected},
		{ServerName: "forecast-mirror", State: pool.StateConnected},
	}}
	cache := &fakeToolCache{tools: []toolcache.Tool{
		{Name: "get", ServerName: "weather"},
		{Name: "get", ServerName: "forecast-mirror"},
	}}
	r := NewStatusReporter(p, cache, nil, zap.NewNop())

	resp := r.Report(context.Background())

	if len(resp.ToolConflicts) != 1 {
		t.Fatalf("expected one conflict for 'get', got %+v", resp.ToolConflicts)
	}
	if resp.OverallValid {
		t.Fatalf("expected overall invalid when a tool-name conflict exists")
	}
}

func TestStatusReporterReportMarksUnhealthyServer(t *testing.T) {
	p := &fakePoolStatus{statuses: []pool.ConnectionStatus{
		{ServerName: "weather", State: pool.StateFailed, LastError: errors.New("dial tcp: timeout"), ConsecutiveFailures: 3},
	}}
	cache := &fakeToolCache{}
	r := NewStatusReporter(p, cache, nil, zap.NewNop())

	resp := r.Report(context.Background())

	if resp.HealthyServers != 0 || resp.UnhealthyServers != 1 {
		t.Fatalf("expected one unhealthy server, got %+v", resp)
	}
	if resp.OverallValid {
		t.Fatalf("expected overall invalid when a server is unreachable")
	}
	if resp.Servers[0].LastError == "" {
		t.Fatalf("expected LastError to be populated")
	}
}

func TestStatusReporterServeHTTPSingleServerLookup(t *testing.T) {
	p := &fakePoolStatus{statuses: []pool.ConnectionStatus{
		{ServerName: "weather", State: pool.StateConnected},
		{ServerName: "news", State: pool.StateConnected},
	}}
	r := NewStatusReporter(p, &fakeToolCache{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/status/weather", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusReporterServeHTTPUnknownServer(t *testing.T) {
	r := NewStatusReporter(&fakePoolStatus{}, &fakeToolCache{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/status/does-not-exist", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown server, got %d", rec.Code)
	}
}

func TestStatusReporterReportIncludesActiveSessions(t *testing.T) {
	ctx := context.Background()
	cache, err := session.NewCache(ctx)
	if err != nil {
		t.Fatalf("failed to build session cache: %v", err)
	}
	tracker := session.NewTracker(cache, slog.Default())
	if err := tracker.Track(ctx, "session-a"); err != nil {
		t.Fatalf("failed to track session: %v", err)
	}
	if err := tracker.Track(ctx, "session-b"); err != nil {
		t.Fatalf("failed to track session: %v", err)
	}

	r := NewStatusReporter(&fakePoolStatus{}, &fakeToolCache{}, tracker, zap.NewNop())
	resp := r.Report(ctx)

	if resp.ActiveSessions != 2 {
		t.Fatalf("expected 2 active sessions, got %d", resp.ActiveSessions)
	}
}

func TestStatusReporterServeHTTPRejectsNonGet(t *testing.T) {
	r := NewStatusReporter(&fakePoolStatus{}, &fakeToolCache{}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
