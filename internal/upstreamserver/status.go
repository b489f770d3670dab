package upstreamserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hypertool-ai/mcp-proxy/internal/pool"
	"github.com/hypertool-ai/mcp-proxy/internal/session"
	"github.com/hypertool-ai/mcp-proxy/internal/toolcache"
)

// ConnectionStatusSource is the subset of *pool.Pool the status handler
// needs.
type ConnectionStatusSource interface {
	Status() []pool.ConnectionStatus
}

// ToolCacheSource is the subset of *toolcache.Cache the status handler
// needs for per-server tool counts and cross-server name conflicts.
type ToolCacheSource interface {
	GetAll(ctx context.Context, connectedOnly bool) ([]toolcache.Tool, error)
}

// ServerStatus reports one configured downstream server's health, mirroring
// internal/broker/status.go's ServerValidationStatus, trimmed to what this
// proxy's Connection abstraction actually tracks (no per-server
// initialize-result probe, since transport.Connection hides the handshake
// behind Connect()).
type ServerStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	IsReachable         bool      `json:"isReachable"`
	LastError           string    `json:"lastError,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	ToolCount           int       `json:"toolCount"`
	LastHealthCheckAt   time.Time `json:"lastHealthCheckAt"`
}

// ToolConflict names two or more servers exposing the same raw tool name.
type ToolConflict struct {
	ToolName      string   `json:"toolName"`
	ConflictsWith []string `json:"conflictsWith"`
}

// StatusResponse is the /status endpoint's and `persona validate`'s report.
type StatusResponse struct {
	Servers          []ServerStatus `json:"servers"`
	OverallValid     bool           `json:"overallValid"`
	TotalServers     int            `json:"totalServers"`
	HealthyServers   int            `json:"healthyServers"`
	UnhealthyServers int            `json:"unhealthyServers"`
	ToolConflicts    []ToolConflict `json:"toolConflicts"`
	ActiveSessions   int            `json:"activeSessions"`
	Timestamp        time.Time      `json:"timestamp"`
}

// StatusReporter builds a StatusResponse from the pool and tool cache,
// mirroring internal/broker/status.go's ValidateAllServers.
type StatusReporter struct {
	pool     ConnectionStatusSource
	cache    ToolCacheSource
	sessions *session.Tracker // optional; nil omits ActiveSessions
	log      *zap.Logger
}

// NewStatusReporter constructs a StatusReporter. sessions may be nil to
// omit ActiveSessions from the report.
func NewStatusReporter(pool ConnectionStatusSource, cache ToolCacheSource, sessions *session.Tracker, log *zap.Logger) *StatusReporter {
	return &StatusReporter{pool: pool, cache: cache, sessions: sessions, log: log}
}

// Report computes the current StatusResponse.
func (r *StatusReporter) Report(ctx context.Context) StatusResponse {
	resp := StatusResponse{Timestamp: time.Now()}

	all, err := r.cache.GetAll(ctx, false)
	if err != nil {
		r.log.Warn("status report: failed to read tool cache", zap.Error(err))
	}
	toolCountByServer := make(map[string]int, len(all))
	byName := make(map[string][]string, len(all))
	for _, t := range all {
		toolCountByServer[t.ServerName]++
		if !containsString(byName[t.Name], t.ServerName) {
			byName[t.Name] = append(byName[t.Name], t.ServerName)
		}
	}
	for name, servers := range byName {
		if len(servers) > 1 {
			resp.ToolConflicts = append(resp.ToolConflicts, ToolConflict{ToolName: name, ConflictsWith: servers})
		}
	}

	if r.sessions != nil {
		active, err := r.sessions.Active(ctx)
		if err != nil {
			r.log.Warn("status report: failed to read active sessions", zap.Error(err))
		}
		resp.ActiveSessions = len(active)
	}

	for _, cs := range r.pool.Status() {
		reachable := cs.State == pool.StateConnected
		status := ServerStatus{
			Name:                cs.ServerName,
			State:               string(cs.State),
			IsReachable:         reachable,
			ConsecutiveFailures: cs.ConsecutiveFailures,
			ToolCount:           toolCountByServer[cs.ServerName],
			LastHealthCheckAt:   cs.LastHealthCheckAt,
		}
		if cs.LastError != nil {
			status.LastError = cs.LastError.Error()
		}
		resp.Servers = append(resp.Servers, status)
		resp.TotalServers++
		if reachable {
			resp.HealthyServers++
		} else {
			resp.UnhealthyServers++
			resp.OverallValid = false
		}
	}
	if resp.TotalServers == 0 {
		resp.OverallValid = true
	} else if len(resp.ToolConflicts) > 0 {
		resp.OverallValid = false
	} else if resp.UnhealthyServers == 0 {
		resp.OverallValid = true
	}

	return resp
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ServeHTTP implements the /status[/<serverName>] endpoint.
func (r *StatusReporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed, supported methods: GET")
		return
	}

	response := r.Report(req.Context())

	serverName := strings.TrimPrefix(strings.TrimPrefix(req.URL.Path, "/status"), "/")
	if serverName == "" {
		r.writeJSON(w, http.StatusOK, response)
		return
	}
	for _, s := range response.Servers {
		if s.Name == serverName {
			r.writeJSON(w, http.StatusOK, s)
			return
		}
	}
	r.writeError(w, http.StatusNotFound, fmt.Sprintf("server %q not found", serverName))
}

func (r *StatusReporter) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		r.log.Error("failed to encode status response", zap.Error(err))
	}
}

func (r *StatusReporter) writeError(w http.ResponseWriter, statusCode int, message string) {
	r.writeJSON(w, statusCode, map[string]string{"error": message})
}
