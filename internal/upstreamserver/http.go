package upstreamserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// HTTPOptions configures the streamable-HTTP transport.
type HTTPOptions struct {
	Addr   string
	Status *StatusReporter // optional; nil disables the /status endpoint
}

// healthResponse is /health's body, per spec.md §6.
type healthResponse struct {
	Status    string    `json:"status"`
	Transport string    `json:"transport"`
	Timestamp time.Time `json:"timestamp"`
}

// HTTPServer is the running streamable-HTTP transport, wrapping mcp-go's
// *server.StreamableHTTPServer with the proxy's extra endpoints. Grounded
// on internal/tests/server2/server2.go's "http" branch (mux +
// server.NewStreamableHTTPServer(s, server.WithStreamableHTTPServer(httpServer)))
// and internal/broker/broker.go's HandleStatusRequest /
// oauth_protected_resource_handler.go wiring alongside it.
type HTTPServer struct {
	streamable *server.StreamableHTTPServer
	httpServer *http.Server
	log        *zap.Logger
}

// NewHTTPServer builds the mux and streamable-HTTP transport for s.
func (s *Server) NewHTTPServer(opts HTTPOptions) *HTTPServer {
	mux := http.NewServeMux()
	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	streamable := server.NewStreamableHTTPServer(s.mcp, server.WithStreamableHTTPServer(httpServer))
	mux.Handle("/mcp", withMcpSessionCORS(streamable))
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.oauthProtectedResourceHandler)
	if opts.Status != nil {
		mux.Handle("/status", opts.Status)
		mux.Handle("/status/", opts.Status)
	}

	return &HTTPServer{streamable: streamable, httpServer: httpServer, log: s.log}
}

// withMcpSessionCORS exposes Mcp-Session-Id to browser clients, per
// spec.md §6's "CORS headers expose Mcp-Session-Id".
func withMcpSessionCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := healthResponse{Status: "ok", Transport: "http", Timestamp: time.Now()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to encode health response", zap.Error(err))
	}
}

// Start blocks serving HTTP until the listener closes or Shutdown is
// called from another goroutine.
func (h *HTTPServer) Start() error {
	return h.streamable.Start(h.httpServer.Addr)
}

// Shutdown gracefully stops the HTTP transport.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.streamable.Shutdown(ctx)
}
