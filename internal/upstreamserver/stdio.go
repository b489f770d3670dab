package upstreamserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// ServeStdio runs the upstream server over newline-framed JSON-RPC on
// stdin/stdout, blocking until the transport closes. Per spec.md §6,
// nothing but protocol framing may reach stdout — internal/logging already
// routes every log line to the rotated file sink (and never stderr/stdout)
// whenever Config.StdioTransport is set, so this function does no output of
// its own. Grounded on the teacher's server.ServeStdio(s) call in
// internal/tests/server2/server2.go's stdio branch.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}
