package api

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/envbroker/envbroker/internal/api/presenter"
	"github.com/envbroker/envbroker/internal/buildinfo"
	"github.com/envbroker/envbroker/internal/service"
)

// maxBodySize caps the request body. A secrets request is a token plus a
// scope; anything above this is not a legitimate caller.
const maxBodySize = 1 << 20

// handleHealth responds with a simple OK status to indicate the server is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleAbout responds with service information including version and commit hash.
func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	presenter.JSON(w, r, buildinfo.GetBuildInfo(), http.StatusOK)
}

// handleSecrets processes a secrets fetch: it hands the raw request to the
// broker, which owns the full state machine and the audit record, and shapes
// the response. On success the body is the plain-text export script.
func (s *Server) handleSecrets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read request body")
		presenter.Error(w, r, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp, err := s.broker.FetchSecrets(ctx, service.FetchRequest{
		CallerKey:  r.URL.Query().Get("apitk"),
		RawBody:    body,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header,
	})
	if err != nil {
		// full request context for forensic review; the request may be adversarial
		logger.Warn().
			Err(err).
			Str("remote", r.RemoteAddr).
			Interface("headers", r.Header).
			Str("body", string(body)).
			Msg("secrets fetch rejected")
		presenter.Err(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(resp.Script))
}
