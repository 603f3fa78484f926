package api

import (
	"net/http"

	"github.com/envbroker/envbroker/internal/api/middleware"
	"github.com/envbroker/envbroker/internal/audit"
	"github.com/envbroker/envbroker/internal/config"
	"github.com/envbroker/envbroker/internal/core"
	"github.com/envbroker/envbroker/internal/service"
)

type Server struct {
	cfg     *config.Config
	broker  *service.Broker
	auditor core.Auditor
}

func NewServer(
	cfg *config.Config,
	v core.Verifier,
	source core.SecretSource,
	auditor core.Auditor,
) *Server {
	if auditor == nil {
		auditor = audit.NewNoopAuditor()
	}

	return &Server{
		cfg:     cfg,
		broker:  service.NewBroker(cfg, v, source, auditor),
		auditor: auditor,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// public routes
	mux.HandleFunc("GET "+HealthCheckRoute, s.handleHealth)
	mux.HandleFunc("GET "+AboutRoute, s.handleAbout)

	// broker route; caller authentication happens inside the broker so that
	// every outcome, including a bad API token, lands in the audit log
	mux.HandleFunc("POST "+FetchSecretsRoute, s.handleSecrets)

	// admin routes
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET "+ListAuditsRoute, s.handleAdminAudit)
	mux.Handle(AdminParent, middleware.StaticTokenAuth(s.cfg.APIToken)(adminMux))

	return middleware.RecoverMiddleware(
		middleware.CorrelationIDMiddleware(
			middleware.LoggingMiddleware(
				mux)))
}
