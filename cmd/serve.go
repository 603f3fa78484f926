package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/envbroker/envbroker/internal/api"
	"github.com/envbroker/envbroker/internal/audit"
	"github.com/envbroker/envbroker/internal/config"
	"github.com/envbroker/envbroker/internal/core"
	"github.com/envbroker/envbroker/internal/secrets"
	"github.com/envbroker/envbroker/internal/verifier"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the envbroker server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig()
		if err != nil {
			return err
		}

		auditor, err := buildAuditor(cfg)
		if err != nil {
			return fmt.Errorf("building auditor: %w", err)
		}
		defer func() {
			_ = auditor.Close()
		}()

		// A broker with incomplete trust settings still starts and answers
		// every secrets request with the misconfiguration error; this keeps
		// the failure visible to callers instead of hiding it in boot logs.
		var v core.Verifier
		if cfgErr := cfg.BrokerRequirements(); cfgErr != nil {
			log.Warn().Err(cfgErr).Msg("broker not fully configured, secrets requests will be rejected")
		} else {
			log.Info().Str("issuer", cfg.IssuerURL).Msg("Initializing token verifier...")
			v, err = verifier.NewOIDC(cmd.Context(), verifier.TrustConfig{
				IssuerURL: cfg.IssuerURL,
				Audience:  cfg.ExpectedAudience,
				Timeout:   cfg.JWKSTimeout,
			})
			if err != nil {
				return fmt.Errorf("building token verifier: %w", err)
			}
		}

		srv := api.NewServer(cfg, v, secrets.NewResolver(cfg.SecretsRoot), auditor)

		server := &http.Server{
			Addr:    cfg.Addr,
			Handler: srv.Routes(),
		}

		go func() {
			log.Info().Msgf("Starting server on %s...", cfg.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Server crashed")
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		log.Info().Msg("Server exited")
		return nil
	},
}

// loadServeConfig loads the YAML config (if any) and overlays environment
// settings, so the broker can run from a file, from env vars, or a mix.
func loadServeConfig() (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// ENVBROKER_* environment variables win over the file
	overlay := map[string]*string{
		"addr":              &cfg.Addr,
		"issuer_url":        &cfg.IssuerURL,
		"expected_audience": &cfg.ExpectedAudience,
		"api_token":         &cfg.APIToken,
		"secrets_root":      &cfg.SecretsRoot,
	}
	for key, target := range overlay {
		if v := viper.GetString(key); v != "" {
			*target = v
		}
	}
	return cfg, nil
}

func buildAuditor(cfg *config.Config) (core.Auditor, error) {
	switch cfg.Audit.Type {
	case config.AuditTypeFile:
		return audit.NewFileAuditor(cfg.Audit.Path)
	case config.AuditTypeMemory:
		return audit.NewInMemoryAuditor(), nil
	default:
		return audit.NewNoopAuditor(), nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
