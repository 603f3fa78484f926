package service

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/envbroker/envbroker/internal/audit"
	"github.com/envbroker/envbroker/internal/authz"
	"github.com/envbroker/envbroker/internal/config"
	"github.com/envbroker/envbroker/internal/core"
	"github.com/envbroker/envbroker/internal/export"
	"github.com/envbroker/envbroker/internal/secrets"
	"github.com/envbroker/envbroker/internal/validation"
	"github.com/envbroker/envbroker/internal/verifier"
)

// Broker sequences one secrets fetch: validate input, check the scope's
// storage exists, verify the token, authorize the scope against the verified
// claims, resolve the bundle, serialize it. Steps are strictly sequential and
// fail-fast; there is no retry. Every terminal outcome produces exactly one
// audit record.
type Broker struct {
	cfg      *config.Config
	verifier core.Verifier
	source   core.SecretSource
	auditor  core.Auditor
}

func NewBroker(
	cfg *config.Config,
	v core.Verifier,
	source core.SecretSource,
	auditor core.Auditor,
) *Broker {
	if auditor == nil {
		auditor = audit.NewNoopAuditor()
	}
	return &Broker{
		cfg:      cfg,
		verifier: v,
		source:   source,
		auditor:  auditor,
	}
}

func (b *Broker) FetchSecrets(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	logger := log.Ctx(ctx)
	reqID, _ := ctx.Value("correlation_id").(string)

	auditEntry := core.AuditEntry{
		ID:         reqID,
		Time:       time.Now(),
		Action:     "secrets.fetch",
		RemoteAddr: req.RemoteAddr,
	}
	defer func() {
		if err := b.auditor.Log(auditEntry); err != nil {
			logger.Error().Err(err).Msg("failed to write audit log entry for secrets fetch")
		}
	}()

	fail := func(status int, reason core.DenyReason, err error) error {
		auditEntry.Granted = false
		auditEntry.Reason = reason
		auditEntry.Error = err.Error()
		return httpError(status, err)
	}

	// --- input validation ---

	if len(bytes.TrimSpace(req.RawBody)) == 0 {
		return nil, fail(http.StatusBadRequest, "", errors.New("empty payload"))
	}

	// misconfiguration is surfaced to the caller instead of half-working
	if err := b.cfg.BrokerRequirements(); err != nil {
		return nil, fail(http.StatusBadRequest, "", err)
	}

	if subtle.ConstantTimeCompare([]byte(req.CallerKey), []byte(b.cfg.APIToken)) != 1 {
		return nil, fail(http.StatusUnauthorized, "", errors.New("invalid API token"))
	}

	var payload fetchPayload
	dec := json.NewDecoder(bytes.NewReader(req.RawBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		logger.Warn().Err(err).Msg("failed to decode secrets request payload")
		return nil, fail(http.StatusBadRequest, "", errors.New("invalid request payload"))
	}

	if payload.IDToken == "" || payload.ProjectID == "" {
		return nil, fail(http.StatusBadRequest, "", errors.New("missing id_token or project_id"))
	}

	scope := core.RequestScope{
		ProjectID: string(payload.ProjectID),
		BranchRef: payload.BranchRef,
	}
	auditEntry.ProjectID = scope.ProjectID
	auditEntry.BranchRef = scope.BranchRef
	auditEntry.TokenFingerprint = audit.Fingerprint(payload.IDToken)

	if err := validation.ValidateScope(scope); err != nil {
		logger.Warn().Err(err).Msg("rejecting unsafe scope")
		return nil, fail(http.StatusBadRequest, "", err)
	}

	logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("project_id", scope.ProjectID).Str("branch_ref", scope.BranchRef)
	})

	// --- storage existence check ---
	// Runs before verification so a missing project or branch yields a plain
	// not-found to anyone, authenticated or not; it must not reveal more.

	if err := b.source.Check(scope); err != nil {
		return nil, fail(http.StatusNotFound, "", err)
	}

	// --- token verification ---

	claims, err := b.verifier.Verify(ctx, payload.IDToken)
	if err != nil {
		if iss, peekErr := verifier.PeekIssuer(payload.IDToken); peekErr == nil {
			// untrusted, logged only for forensics
			logger.Warn().Str("claimed_issuer", iss).Msg("token verification failed")
		} else {
			logger.Warn().Msg("token verification failed")
		}
		return nil, fail(http.StatusUnauthorized, "", err)
	}
	auditEntry.Claims = claims

	// --- scope authorization ---

	if decision := authz.Authorize(claims, scope); !decision.Allowed {
		logger.Warn().
			Str("reason", string(decision.Reason)).
			Str("claims_project_id", claims.ProjectID).
			Str("claims_branch_ref", claims.BranchRef).
			Msg("scope authorization rejected")
		return nil, fail(http.StatusUnauthorized, decision.Reason, denyError(decision.Reason))
	}

	// --- secret resolution ---

	bundle, err := b.source.Resolve(scope)
	if err != nil {
		if errors.Is(err, secrets.ErrBundleMissing) {
			return nil, fail(http.StatusNotFound, "", err)
		}
		// malformed or unreadable bundle: log the detail, leak nothing
		logger.Error().Err(err).Msg("failed to read secret bundle")
		return nil, fail(http.StatusInternalServerError, "", errors.New("internal error"))
	}

	auditEntry.Granted = true
	auditEntry.SecretCount = len(bundle)

	logger.Info().
		Str("issuer", claims.Issuer).
		Strs("audience", claims.Audience).
		Str("claims_project_id", claims.ProjectID).
		Str("claims_branch_ref", claims.BranchRef).
		Time("token_expiry", claims.ExpiresAt).
		Int("secret_count", len(bundle)).
		Msg("secrets fetch granted")

	return &FetchResponse{
		Script: export.Serialize(bundle),
		Scope:  scope,
		Claims: claims,
	}, nil
}

func denyError(reason core.DenyReason) error {
	switch reason {
	case core.DenyProjectClaimMissing:
		return errors.New("authentication failed: project id missing in claims")
	case core.DenyProjectMismatch:
		return errors.New("project id mismatch")
	case core.DenyBranchMismatch:
		return errors.New("branch ref mismatch")
	default:
		return fmt.Errorf("authorization rejected: %s", reason)
	}
}
