package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/envbroker/envbroker/internal/api"
	"github.com/envbroker/envbroker/internal/core"
	"github.com/envbroker/envbroker/internal/export"
)

// SecretsPayload is the JSON body of a secrets fetch.
type SecretsPayload struct {
	IDToken   string `json:"id_token"`
	ProjectID string `json:"project_id"`
	BranchRef string `json:"branch_ref,omitempty"`
}

// FetchScript requests the secret bundle for the scope and returns the raw
// shell export script, ready to be eval'd by a CI job.
func (c *Client) FetchScript(ctx context.Context, idToken string, scope core.RequestScope) (string, string, error) {
	payload := SecretsPayload{
		IDToken:   idToken,
		ProjectID: scope.ProjectID,
		BranchRef: scope.BranchRef,
	}
	marshalled, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshalling payload: %w", err)
	}

	// done manually: the response is plain text, not JSON, so the generic
	// helpers cannot decode it
	req, err := http.NewRequestWithContext(ctx, "POST", c.url().
		setPath(api.FetchSecretsRoute).
		addQueryParam("apitk", c.apiToken).
		build(), bytes.NewReader(marshalled))
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", correlationFromResponse(resp), fmt.Errorf("connection failed: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode >= 400 {
		return "", correlationFromResponse(resp), parseErrorResponse(resp)
	}

	script, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", correlationFromResponse(resp), fmt.Errorf("reading response: %w", err)
	}
	return string(script), correlationFromResponse(resp), nil
}

// FetchSecrets requests the secret bundle for the scope and parses the export
// script back into a key/value map.
func (c *Client) FetchSecrets(ctx context.Context, idToken string, scope core.RequestScope) (core.SecretBundle, string, error) {
	script, correlation, err := c.FetchScript(ctx, idToken, scope)
	if err != nil {
		return nil, correlation, err
	}
	bundle, err := export.Parse(script)
	if err != nil {
		return nil, correlation, fmt.Errorf("parsing export script: %w", err)
	}
	return bundle, correlation, nil
}
