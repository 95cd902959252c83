package credhub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"

	"github.com/subkernel/subkernel/internal/config"
	"github.com/subkernel/subkernel/internal/domain/credential"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client implements credential.StatusLookup against the external
// identity-verification service. Transport retries live inside the HTTP
// client; the engine never retries on top of this.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

type statusResponse struct {
	Status     string     `json:"status"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// NewClient creates a credential lookup client
func NewClient(cfg *config.Configuration, log *logger.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.CredHub.RetryMax
	retryClient.HTTPClient.Timeout = time.Duration(cfg.CredHub.TimeoutSeconds) * time.Second
	retryClient.Logger = nil

	return &Client{
		baseURL:    cfg.CredHub.BaseURL,
		apiKey:     cfg.CredHub.APIKey,
		httpClient: retryClient.StandardClient(),
		logger:     log,
	}
}

// GetStatus fetches the verification state of one credential for one user.
// An unknown credential maps to the not_found status rather than an error.
func (c *Client) GetStatus(ctx context.Context, tenantID, userID string, credType types.CredentialType) (*credential.Status, error) {
	endpoint := fmt.Sprintf("%s/v1/tenants/%s/users/%s/credentials/%s",
		c.baseURL, url.PathEscape(tenantID), url.PathEscape(userID), url.PathEscape(string(credType)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to build credential lookup request").
			Mark(ierr.ErrSystem)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Credential lookup failed").
			WithReportableDetails(map[string]any{
				"user_id":         userID,
				"credential_type": credType,
			}).
			Mark(ierr.ErrHTTPClient)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &credential.Status{Status: types.CredentialStatusNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ierr.NewErrorf("credential lookup returned status %d", resp.StatusCode).
			WithHint("Credential service returned an unexpected status").
			Mark(ierr.ErrHTTPClient)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to decode credential lookup response").
			Mark(ierr.ErrHTTPClient)
	}

	return &credential.Status{
		Status:     types.CredentialStatus(body.Status),
		VerifiedAt: body.VerifiedAt,
		ExpiresAt:  body.ExpiresAt,
	}, nil
}
