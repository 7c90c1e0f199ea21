package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
)

// DigifarmClient sends through the Digifarm channel used for farmers enrolled via
// the partner program. Same form-encoded request shape; the response reports a
// per-recipient status but assigns no message id of its own, so the outcome
// recorder synthesizes a deterministic placeholder.
type DigifarmClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewDigifarmClient(cred domain.GatewayCredential, httpClient *http.Client, logger *slog.Logger) *DigifarmClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &DigifarmClient{
		logger:     logger.With("gateway", domain.ProviderDigifarm, "alias", cred.Alias),
		httpClient: httpClient,
		baseURL:    cred.BaseURL,
		apiKey:     cred.APIKey,
	}
}

type digifarmRecipientResult struct {
	Msisdn     string `json:"msisdn"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
}

type digifarmSendResponse struct {
	Results []digifarmRecipientResult `json:"results"`
}

func (c *DigifarmClient) SendBatch(ctx context.Context, req BatchRequest) ([]RecipientResult, error) {
	form := url.Values{}
	form.Set("to", strings.Join(req.Recipients, ","))
	form.Set("message", req.Body)
	if req.Sender != "" {
		form.Set("from", req.Sender)
	}
	if req.Enqueue {
		form.Set("enqueue", "1")
	} else {
		form.Set("enqueue", "0")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Digifarm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("digifarm request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("digifarm: failed to read response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet := string(respBody)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("digifarm: unexpected status %d: %s", httpResp.StatusCode, snippet)
	}

	var parsed digifarmSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("digifarm: failed to parse response body: %w", err)
	}

	results := make([]RecipientResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, RecipientResult{
			Number:     r.Msisdn,
			Status:     r.Status,
			StatusCode: r.StatusCode,
		})
	}

	c.logger.InfoContext(ctx, "Digifarm batch accepted", "submitted", len(req.Recipients), "results", len(results))
	return results, nil
}

func (c *DigifarmClient) Name() string {
	return domain.ProviderDigifarm
}
