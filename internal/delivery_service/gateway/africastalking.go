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

// AfricasTalkingClient sends batches through the Africa's Talking bulk messaging
// API: form-encoded POST, JSON response with one entry per recipient.
type AfricasTalkingClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	username   string
	apiKey     string
}

func NewAfricasTalkingClient(cred domain.GatewayCredential, httpClient *http.Client, logger *slog.Logger) *AfricasTalkingClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AfricasTalkingClient{
		logger:     logger.With("gateway", domain.ProviderAfricasTalking, "alias", cred.Alias),
		httpClient: httpClient,
		baseURL:    cred.BaseURL,
		username:   cred.Username,
		apiKey:     cred.APIKey,
	}
}

type atRecipientResult struct {
	Number     string `json:"number"`
	Cost       string `json:"cost"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	MessageID  string `json:"messageId"`
}

type atMessageData struct {
	Message    string              `json:"Message"`
	Recipients []atRecipientResult `json:"Recipients"`
}

type atSendResponse struct {
	SMSMessageData atMessageData `json:"SMSMessageData"`
}

func (c *AfricasTalkingClient) SendBatch(ctx context.Context, req BatchRequest) ([]RecipientResult, error) {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("to", strings.Join(req.Recipients, ","))
	form.Set("message", req.Body)
	if req.Sender != "" {
		form.Set("from", req.Sender)
	}
	enqueue := "0"
	if req.Enqueue {
		enqueue = "1"
	}
	form.Set("enqueue", enqueue)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Africa's Talking request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("apiKey", c.apiKey)

	c.logger.DebugContext(ctx, "Submitting batch to Africa's Talking", "recipients", len(req.Recipients), "enqueue", req.Enqueue)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("africastalking request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("africastalking: failed to read response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet := string(respBody)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("africastalking: unexpected status %d: %s", httpResp.StatusCode, snippet)
	}

	var parsed atSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("africastalking: failed to parse response body: %w", err)
	}

	results := make([]RecipientResult, 0, len(parsed.SMSMessageData.Recipients))
	for _, r := range parsed.SMSMessageData.Recipients {
		results = append(results, RecipientResult{
			Number:     r.Number,
			Cost:       r.Cost,
			Status:     r.Status,
			StatusCode: r.StatusCode,
			MessageID:  r.MessageID,
		})
	}

	c.logger.InfoContext(ctx, "Africa's Talking batch accepted",
		"submitted", len(req.Recipients), "results", len(results), "summary", parsed.SMSMessageData.Message)
	return results, nil
}

func (c *AfricasTalkingClient) Name() string {
	return domain.ProviderAfricasTalking
}
