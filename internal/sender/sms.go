package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type SMSConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// SMSSender submits transactional SMS through the provider's HTTP API.
type SMSSender struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
}

func NewSMSSender(cfg SMSConfig) *SMSSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMSSender{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		from:    cfg.From,
	}
}

type smsRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

type smsResponse struct {
	MessageID json.Number `json:"messageId"`
}

func (s *SMSSender) Send(ctx context.Context, msg *Message) (string, error) {
	payload, err := json.Marshal(smsRequest{
		Sender:    s.from,
		Recipient: msg.To,
		Content:   msg.Body,
		Type:      "transactional",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/transactionalSMS/sms", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call SMS gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("SMS gateway returned %d: %s", resp.StatusCode, string(body))
	}

	var out smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode SMS gateway response: %w", err)
	}
	return out.MessageID.String(), nil
}
