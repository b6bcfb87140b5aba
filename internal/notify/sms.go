package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SMSSender posts a short message to an SMS gateway at
// settings["gatewayUrl"] for the recipient in settings["to"].
type SMSSender struct {
	Client *http.Client
}

func NewSMSSender() *SMSSender {
	return &SMSSender{Client: http.DefaultClient}
}

func (s *SMSSender) Send(ctx context.Context, alert Alert, cfg ChannelConfig) error {
	url := cfg.Settings["gatewayUrl"]
	to := cfg.Settings["to"]
	if url == "" || to == "" {
		return fmt.Errorf("sms channel requires gatewayUrl and to")
	}
	payload, err := json.Marshal(map[string]string{
		"to":      to,
		"message": fmt.Sprintf("[%s] %s", alert.Severity, alert.Message),
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := cfg.Settings["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
