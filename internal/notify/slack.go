package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SlackSender posts a formatted message to an incoming-webhook URL in
// settings["webhookUrl"].
type SlackSender struct {
	Client *http.Client
}

func NewSlackSender() *SlackSender {
	return &SlackSender{Client: http.DefaultClient}
}

func (s *SlackSender) Send(ctx context.Context, alert Alert, cfg ChannelConfig) error {
	url := cfg.Settings["webhookUrl"]
	if url == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}
	text := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(alert.Severity), alert.RuleName, alert.Message)
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
