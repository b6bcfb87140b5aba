package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	ChannelEmail   = "email"
	ChannelSlack   = "slack"
	ChannelWebhook = "webhook"
	ChannelSMS     = "sms"
)

type ChannelConfig struct {
	Type     string            `json:"type"`
	Settings map[string]string `json:"settings"`
}

type Alert struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"ruleId"`
	RuleName      string    `json:"ruleName"`
	Severity      string    `json:"severity"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Values        []float64 `json:"values"`
	CorrelationID string    `json:"correlationId"`
}

// Sender delivers an alert to one concrete channel.
type Sender interface {
	Send(ctx context.Context, alert Alert, cfg ChannelConfig) error
}

type ChannelResult struct {
	ChannelType string `json:"channelType"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Secrets decrypts channel settings that were encrypted at rest.
type Secrets interface {
	Decrypt(cipherText string) (string, error)
}

// SecretSettingKeys lists the channel settings stored encrypted.
var SecretSettingKeys = []string{"password", "token"}

// Dispatcher fans an alert out to its channels. Channels are attempted
// concurrently and independently: one channel's timeout or rejection never
// prevents the others.
type Dispatcher struct {
	mu      sync.RWMutex
	senders map[string]Sender
	timeout time.Duration
	secrets Secrets
	logger  *slog.Logger
}

func NewDispatcher(timeout time.Duration, secrets Secrets, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		senders: map[string]Sender{},
		timeout: timeout,
		secrets: secrets,
		logger:  logger,
	}
	d.Register(ChannelWebhook, NewWebhookSender())
	d.Register(ChannelSlack, NewSlackSender())
	d.Register(ChannelEmail, &EmailSender{})
	d.Register(ChannelSMS, NewSMSSender())
	return d
}

// Register installs or replaces the sender for a channel type.
func (d *Dispatcher) Register(channelType string, sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[channelType] = sender
}

func (d *Dispatcher) sender(channelType string) (Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.senders[channelType]
	return s, ok
}

func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert, channels []ChannelConfig) []ChannelResult {
	results := make([]ChannelResult, len(channels))
	var wg sync.WaitGroup
	for i, cfg := range channels {
		wg.Add(1)
		go func(i int, cfg ChannelConfig) {
			defer wg.Done()
			results[i] = d.send(ctx, alert, cfg)
		}(i, cfg)
	}
	wg.Wait()
	for _, res := range results {
		if !res.Success {
			d.logger.Warn("channel dispatch failed",
				slog.String("alertId", alert.ID),
				slog.String("channel", res.ChannelType),
				slog.String("error", res.Error))
		}
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, alert Alert, cfg ChannelConfig) ChannelResult {
	result := ChannelResult{ChannelType: cfg.Type}
	sender, ok := d.sender(cfg.Type)
	if !ok {
		result.Error = fmt.Sprintf("unsupported notification channel %q", cfg.Type)
		return result
	}
	cfg, err := d.decryptSettings(cfg)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := sender.Send(sendCtx, alert, cfg); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

func (d *Dispatcher) decryptSettings(cfg ChannelConfig) (ChannelConfig, error) {
	if d.secrets == nil || len(cfg.Settings) == 0 {
		return cfg, nil
	}
	settings := make(map[string]string, len(cfg.Settings))
	for k, v := range cfg.Settings {
		settings[k] = v
	}
	for _, key := range SecretSettingKeys {
		if cipherText, ok := settings[key]; ok && cipherText != "" {
			plain, err := d.secrets.Decrypt(cipherText)
			if err != nil {
				return cfg, fmt.Errorf("decrypt channel %s: %w", key, err)
			}
			settings[key] = plain
		}
	}
	cfg.Settings = settings
	return cfg, nil
}
