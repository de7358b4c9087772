package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carepool/internal/config"
	"carepool/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookPublisher posts alerts as JSON to a configured endpoint.
// Delivery is best effort; a non-2xx response is an error the dispatcher
// logs and drops.
type WebhookPublisher struct {
	hook   config.WebhookConfig
	client *http.Client
	levels map[string]bool
}

func NewWebhookPublisher(hook config.WebhookConfig) *WebhookPublisher {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	var levels map[string]bool
	if len(hook.Levels) > 0 {
		levels = make(map[string]bool, len(hook.Levels))
		for _, lvl := range hook.Levels {
			levels[strings.TrimSpace(lvl)] = true
		}
	}
	return &WebhookPublisher{
		hook:   hook,
		client: &http.Client{Timeout: timeout},
		levels: levels,
	}
}

// PublishersFromConfig builds one publisher per enabled webhook.
func PublishersFromConfig(hooks []config.WebhookConfig) []Publisher {
	var res []Publisher
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		res = append(res, NewWebhookPublisher(hook))
	}
	return res
}

func (p *WebhookPublisher) Publish(ctx context.Context, alert domain.ThresholdAlert) error {
	if p.levels != nil && !p.levels[alert.Level] {
		return nil
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Carepool-Alert", alert.Level)
	req.Header.Set("X-Carepool-Unit", alert.UnitID)
	if strings.TrimSpace(p.hook.Secret) != "" {
		req.Header.Set("X-Carepool-Secret", p.hook.Secret)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
