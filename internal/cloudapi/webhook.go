package cloudapi

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/rs/zerolog/log"
)

// WebhookSettings is the current webhook registration of an organization.
type WebhookSettings struct {
	WebHooksURI string `json:"webHooksUri"`
	AuthToken   string `json:"authToken"`
}

// GetWebhookSettings reads the current registration.
func (c *Client) GetWebhookSettings(ctx context.Context, orgID string) (*WebhookSettings, error) {
	var out WebhookSettings
	payload := map[string]any{"organizationId": orgID}
	if err := c.post(ctx, "/api/1/webhooks/settings", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterWebhook points the organization's webhook at url, subscribing to
// stop-list updates and closed delivery/table orders. The shared secret is
// echoed back by the cloud in the Authorization header of every delivery.
func (c *Client) RegisterWebhook(ctx context.Context, orgID, url string) error {
	payload := map[string]any{
		"organizationId": orgID,
		"webHooksUri":    url,
		"authToken":      c.webhookSecret,
		"webHooksFilter": map[string]any{
			"deliveryOrderFilter": map[string]any{
				"orderStatuses": []string{"Closed"},
				"errors":        false,
			},
			"tableOrderFilter": map[string]any{
				"orderStatuses": []string{"Closed"},
				"errors":        false,
			},
		},
	}
	if err := c.post(ctx, "/api/1/webhooks/update_settings", payload, nil); err != nil {
		return err
	}
	log.Info().Str("org_id", orgID).Str("url", url).Msg("webhook registered")
	return nil
}

// VerifyWebhookAuth checks the Authorization header of an incoming webhook
// delivery against the shared secret. The cloud may send the token bare or
// with a Bearer prefix.
func (c *Client) VerifyWebhookAuth(header string) bool {
	return VerifyWebhookAuth(header, c.webhookSecret)
}

func VerifyWebhookAuth(header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
