package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/config"
	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/upstream"
)

// ErrNoToken is returned when the token table is empty. The token is written
// by an external cron; an empty table means that process is down.
var ErrNoToken = errors.New("cloudapi: no access token in cloud_access_token")

// tokenStore reads the newest cloud access token. The service never
// refreshes it itself.
type tokenStore struct {
	q db.Querier
}

func (s *tokenStore) Token(ctx context.Context) (string, error) {
	var token string
	err := s.q.QueryRow(ctx,
		`SELECT token FROM cloud_access_token ORDER BY created_at DESC LIMIT 1`,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("cloudapi: read token: %w", err)
	}
	return token, nil
}

// TokenSource yields the current cloud access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the cloud ordering API. All endpoints are POST+JSON.
type Client struct {
	http          *http.Client
	baseURL       string
	webhookSecret string
	tokens        TokenSource
}

func New(cfg *config.Config, q db.Querier) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 15 * time.Second}).DialContext,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     120 * time.Second,
			},
			Timeout: 30 * time.Second,
		},
		baseURL:       strings.TrimRight(cfg.CloudBaseURL, "/"),
		webhookSecret: cfg.CloudWebhookSecret,
		tokens:        &tokenStore{q: q},
	}
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cloudapi: encode %s: %w", path, err)
	}
	full := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, full, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return upstream.NewError("cloud: post "+path, full, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstream.NewError("cloud: post "+path, full, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return upstream.NewError("cloud: post "+path, full, resp.StatusCode, nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("cloudapi: decode %s: %w", path, err)
	}
	return nil
}

// Organization is one cloud organization.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Organizations lists the organizations the token can see.
func (c *Client) Organizations(ctx context.Context) ([]Organization, error) {
	var out struct {
		Organizations []Organization `json:"organizations"`
	}
	if err := c.post(ctx, "/api/1/organizations", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Organizations, nil
}

// TerminalGroup is one front terminal group of an organization.
type TerminalGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TerminalGroups lists terminal groups for one organization.
func (c *Client) TerminalGroups(ctx context.Context, orgID string) ([]TerminalGroup, error) {
	var out struct {
		TerminalGroups []struct {
			OrganizationID string          `json:"organizationId"`
			Items          []TerminalGroup `json:"items"`
		} `json:"terminalGroups"`
	}
	payload := map[string]any{"organizationIds": []string{orgID}}
	if err := c.post(ctx, "/api/1/terminal_groups", payload, &out); err != nil {
		return nil, err
	}
	var groups []TerminalGroup
	for _, g := range out.TerminalGroups {
		groups = append(groups, g.Items...)
	}
	return groups, nil
}

// StopListItem is one stopped product, flattened from the nested response.
type StopListItem struct {
	ProductID       string
	Balance         float64
	SKU             string
	DateAdd         string
	TerminalGroupID string
	OrganizationID  string
}

// StopLists fetches the current stop list for the given terminal groups and
// flattens the org → terminal group → item nesting.
func (c *Client) StopLists(ctx context.Context, orgID string, terminalGroupIDs []string) ([]StopListItem, error) {
	var out struct {
		TerminalGroupStopLists []struct {
			OrganizationID string `json:"organizationId"`
			Items          []struct {
				TerminalGroupID string `json:"terminalGroupId"`
				Items           []struct {
					ProductID string  `json:"productId"`
					Balance   float64 `json:"balance"`
					SKU       string  `json:"sku"`
					DateAdd   string  `json:"dateAdd"`
				} `json:"items"`
			} `json:"items"`
		} `json:"terminalGroupStopLists"`
	}
	payload := map[string]any{
		"organizationIds":   []string{orgID},
		"terminalGroupsIds": terminalGroupIDs,
	}
	if err := c.post(ctx, "/api/1/stop_lists", payload, &out); err != nil {
		return nil, err
	}
	var flat []StopListItem
	for _, org := range out.TerminalGroupStopLists {
		oid := org.OrganizationID
		if oid == "" {
			oid = orgID
		}
		for _, tg := range org.Items {
			for _, it := range tg.Items {
				flat = append(flat, StopListItem{
					ProductID:       it.ProductID,
					Balance:         it.Balance,
					SKU:             it.SKU,
					DateAdd:         it.DateAdd,
					TerminalGroupID: tg.TerminalGroupID,
					OrganizationID:  oid,
				})
			}
		}
	}
	log.Debug().Int("items", len(flat)).Str("org_id", orgID).Msg("stop list fetched")
	return flat, nil
}
