// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package tunnel

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hearthnode/hearth/internal/logging"
	"github.com/hearthnode/hearth/internal/store"
)

const cfAPIBase = "https://api.cloudflare.com/client/v4"

var cfClient = &http.Client{Timeout: 30 * time.Second}

type cfError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cfEnvelope struct {
	Success bool            `json:"success"`
	Errors  []cfError       `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

// Setup provisions a named tunnel through the Cloudflare API: resolves
// the account, creates the tunnel, configures ingress to the local
// port and points a proxied CNAME at it. API failures are surfaced to
// the caller verbatim and never retried; only the DNS step is lenient,
// since the record commonly already exists from a previous setup.
//
// On success the named-mode configuration is persisted and the state
// becomes Configured-Stopped; Start actually runs the tunnel.
func (m *Manager) Setup(ctx context.Context, apiToken, name, hostname string, localPort int) (*store.TunnelConfig, error) {
	if apiToken == "" || name == "" || hostname == "" {
		return nil, fmt.Errorf("api token, tunnel name and hostname are required")
	}

	accountID, err := m.cfAccountID(ctx, apiToken)
	if err != nil {
		return nil, err
	}

	tunnelID, tunnelToken, err := m.cfCreateTunnel(ctx, apiToken, accountID, name)
	if err != nil {
		return nil, err
	}

	if err := m.cfConfigureIngress(ctx, apiToken, accountID, tunnelID, hostname, localPort); err != nil {
		return nil, err
	}

	if err := m.cfCreateDNSRecord(ctx, apiToken, hostname, tunnelID); err != nil {
		logging.Warn().Err(err).Str("hostname", hostname).Msg("dns record creation failed, it may already exist")
	}

	cfg := &store.TunnelConfig{
		Mode:        store.TunnelModeNamed,
		TunnelID:    tunnelID,
		TunnelName:  name,
		Hostname:    hostname,
		LocalPort:   localPort,
		TunnelToken: tunnelToken,
	}
	if err := m.st.SaveTunnelConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("tunnel provisioned but config save failed: %w", err)
	}

	logging.Info().Str("tunnel_id", tunnelID).Str("hostname", hostname).Msg("named tunnel provisioned")
	return cfg, nil
}

func (m *Manager) cfAccountID(ctx context.Context, token string) (string, error) {
	var accounts []struct {
		ID string `json:"id"`
	}
	if err := cfRequest(ctx, token, http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return "", fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("api token has no accessible accounts")
	}
	return accounts[0].ID, nil
}

func (m *Manager) cfCreateTunnel(ctx context.Context, token, accountID, name string) (id, tunnelToken string, err error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate tunnel secret: %w", err)
	}

	body := map[string]interface{}{
		"name":          name,
		"tunnel_secret": base64.StdEncoding.EncodeToString(secret),
		"config_src":    "cloudflare",
	}
	var result struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel", accountID)
	if err := cfRequest(ctx, token, http.MethodPost, path, body, &result); err != nil {
		return "", "", fmt.Errorf("failed to create tunnel: %w", err)
	}
	return result.ID, result.Token, nil
}

func (m *Manager) cfConfigureIngress(ctx context.Context, token, accountID, tunnelID, hostname string, localPort int) error {
	body := map[string]interface{}{
		"config": map[string]interface{}{
			"ingress": []map[string]interface{}{
				{
					"hostname": hostname,
					"service":  fmt.Sprintf("http://localhost:%d", localPort),
				},
				{"service": "http_status:404"},
			},
		},
	}
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel/%s/configurations", accountID, tunnelID)
	if err := cfRequest(ctx, token, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("failed to configure ingress: %w", err)
	}
	return nil
}

func (m *Manager) cfCreateDNSRecord(ctx context.Context, token, hostname, tunnelID string) error {
	zone := zoneFromHostname(hostname)
	if zone == "" {
		return fmt.Errorf("cannot derive zone from hostname %q", hostname)
	}

	var zones []struct {
		ID string `json:"id"`
	}
	if err := cfRequest(ctx, token, http.MethodGet, "/zones?name="+zone, nil, &zones); err != nil {
		return fmt.Errorf("failed to look up zone %s: %w", zone, err)
	}
	if len(zones) == 0 {
		return fmt.Errorf("zone %s not found", zone)
	}

	body := map[string]interface{}{
		"type":    "CNAME",
		"name":    hostname,
		"content": tunnelID + ".cfargotunnel.com",
		"proxied": true,
		"ttl":     1,
	}
	path := fmt.Sprintf("/zones/%s/dns_records", zones[0].ID)
	if err := cfRequest(ctx, token, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("failed to create dns record: %w", err)
	}
	return nil
}

// zoneFromHostname keeps the last two labels: hub.example.com ->
// example.com.
func zoneFromHostname(hostname string) string {
	parts := strings.Split(hostname, ".")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func cfRequest(ctx context.Context, token, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfAPIBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cfClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope cfEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("unreadable response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		if len(envelope.Errors) > 0 {
			return fmt.Errorf("cloudflare api error %d: %s", envelope.Errors[0].Code, envelope.Errors[0].Message)
		}
		return fmt.Errorf("cloudflare api request failed with status %d", resp.StatusCode)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("unexpected result shape: %w", err)
		}
	}
	return nil
}
