package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"agentmesh/internal/envelope"
	"agentmesh/internal/manifest"
)

// SyncInfo is the seed's instruction for keeping the manifest fresh.
type SyncInfo struct {
	HeadURL             string `json:"headUrl"`
	ManifestURLTemplate string `json:"manifestUrlTemplate"`
	IntervalSeconds     int    `json:"intervalSeconds"`
}

// JoinResult is a verified, decoded join response.
type JoinResult struct {
	Mesh     string
	Agent    string
	Envelope *envelope.Envelope
	Manifest *manifest.Payload
	Sync     SyncInfo
}

// HeadInfo is a peer's manifest head.
type HeadInfo struct {
	Mesh         string `json:"mesh"`
	Version      int    `json:"version"`
	ManifestHash string `json:"manifestHash"`
	IssuedAt     string `json:"issuedAt"`
}

type joinResponse struct {
	OK       bool               `json:"ok"`
	Mesh     string             `json:"mesh"`
	Agent    string             `json:"agent"`
	Manifest *envelope.Envelope `json:"manifest"`
	Sync     SyncInfo           `json:"sync"`
}

// Join redeems token against the seed node and verifies the returned
// manifest under the pinned root key before handing it back. The root
// key travels out of band with the invite; nothing from the network is
// trusted until it verifies.
func (c *Client) Join(ctx context.Context, seedURL, token, nodePubKey string, root ed25519.PublicKey, meshName string) (*JoinResult, error) {
	body, err := json.Marshal(map[string]string{
		"token":      token,
		"nodePubKey": nodePubKey,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, seedURL+"/mesh/bootstrap/join", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", seedURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("join: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	var jr joinResponse
	if err := json.Unmarshal(data, &jr); err != nil {
		return nil, fmt.Errorf("join: parse response: %w", err)
	}
	if !jr.OK || jr.Manifest == nil {
		return nil, fmt.Errorf("join: seed answered without a manifest")
	}

	payload, err := envelope.Verify(root, jr.Manifest)
	if err != nil {
		return nil, fmt.Errorf("join: manifest rejected: %w", err)
	}
	var mp manifest.Payload
	if err := json.Unmarshal(payload, &mp); err != nil {
		return nil, fmt.Errorf("join: decode manifest: %w", err)
	}
	if mp.Mesh != meshName {
		return nil, fmt.Errorf("join: manifest is for mesh %q, expected %q", mp.Mesh, meshName)
	}

	return &JoinResult{
		Mesh:     jr.Mesh,
		Agent:    jr.Agent,
		Envelope: jr.Manifest,
		Manifest: &mp,
		Sync:     jr.Sync,
	}, nil
}

// Head fetches a peer's manifest head. Bearer-authenticated.
func (c *Client) Head(ctx context.Context, baseURL string) (*HeadInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/mesh/bootstrap/head", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	var h HeadInfo
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("head: parse: %w", err)
	}
	return &h, nil
}

// FetchManifest downloads a manifest envelope from a peer. version is a
// number or "latest". The caller verifies before adopting.
func (c *Client) FetchManifest(ctx context.Context, baseURL, version string) (*envelope.Envelope, error) {
	url := baseURL + "/mesh/bootstrap/manifest/" + strings.TrimSpace(version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("fetch manifest: parse: %w", err)
	}
	return &env, nil
}
