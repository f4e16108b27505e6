// Package discovery implements the unauthenticated REST calls the Miniserver
// exposes for controller metadata and its RSA public key (§4.4).
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrAuthFailed marks an envelope whose control/Code did not match
// expectations — a fatal handshake error per §7.
var ErrAuthFailed = errors.New("discovery: unexpected envelope")

// envelope is the common "{"LL":{"control","Code","value"}}" wrapper every
// REST endpoint responds with (§4.4, §6).
type envelope struct {
	LL struct {
		Control string `json:"control"`
		Code    string `json:"Code"`
		Value   string `json:"value"`
	} `json:"LL"`
}

// Info is the controller metadata decoded from GET /jdev/cfg/apiKey's
// pseudo-JSON value (§3, §4.4).
type Info struct {
	Serial        string `json:"snr"`
	Version       string `json:"version"`
	Local         bool   `json:"local"`
	HTTPSStatus   int    `json:"httpsStatus"`
	Address       string `json:"address"`
	PublicKeyHint string `json:"key"`
}

// EffectiveHostname derives the hostname to use for the WebSocket
// connection, per §3: a cloud-relay dyndns name when the controller reports
// itself as local, otherwise the hostname the caller already used to reach it.
func (i Info) EffectiveHostname(requestedHostname string) string {
	if !i.Local {
		return requestedHostname
	}
	ip := strings.ReplaceAll(i.Address, ".", "-")
	serial := strings.ReplaceAll(i.Serial, ":", "")
	return fmt.Sprintf("%s.%s.dyndns.loxonecloud.com", ip, serial)
}

// Scheme returns "wss" if the controller advertises HTTPS support, else "ws"
// (§3).
func (i Info) Scheme() string {
	if i.HTTPSStatus == 1 {
		return "wss"
	}
	return "ws"
}

// Client performs the two unauthenticated discovery calls against a
// Miniserver's REST surface.
type Client struct {
	httpClient *http.Client
	hostname   string
}

// New returns a Client bound to hostname, with a bounded request timeout
// (§5 recommends 10s).
func New(hostname string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		hostname:   hostname,
	}
}

// GetInfo retrieves controller metadata from GET /jdev/cfg/apiKey. The
// envelope's value is single-quoted pseudo-JSON (§4.4) — single quotes are
// substituted for double quotes before parsing.
func (c *Client) GetInfo(ctx context.Context) (Info, error) {
	env, err := c.getEnvelope(ctx, "/jdev/cfg/apiKey", "dev/cfg/apiKey")
	if err != nil {
		return Info{}, err
	}

	jsonish := strings.ReplaceAll(env.LL.Value, "'", `"`)

	var info Info
	if err := json.Unmarshal([]byte(jsonish), &info); err != nil {
		return Info{}, fmt.Errorf("discovery: decode apiKey value: %w", err)
	}
	return info, nil
}

// GetPublicKey retrieves the controller's RSA public key from GET
// /jdev/sys/getPublicKey, still armored as returned (§4.2 rewrites the
// armor; this package hands back the raw PEM text).
func (c *Client) GetPublicKey(ctx context.Context) (string, error) {
	env, err := c.getEnvelope(ctx, "/jdev/sys/getPublicKey", "dev/sys/getPublicKey")
	if err != nil {
		return "", err
	}
	return env.LL.Value, nil
}

// getEnvelope issues a GET request and validates the common envelope:
// HTTP 200 is required, and both the control field and the Code field must
// match expectations, or the call is a fatal ErrAuthFailed (§4.4, §7).
func (c *Client) getEnvelope(ctx context.Context, path, wantControl string) (envelope, error) {
	url := fmt.Sprintf("http://%s%s", c.hostname, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return envelope{}, fmt.Errorf("discovery: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("discovery: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return envelope{}, fmt.Errorf("%w: %s returned HTTP %d", ErrAuthFailed, path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("discovery: decode envelope from %s: %w", path, err)
	}

	if env.LL.Control != wantControl {
		return envelope{}, fmt.Errorf("%w: control %q, want %q", ErrAuthFailed, env.LL.Control, wantControl)
	}
	if env.LL.Code != "200" {
		return envelope{}, fmt.Errorf("%w: code %q from %s", ErrAuthFailed, env.LL.Code, path)
	}

	return env, nil
}
