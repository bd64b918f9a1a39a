package main

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is an HTTP client for the oncesecret API.
type Client struct {
	addr string
	http *http.Client
}

// serverAddress resolves the API address: --addr, then ONCESECRET_ADDR,
// then the config file.
func serverAddress() string {
	addr := cfg.Address
	if v := os.Getenv("ONCESECRET_ADDR"); v != "" {
		addr = v
	}
	if flagAddr != "" {
		addr = flagAddr
	}
	return strings.TrimRight(addr, "/")
}

func caCertPath() string {
	if v := os.Getenv("ONCESECRET_CACERT"); v != "" {
		return v
	}
	return cfg.TLSCACert
}

// newClient creates a Client from the current config. A configured CA
// bundle replaces the system roots, so it must load.
func newClient() (*Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if path := caCertPath(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no PEM certificates found in %s", path)
		}
		tlsCfg.RootCAs = pool
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}
	return &Client{addr: serverAddress(), http: httpClient}, nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.addr+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func (c *Client) get(path string) (map[string]any, error) {
	resp, err := c.do("GET", path, nil)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) post(path string, body any) (map[string]any, error) {
	resp, err := c.do("POST", path, body)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// createSecret stores value and returns the absolute retrieval URL.
func (c *Client) createSecret(value string) (map[string]any, error) {
	result, err := c.post("/secret", map[string]any{"value": value})
	if err != nil {
		return nil, err
	}
	if link, ok := result["link"].(string); ok {
		result["url"] = c.addr + link
	}
	return result, nil
}

func (c *Client) getSecret(ref string) (map[string]any, error) {
	id, err := secretID(ref)
	if err != nil {
		return nil, err
	}
	return c.get("/secret/" + id)
}

// secretID accepts a bare id, a /secret/{id} path or a full URL.
func secretID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	ref = strings.TrimSuffix(ref, "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("not a secret link or id: %q", ref)
	}
	return id.String(), nil
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		msg, _ := result["message"].(string)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if fields, ok := result["errors"].(map[string]any); ok {
			for _, k := range sortedKeys(fields) {
				msg += fmt.Sprintf("; %s: %v", k, fields[k])
			}
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	}
	return result, nil
}
