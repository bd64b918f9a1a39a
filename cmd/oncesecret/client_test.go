package main

import (
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/org/oncesecret/internal/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretID(t *testing.T) {
	id := uuid.NewString()
	for _, ref := range []string{
		id,
		"/secret/" + id,
		"http://localhost:8080/secret/" + id,
		"https://example.com/secret/" + id + "/",
		"  " + id + "\n",
	} {
		got, err := secretID(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, id, got)
	}

	_, err := secretID("https://example.com/secret/nope")
	assert.Error(t, err)
}

func TestReadValue(t *testing.T) {
	v, err := readValue(strings.NewReader("ignored"), []string{"from-arg"})
	require.NoError(t, err)
	assert.Equal(t, "from-arg", v)

	v, err = readValue(strings.NewReader("from stdin\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", v)

	v, err = readValue(strings.NewReader("line1\r\nline2\r\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "line1\r\nline2", v)
}

func TestReadValueSizeLimit(t *testing.T) {
	full := strings.Repeat("a", secret.MaxValueBytes)

	v, err := readValue(strings.NewReader(full+"\r\n"), nil)
	require.NoError(t, err)
	assert.Len(t, v, secret.MaxValueBytes)

	for name, input := range map[string]string{
		"tail after crlf": full + "\r\nmore text",
		"one byte over":   full + "a",
		"far over":        strings.Repeat("a", 3*secret.MaxValueBytes),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := readValue(strings.NewReader(input), []string{"-"})
			assert.ErrorContains(t, err, "exceeds")
		})
	}
}

// withCLIState resets the package-level CLI settings for one test.
func withCLIState(t *testing.T, c CLIConfig, addr string) {
	t.Helper()
	prevCfg, prevAddr := cfg, flagAddr
	cfg, flagAddr = c, addr
	t.Cleanup(func() { cfg, flagAddr = prevCfg, prevAddr })
	t.Setenv("ONCESECRET_ADDR", "")
	t.Setenv("ONCESECRET_CACERT", "")
}

func TestServerAddressPrecedence(t *testing.T) {
	withCLIState(t, CLIConfig{Address: "http://from-file:8080/"}, "")
	assert.Equal(t, "http://from-file:8080", serverAddress())

	t.Setenv("ONCESECRET_ADDR", "http://from-env:8080")
	assert.Equal(t, "http://from-env:8080", serverAddress())

	flagAddr = "http://from-flag:8080"
	assert.Equal(t, "http://from-flag:8080", serverAddress())
}

func TestNewClientCACert(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, caPEM, 0600))
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0600))

	withCLIState(t, CLIConfig{Address: defaultAddress}, ts.URL)

	t.Setenv("ONCESECRET_CACERT", caFile)
	c, err := newClient()
	require.NoError(t, err)
	got, err := c.get("/health")
	require.NoError(t, err)
	assert.Equal(t, "ok", got["status"])

	t.Setenv("ONCESECRET_CACERT", filepath.Join(dir, "missing.pem"))
	_, err = newClient()
	assert.ErrorContains(t, err, "reading CA certificate")

	t.Setenv("ONCESECRET_CACERT", "")
	cfg.TLSCACert = garbage
	_, err = newClient()
	assert.ErrorContains(t, err, "no PEM certificates")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &Client{addr: ts.URL, http: ts.Client()}
}

func TestClientCreateAndGet(t *testing.T) {
	id := uuid.NewString()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/secret":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
			assert.Equal(t, "s3cret", body["value"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"link":       "/secret/" + id,
				"expires_at": "2025-01-01T13:00:00Z",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/secret/"+id:
			json.NewEncoder(w).Encode(map[string]any{"value": "s3cret"}) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusGone)
			w.Write([]byte(`{"status":410,"message":"Gone"}`)) //nolint:errcheck
		}
	})

	created, err := c.createSecret("s3cret")
	require.NoError(t, err)
	assert.Equal(t, c.addr+"/secret/"+id, created["url"])

	got, err := c.getSecret(created["url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got["value"])

	_, err = c.getSecret(uuid.NewString())
	assert.EqualError(t, err, "HTTP 410: Gone")
}

func TestParseResponseFieldErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"status":422,"message":"invalid request","errors":{"value":"must not be empty"}}`)) //nolint:errcheck
	})
	_, err := c.createSecret("")
	assert.EqualError(t, err, "HTTP 422: invalid request; value: must not be empty")
}

func TestParseResponseNonJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down")) //nolint:errcheck
	})
	_, err := c.get("/health")
	assert.EqualError(t, err, "HTTP 502: upstream down")
}
