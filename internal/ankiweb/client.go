// Package ankiweb fetches the cloud copy of an Anki collection. The
// primary Client speaks the sync protocol directly; CommandClient shells
// out to an external tool for setups that already run the official client.
package ankiweb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"ankibak-go/internal/backup"
)

const (
	// syncVersion is the sync protocol version spoken by this client.
	syncVersion = 11

	// DefaultEndpoint is the public AnkiWeb sync service. Accounts on a
	// shard get redirected to their shard host on the first request.
	DefaultEndpoint = "https://sync.ankiweb.net/"

	// clientVersionShort goes into the anki-sync header; clientVersionLong
	// is reported in the meta request body.
	clientVersionShort = "25.09.2,dev,linux"
	clientVersionLong  = "anki,25.09.2 (dev),linux"

	// syncTimeout bounds a single request. Full collection downloads can
	// be large, so this is generous.
	syncTimeout = 300 * time.Second
)

// zstdMagic is the zstd frame header. Responses are only compressed when
// they start with it.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// syncHeader is the JSON payload of the anki-sync request header.
type syncHeader struct {
	Version    int    `json:"v"`
	Key        string `json:"k"`
	Client     string `json:"c"`
	SessionKey string `json:"s"`
}

type hostKeyRequest struct {
	Username string `json:"u"`
	Password string `json:"p"`
}

type hostKeyResponse struct {
	Key string `json:"key"`
}

type metaRequest struct {
	Version       int    `json:"v"`
	ClientVersion string `json:"cv"`
}

type metaResponse struct {
	Message string `json:"msg"`
	Empty   bool   `json:"empty"`
}

// Client downloads the full collection over the direct sync protocol:
// hostKey to authenticate, meta to check server state, download for the
// collection bytes. Request bodies are zstd-compressed and shard redirects
// are handled manually.
type Client struct {
	username string
	password string
	endpoint string
	http     *http.Client
	logger   backup.Logger
}

var _ backup.SyncClient = (*Client)(nil)

// NewClient creates a Client for the given account. An empty endpoint
// selects DefaultEndpoint.
func NewClient(username, password, endpoint string, logger backup.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = backup.NewNopLogger()
	}
	return &Client{
		username: username,
		password: password,
		endpoint: endpoint,
		http: &http.Client{
			Timeout: syncTimeout,
			// Redirects carry a new base URL, not a new resource
			// location, so they are handled in request instead.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Fetch logs in, verifies the server has a collection, and downloads it.
func (c *Client) Fetch(ctx context.Context) (*backup.SyncResult, error) {
	if c.username == "" || c.password == "" {
		return nil, ErrMissingCredentials
	}

	start := time.Now()
	endpoint := c.endpoint
	sessionKey := newSessionKey()

	hostKey, err := c.login(ctx, endpoint, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	metaBody, err := json.Marshal(metaRequest{Version: syncVersion, ClientVersion: clientVersionLong})
	if err != nil {
		return nil, fmt.Errorf("serializing meta request: %w", err)
	}
	metaRes, err := c.request(ctx, endpoint, "meta", hostKey, sessionKey, metaBody)
	if err != nil {
		return nil, fmt.Errorf("meta request failed: %w", err)
	}
	// The server can move the account to a shard host; later requests
	// must go there.
	if metaRes.newEndpoint != "" {
		endpoint = metaRes.newEndpoint
	}
	var meta metaResponse
	if err := json.Unmarshal(metaRes.data, &meta); err != nil {
		return nil, fmt.Errorf("parsing meta response: %w", err)
	}
	if meta.Message != "" {
		c.logger.Info("ankiweb server message", "message", meta.Message)
	}
	if meta.Empty {
		return nil, fmt.Errorf("%w: server collection is empty", ErrDownloadFailed)
	}

	dlRes, err := c.request(ctx, endpoint, "download", hostKey, sessionKey, []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	elapsed := time.Since(start)
	c.logger.Info("downloaded collection",
		"size_bytes", len(dlRes.data),
		"duration_ms", elapsed.Milliseconds())

	return &backup.SyncResult{
		Collection:     dlRes.data,
		SyncDurationMS: elapsed.Milliseconds(),
	}, nil
}

func (c *Client) login(ctx context.Context, endpoint, sessionKey string) (string, error) {
	body, err := json.Marshal(hostKeyRequest{Username: c.username, Password: c.password})
	if err != nil {
		return "", fmt.Errorf("serializing hostKey request: %w", err)
	}
	res, err := c.request(ctx, endpoint, "hostKey", "", sessionKey, body)
	if err != nil {
		return "", err
	}
	var resp hostKeyResponse
	if err := json.Unmarshal(res.data, &resp); err != nil {
		return "", fmt.Errorf("parsing hostKey response: %w", err)
	}
	c.logger.Info("ankiweb login succeeded", "username", c.username)
	return resp.Key, nil
}

type requestResult struct {
	data []byte
	// newEndpoint is the shard base URL when the request got redirected.
	newEndpoint string
}

// request POSTs one sync method and returns the decompressed response. A
// 3xx answer means the account lives on a shard: the Location header is a
// new base URL and the same POST is reissued once against it.
func (c *Client) request(ctx context.Context, endpoint, method, hostKey, sessionKey string, body []byte) (*requestResult, error) {
	header, err := json.Marshal(syncHeader{
		Version:    syncVersion,
		Key:        hostKey,
		Client:     clientVersionShort,
		SessionKey: sessionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing sync header: %w", err)
	}

	compressed, err := zstdCompress(body)
	if err != nil {
		return nil, fmt.Errorf("compressing request body: %w", err)
	}

	c.logger.Debug("sync request", "method", method, "endpoint", endpoint)
	resp, err := c.post(ctx, syncURL(endpoint, method), string(header), compressed)
	if err != nil {
		return nil, err
	}

	var newEndpoint string
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if location != "" {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			newEndpoint = strings.TrimSuffix(location, "/")
			c.logger.Debug("redirected to shard", "method", method, "endpoint", newEndpoint)
			resp, err = c.post(ctx, syncURL(newEndpoint, method), string(header), compressed)
			if err != nil {
				return nil, err
			}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		return nil, &ProtocolError{Method: method, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	data := raw
	if bytes.HasPrefix(raw, zstdMagic) {
		if data, err = zstdDecompress(raw); err != nil {
			return nil, fmt.Errorf("decompressing %s response: %w", method, err)
		}
	}
	return &requestResult{data: data, newEndpoint: newEndpoint}, nil
}

func (c *Client) post(ctx context.Context, url, header string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("anki-sync", header)
	req.Header.Set("content-type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	return resp, nil
}

func syncURL(endpoint, method string) string {
	return fmt.Sprintf("%s/sync/%s", strings.TrimSuffix(endpoint, "/"), method)
}

func zstdCompress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// base62Table matches the upstream session id alphabet.
const base62Table = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newSessionKey renders a random uint32 in base 62, least significant
// digit first. The key identifies one sync session across its requests.
func newSessionKey() string {
	return base62(rand.Uint32())
}

func base62(n uint32) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append(b, base62Table[n%62])
		n /= 62
	}
	return string(b)
}
