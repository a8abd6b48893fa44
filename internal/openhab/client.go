package openhab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/thane-openhab/internal/httpkit"
)

// Settings supplies the connection parameters. Both methods are called
// on every request so the host can change them at runtime.
type Settings interface {
	BaseURL() string
	APIToken() string
}

// Client is an openHAB REST API client.
type Client struct {
	settings   Settings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an openHAB client. Extra httpkit options (timeout,
// TLS, dial retries) are applied after the defaults. By default a failed
// request is returned at once; the reconcile interval is the retry.
func NewClient(settings Settings, logger *slog.Logger, opts ...httpkit.ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := []httpkit.ClientOption{
		httpkit.WithTimeout(30 * time.Second),
		httpkit.WithLogger(logger),
		httpkit.WithBearerToken(settings.APIToken),
	}
	return &Client{
		settings:   settings,
		httpClient: httpkit.NewClient(append(base, opts...)...),
		logger:     logger,
	}
}

// Items retrieves the full item list.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := c.get(ctx, "/rest/items", &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SystemInfo retrieves runtime information about the openHAB server.
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var env systemInfoEnvelope
	if err := c.get(ctx, "/rest/systeminfo", &env); err != nil {
		return nil, err
	}
	return &env.SystemInfo, nil
}

// Ping checks that the server is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SystemInfo(ctx)
	return err
}

// SendCommand posts command as the plain-text body to the item. openHAB
// replies 200 or 202 depending on version.
func (c *Client) SendCommand(ctx context.Context, item, command string) error {
	path := "/rest/items/" + url.PathEscape(item)

	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(command))
	if err != nil {
		return &RemoteError{Kind: KindCommand, Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Kind: KindCommand, Path: path, Err: err}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return &RemoteError{Kind: KindCommand, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(body)}
	}
	httpkit.DrainAndClose(resp.Body, 4096)

	c.logger.Debug("openhab command sent", "item", item, "command", command)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	base := c.settings.BaseURL()
	if base == "" {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return req, nil
}

// get performs a GET request and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return &RemoteError{Kind: KindFetch, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Kind: KindFetch, Path: path, Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return &RemoteError{Kind: KindFetch, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &RemoteError{Kind: KindFetch, Path: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
