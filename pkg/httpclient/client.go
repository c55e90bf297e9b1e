package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quoteflow-io/quoteflow-backend/pkg/errors"
	"github.com/quoteflow-io/quoteflow-backend/pkg/logger"
)

const defaultTimeout = 8 * time.Second

// Client is a thin JSON client for the collaborator services. Every call takes
// the request context and maps transport/status failures onto the dependency
// error code so callers can trigger their documented fallbacks.
type Client struct {
	base    string
	token   string
	httpCli *http.Client
	logg    *logger.Logger
}

func New(baseURL, token string, timeout time.Duration, logg *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		token:   token,
		httpCli: &http.Client{Timeout: timeout},
		logg:    logg,
	}
}

// GetJSON issues a GET with query params and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query map[string]string, out any) error {
	reqURL := c.base + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "building request")
	}
	return c.do(req, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encoding request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		if c.logg != nil {
			ctx := c.logg.WithField(req.Context(), "url", req.URL.String())
			c.logg.Warn(ctx, "collaborator request failed")
		}
		return errors.Wrap(errors.CodeDependency, err, "calling collaborator service")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(errors.CodeDependency,
			fmt.Sprintf("collaborator returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.CodeDependency, err, "decoding collaborator response")
	}
	return nil
}
