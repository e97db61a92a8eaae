// Package inventory talks to the host-inventory API that the poll loop uses
// as its liveness probe.
package inventory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const devicesQueryPath = "/devices/queries/devices/v1"

// Response is what the loop needs from one downstream call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// TraceID returns the correlation id the API attached to the response, or "".
func (r *Response) TraceID() string {
	if id := r.Header.Get("X-Cs-Traceid"); id != "" {
		return id
	}
	return r.Header.Get("X-Request-Id")
}

// Querier lists devices. A non-nil error means no HTTP response was obtained.
type Querier interface {
	QueryDevices(ctx context.Context, limit int) (*Response, error)
}

// Client queries the device listing endpoint.
type Client struct {
	baseURL   string
	http      *http.Client
	validator *BodyValidator
}

// Credentials selects how downstream calls authenticate. AccessToken wins
// over the client-credentials pair; with neither, requests go out bare.
type Credentials struct {
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// NewClient builds a client for baseURL. The returned client has no request
// timeout of its own.
func NewClient(ctx context.Context, baseURL string, creds Credentials) *Client {
	var hc *http.Client
	switch {
	case creds.AccessToken != "":
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"}))
	case creds.ClientID != "":
		cc := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     baseURL + "/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		hc = cc.Client(ctx)
	default:
		hc = &http.Client{}
	}
	return &Client{baseURL: baseURL, http: hc, validator: NewBodyValidator()}
}

func (c *Client) QueryDevices(ctx context.Context, limit int) (*Response, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+devicesQueryPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if resp.StatusCode == http.StatusOK && c.validator != nil {
		c.validator.Check(out)
	}
	return out, nil
}
