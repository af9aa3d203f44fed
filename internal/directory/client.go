package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	createPath = "/api/party-codes/create/"
	lookupPath = "/api/party-codes/lookup/"
)

// Client talks to a directory Service over HTTP.
type Client struct {
	base string
	http *http.Client
}

var _ Directory = (*Client)(nil)

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

type createRequest struct {
	PeerID string `json:"peer_id"`
}

type lookupResponse struct {
	PeerID string `json:"peer_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) Create(ctx context.Context, peerID string) (Registration, error) {
	body, err := json.Marshal(createRequest{PeerID: peerID})
	if err != nil {
		return Registration{}, &Error{Op: "create", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+createPath, bytes.NewReader(body))
	if err != nil {
		return Registration{}, &Error{Op: "create", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var reg Registration
	if err := c.do(req, &reg); err != nil {
		return Registration{}, &Error{Op: "create", Err: err}
	}
	return reg, nil
}

func (c *Client) Lookup(ctx context.Context, code string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", &Error{Op: "lookup", Err: ErrNotFound}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+lookupPath+url.PathEscape(code)+"/", nil)
	if err != nil {
		return "", &Error{Op: "lookup", Code: code, Err: err}
	}

	var out lookupResponse
	if err := c.do(req, &out); err != nil {
		return "", &Error{Op: "lookup", Code: code, Err: err}
	}
	return out.PeerID, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrMissingPeer, readError(resp))
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, resp.Status, readError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return nil
}

func readError(resp *http.Response) string {
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return http.StatusText(resp.StatusCode)
	}
	return e.Error
}
