// Package lookup is the client for the authoritative UK postcode registry
// (postcodes.io or a compatible service).
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.postcodes.io"
	DefaultTimeout = 10 * time.Second
)

var (
	// ErrNotFound is the registry's answer for a postcode it does not know.
	ErrNotFound = errors.New("postcode not found")

	// ErrMissingResult means the registry answered successfully but the
	// envelope carried no result object.
	ErrMissingResult = errors.New("lookup response has no result")
)

// ServiceError reports that the registry could not be asked or gave an
// unusable answer. It is an infrastructure failure, never bad input.
type ServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("postcode lookup %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("postcode lookup %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Result is the subset of the registry's record this service relies on.
type Result struct {
	Postcode      string   `json:"postcode"`
	Outcode       string   `json:"outcode"`
	Incode        string   `json:"incode"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Country       string   `json:"country"`
	Region        string   `json:"region"`
	AdminDistrict string   `json:"admin_district"`
}

type envelope struct {
	Status int     `json:"status"`
	Error  string  `json:"error"`
	Result *Result `json:"result"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a registry client. An empty baseURL selects
// DefaultBaseURL and a nil httpClient gets DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Lookup fetches one canonical postcode. It returns ErrNotFound,
// ErrMissingResult or a *ServiceError on failure.
func (c *Client) Lookup(ctx context.Context, postcode string) (*Result, error) {
	endpoint := c.baseURL + "/postcodes/" + url.PathEscape(postcode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ServiceError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ServiceError{
			Op:         "request",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	var payload envelope
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &ServiceError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}

	if payload.Status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if payload.Result == nil {
		return nil, ErrMissingResult
	}
	return payload.Result, nil
}
