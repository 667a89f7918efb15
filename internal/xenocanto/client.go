// Package xenocanto queries the xeno-canto recordings API and downloads
// the referenced audio files into a per-species folder tree.
package xenocanto

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
)

// Recording is one entry of the API's recordings array. Fields are used as
// returned by the service.
type Recording struct {
	ID       string `json:"id"`
	Gen      string `json:"gen"`
	Sp       string `json:"sp"`
	En       string `json:"en"`
	Type     string `json:"type"`
	File     string `json:"file"`
	FileName string `json:"file-name"`
	Q        string `json:"q"`
	Length   string `json:"length"`
	Country  string `json:"cnt"`
}

// Species returns the binomial name of the recording.
func (r Recording) Species() string {
	return r.Gen + " " + r.Sp
}

type searchResponse struct {
	NumRecordings string      `json:"numRecordings"`
	NumSpecies    string      `json:"numSpecies"`
	Page          int         `json:"page"`
	NumPages      int         `json:"numPages"`
	Recordings    []Recording `json:"recordings"`
}

// Client talks to the recordings search endpoint.
type Client struct {
	apiURL     string
	apiKey     string
	typeFilter string
	http       *http.Client
}

// NewClient creates an API client. A zero timeout disables the client timeout.
// typeFilter selects recordings whose type contains it; empty keeps all.
func NewClient(apiURL, apiKey, typeFilter string, timeout time.Duration) *Client {
	return &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		typeFilter: typeFilter,
		http:       &http.Client{Timeout: timeout},
	}
}

// HTTPClient returns the underlying HTTP client, shared with the Downloader.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Search returns the first result page for species at one quality grade.
func (c *Client) Search(ctx context.Context, species, quality string) ([]Recording, error) {
	q := url.Values{}
	q.Set("query", species+" q:"+quality)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("xenocanto: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xenocanto: search %q: %w", species, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("xenocanto: search %q: HTTP %d: %s", species, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("xenocanto: decode response: %w", err)
	}
	return result.Recordings, nil
}

// Recordings queries each quality grade in order, concatenates the results,
// keeps those matching the type filter and truncates to max.
func (c *Client) Recordings(ctx context.Context, species string, qualities []string, max int) ([]Recording, error) {
	var all []Recording
	for _, quality := range qualities {
		slog.Info("fetching recordings metadata", "species", species, "quality", quality)
		recs, err := c.Search(ctx, species, quality)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}

	out := all[:0]
	for _, r := range all {
		if c.typeFilter == "" || strings.Contains(r.Type, c.typeFilter) {
			out = append(out, r)
		}
	}
	if max >= 0 && len(out) > max {
		out = out[:max]
	}
	slog.Debug("recordings selected", "species", species, "candidates", len(all), "selected", len(out))
	return out, nil
}
