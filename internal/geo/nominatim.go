package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ReverseGeocoder turns coordinates into a human-readable address.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, p Point) (string, error)
}

// NominatimClient calls the OpenStreetMap Nominatim reverse endpoint.
type NominatimClient struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// NewNominatimClient creates a client. Nominatim's usage policy requires a user agent.
func NewNominatimClient(baseURL, userAgent string) *NominatimClient {
	return &NominatimClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Reverse returns the display name for p.
func (c *NominatimClient) Reverse(ctx context.Context, p Point) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(p.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(p.Longitude, 'f', 6, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("reverse geocode failed (%d): %s", resp.StatusCode, string(body))
	}

	var out struct {
		DisplayName string `json:"display_name"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("reverse geocode: decode response failed: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("reverse geocode: %s", out.Error)
	}
	return out.DisplayName, nil
}
