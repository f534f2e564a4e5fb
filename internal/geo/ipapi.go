package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// IPAccuracyMeters is the accuracy assigned to every IP-derived reading.
const IPAccuracyMeters = 5000.0

const ipWarning = "approximate location from IP address; low confidence"

// IPLookup resolves a client IP to an approximate location.
type IPLookup interface {
	LocateIP(ctx context.Context, ip string) (Reading, error)
}

// IPAPIClient calls an ipapi.co compatible geolocation service.
type IPAPIClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewIPAPIClient creates a client with a short timeout.
func NewIPAPIClient(baseURL string) *IPAPIClient {
	return &IPAPIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

type ipapiResponse struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
}

// LocateIP looks up ip and returns a low-confidence reading.
func (c *IPAPIClient) LocateIP(ctx context.Context, ip string) (Reading, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Reading{}, fmt.Errorf("invalid ip %q", ip)
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return Reading{}, fmt.Errorf("ip %s is not publicly routable", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", c.BaseURL, ip), nil)
	if err != nil {
		return Reading{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("ip geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return Reading{}, fmt.Errorf("ip geolocation failed (%d): %s", resp.StatusCode, string(body))
	}

	var out ipapiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Reading{}, fmt.Errorf("ip geolocation: decode response failed: %w", err)
	}
	if out.Error {
		return Reading{}, fmt.Errorf("ip geolocation: %s", out.Reason)
	}

	return Reading{
		Latitude:   out.Latitude,
		Longitude:  out.Longitude,
		Accuracy:   IPAccuracyMeters,
		Source:     SourceIP,
		Address:    joinNonEmpty(", ", out.City, out.Region, out.CountryName),
		Warning:    ipWarning,
		CapturedAt: time.Now().UTC(),
	}, nil
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
