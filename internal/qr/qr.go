// Package qr renders the scannable check-in code of a session.
package qr

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 256

// CheckInURL is the link a scanner opens for a session token.
func CheckInURL(baseURL, token string) (string, error) {
	if token == "" {
		return "", errors.New("token required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/checkin")
	if err != nil {
		return "", fmt.Errorf("parse public base url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// PNG encodes the check-in URL for token.
func PNG(baseURL, token string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	target, err := CheckInURL(baseURL, token)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(target, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
