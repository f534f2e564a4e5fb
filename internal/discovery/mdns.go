// Package discovery advertises the API on the campus LAN over mDNS so
// classroom devices can find it without configuration.
package discovery

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_rollcall._tcp"
	Domain      = "local."
)

// Advertiser owns a running mDNS registration.
type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Advertise registers the HTTP API on port. txt carries extra key=value hints.
func Advertise(port int, txt []string, logger *slog.Logger) (*Advertiser, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	if logger == nil {
		logger = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "rollcall"
	}
	instance := InstanceName(fmt.Sprintf("Rollcall API (%s)", hostname))
	records := append([]string{fmt.Sprintf("http_port=%d", port), "proto=v1"}, txt...)

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, records, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns: %w", err)
	}
	logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("mDNS advertisement stopped")
}

// InstanceName makes name safe as a DNS-SD instance label.
func InstanceName(name string) string {
	cleaned := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(strings.TrimSpace(name))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		cleaned = "Rollcall API"
	}
	if runes := []rune(cleaned); len(runes) > 63 {
		cleaned = string(runes[:63])
	}
	return cleaned
}
