package main

import (
	"fmt"
	"net"
	"strings"

	"arenaclash/server/internal/config"
)

// listenerURL returns a reachable URL for a listener address under scheme.
func listenerURL(scheme, address, path string) string {
	return fmt.Sprintf("%s://%s%s", scheme, normaliseHostPort(address), path)
}

// advertisedEndpoints lists the URLs logged at startup so operators can copy them.
func advertisedEndpoints(cfg *config.Config) map[string]string {
	return map[string]string{
		"http":      listenerURL("http", cfg.Address, ""),
		"websocket": listenerURL("ws", cfg.Address, "/ws"),
		"grpc":      normaliseHostPort(cfg.GRPCAddress),
	}
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	host = strings.TrimSpace(host)
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
