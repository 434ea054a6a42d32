package main

import (
	"net"
	"strings"
)

// dialTarget turns a listen address into one a local client can dial.
// Wildcard and empty hosts become localhost.
func dialTarget(address string) string {
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
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// opsURL is the base URL operators use for the health and metrics endpoints.
func opsURL(address string) string {
	return "http://" + dialTarget(address)
}
