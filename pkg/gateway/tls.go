package gateway

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
)

// clientTLSConfig builds the TLS client configuration for one stream.
// Certificates are verified against the system's trust anchors, unless the
// client explicitly opted out, in which case any certificate chain and
// signature are accepted but the server name is still sent for SNI.
func clientTLSConfig(serverName string, insecure bool) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecure, //gosec:disable G402 // Explicit per-stream opt-in by the client.
		MinVersion:         tls.VersionTLS12,
	}
}

// checkServerName reports whether the given name is usable as a TLS server
// name: an IP address literal, or a DNS hostname (RFC 952 as modified by
// RFC 1123 section 2.1).
func checkServerName(name string) error {
	if name == "" {
		return errors.New("empty server name")
	}
	if net.ParseIP(name) != nil {
		return nil
	}
	if len(name) > 253 {
		return fmt.Errorf("hostname too long: %d characters", len(name))
	}

	for _, label := range strings.Split(name, ".") {
		if err := checkHostnameLabel(label); err != nil {
			return err
		}
	}
	return nil
}

func checkHostnameLabel(label string) error {
	if len(label) == 0 || len(label) > 63 {
		return fmt.Errorf("invalid hostname label %q", label)
	}

	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' && i > 0 && i < len(label)-1:
		default:
			return fmt.Errorf("invalid hostname label %q", label)
		}
	}
	return nil
}
