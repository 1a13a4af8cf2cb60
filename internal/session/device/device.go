// Package device describes the client behind a session for the audit trail.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// ParseUserAgent renders a display name such as "Chrome on Intel Mac OS X 10_15_7".
func ParseUserAgent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

// Fingerprint hashes the stable parts of a user agent: browser family and
// major version, OS and platform. Patch releases keep the same fingerprint.
func Fingerprint(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	sum := sha256.Sum256([]byte(strings.Join([]string{
		browser, major, ua.OS(), ua.Platform(), boolString(ua.Mobile()),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func boolString(b bool) string {
	if b {
		return "mobile"
	}
	return "desktop"
}
