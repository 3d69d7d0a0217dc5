// Package urlutil reduces user supplied URLs to the bare host[:port] form
// that sites are stored and deduplicated under.
package urlutil

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidHost is returned when the input does not name a usable host.
var ErrInvalidHost = errors.New("invalid host")

// Normalize extracts the host and any non-default port from input.
//
// Input may carry an http:// or https:// scheme, a path, a query or a
// fragment; all of them are discarded. Input without a scheme is parsed as
// http. The host must contain a dot and only hostname characters. The
// result is lowercased.
func Normalize(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" || !strings.Contains(s, ".") {
		return "", ErrInvalidHost
	}

	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil || u.User != nil || u.Opaque != "" {
		return "", ErrInvalidHost
	}
	scheme := strings.ToLower(u.Scheme)

	host := strings.ToLower(u.Hostname())
	if !validHostname(host) {
		return "", ErrInvalidHost
	}

	port := u.Port()
	if port == "" {
		// url.Parse accepts "host:" and leaves an empty port behind.
		if strings.HasSuffix(u.Host, ":") {
			return "", ErrInvalidHost
		}
		return host, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", ErrInvalidHost
	}
	if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
		return host, nil
	}
	return host + ":" + strconv.Itoa(n), nil
}

// ReadURL normalizes input and returns its http and https variants.
func ReadURL(input string) (httpURL, httpsURL string, ok bool) {
	host, err := Normalize(input)
	if err != nil {
		return "", "", false
	}
	return "http://" + host, "https://" + host, true
}

// Host returns the host[:port] part of a stored site URL, or the input
// unchanged if it carries no scheme.
func Host(siteURL string) string {
	if i := strings.Index(siteURL, "://"); i >= 0 {
		return siteURL[i+3:]
	}
	return siteURL
}

func validHostname(host string) bool {
	if host == "" || len(host) > 253 || !strings.Contains(host, ".") {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
				return false
			}
		}
	}
	return true
}
