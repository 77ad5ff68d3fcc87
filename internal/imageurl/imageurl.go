// Package imageurl holds the URL handling shared by the image proxy endpoint
// and the proxied image client adapter: fixed-point decoding, validation,
// signature-preserving query re-encoding, host matching and proxy wrapping.
package imageurl

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// MaxDecodeIterations bounds the fixed-point decode loop in Normalize.
	MaxDecodeIterations = 10

	// LongURLThreshold is the length, in characters, at which the client
	// adapter switches from a GET query string to a POST body.
	LongURLThreshold = 1500

	// ProxyPath is where the image proxy endpoint is mounted.
	ProxyPath = "/api/image"
)

// ErrInvalidURL is returned when a value is not an absolute http(s) URL
// after normalization.
var ErrInvalidURL = errors.New("invalid url")

// Normalize percent-decodes raw until the value stops changing or
// MaxDecodeIterations passes have run. A pass that fails on a malformed
// escape, or one that decodes to invalid UTF-8, ends the loop and the last
// good value is returned. "+" is left alone, matching component decoding
// rather than form decoding.
func Normalize(raw string) string {
	current := raw
	for i := 0; i < MaxDecodeIterations; i++ {
		decoded, err := url.PathUnescape(current)
		if err != nil || decoded == current || !utf8.ValidString(decoded) {
			break
		}
		current = decoded
	}
	return current
}

// Parse normalizes raw and parses it as an absolute http or https URL.
// The query is re-serialized so that characters exposed by decoding are
// safe to put on the wire.
func Parse(raw string) (*url.URL, error) {
	normalized := escapeStrayPercent(Normalize(strings.TrimSpace(raw)))

	u, err := url.Parse(normalized)
	if err != nil {
		return nil, ErrInvalidURL
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrInvalidURL
	}
	u.RawQuery = escapeQuery(u.RawQuery)
	return u, nil
}

// escapeStrayPercent rewrites a "%" that does not start a valid escape as
// "%25". Normalize stops on such input, and url.Parse would reject it.
func escapeStrayPercent(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && (i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2])) {
			b.WriteString("%25")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// escapeQuery applies the URL standard's query percent-encode set for
// special schemes: controls, space, quotes, angle brackets and non-ASCII.
func escapeQuery(q string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); i++ {
		c := q[i]
		if c <= 0x20 || c >= 0x7F || c == '"' || c == '\'' || c == '<' || c == '>' {
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0F])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isHex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}
