package imageurl

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// DeliveryMethod is how a client should request a proxied image.
type DeliveryMethod string

const (
	DeliveryGET  DeliveryMethod = "GET"
	DeliveryPOST DeliveryMethod = "POST"
)

const proxyPrefix = ProxyPath + "?"

// Wrap points an absolute http(s) URL at the proxy endpoint. Empty,
// relative and already proxied sources come back unchanged.
func Wrap(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, proxyPrefix) {
		return raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return proxyPrefix + "url=" + url.QueryEscape(raw)
	}
	return raw
}

// Unwrap recognises a src produced by Wrap and returns the original URL
// after one decode pass. For any other src it returns src and false.
func Unwrap(src string) (string, bool) {
	if !strings.HasPrefix(src, proxyPrefix) {
		return src, false
	}
	original, _ := QueryValue(strings.TrimPrefix(src, proxyPrefix), "url")
	if original == "" {
		return src, false
	}
	return original, true
}

// IsLong reports whether original has reached LongURLThreshold. Measure
// the unwrapped URL; the proxy prefix must not count.
func IsLong(original string) bool {
	return utf8.RuneCountInString(original) >= LongURLThreshold
}

// Delivery picks the request method for an unwrapped URL.
func Delivery(original string) DeliveryMethod {
	if IsLong(original) {
		return DeliveryPOST
	}
	return DeliveryGET
}
