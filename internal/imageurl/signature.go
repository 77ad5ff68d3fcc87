package imageurl

import "strings"

// signatureParams are query keys that mark a URL as signed by an object
// store or CDN. Compared case-insensitively.
var signatureParams = []string{
	"x-amz-signature",
	"x-goog-signature",
	"signature",
	"sig",
}

// ReencodeQuery restores "+" as %2B and "/" as %2F in every query value.
// Keys are not touched. Signed storage URLs are verified against the
// encoded byte sequence, so a decoded "+" would be read back as a space
// and invalidate the signature.
func ReencodeQuery(rawQuery string) string {
	if rawQuery == "" {
		return rawQuery
	}
	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		value = strings.ReplaceAll(value, "+", "%2B")
		value = strings.ReplaceAll(value, "/", "%2F")
		pairs[i] = key + "=" + value
	}
	return strings.Join(pairs, "&")
}

// HasSignature reports whether rawQuery carries a known signature parameter.
func HasSignature(rawQuery string) bool {
	for _, pair := range strings.Split(rawQuery, "&") {
		key, _, _ := strings.Cut(pair, "=")
		for _, p := range signatureParams {
			if strings.EqualFold(key, p) {
				return true
			}
		}
	}
	return false
}
