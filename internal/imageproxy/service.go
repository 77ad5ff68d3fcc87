// Package imageproxy serves external images through the site's own origin.
// Incoming URLs are decoded to a fixed point, signed storage URLs get their
// signature-bearing query values re-encoded, hosts outside the allow-list
// are redirected to, and everything else is fetched and re-served with
// long-lived cache headers.
package imageproxy

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/samhwalin/service/internal/imagecache"
	"github.com/samhwalin/service/internal/imageurl"
)

// Action is what the endpoint does with a resolved URL.
type Action int

const (
	ActionFetch Action = iota
	ActionRedirect
)

func (a Action) String() string {
	if a == ActionRedirect {
		return "redirect"
	}
	return "fetch"
}

// Decision is the outcome of Resolve.
type Decision struct {
	Action Action
	URL    *url.URL
}

// Rules is the host allow-list. Signed hosts are proxied too and also get
// their query values re-encoded.
type Rules struct {
	Proxy  []imageurl.HostMatcher
	Signed []imageurl.HostMatcher
}

// DefaultRules covers the CMS, its S3 file storage and the stock photo CDN.
func DefaultRules() Rules {
	return Rules{
		Proxy: []imageurl.HostMatcher{
			imageurl.HostSuffix("notion.so"),
			imageurl.HostSuffix("notion-static.com"),
			imageurl.HostSuffix("images.unsplash.com"),
		},
		Signed: []imageurl.HostMatcher{
			imageurl.HostContains("s3.us-west-2.amazonaws.com"),
			imageurl.HostContains("prod-files-secure"),
		},
	}
}

// IsSigned reports whether host is a signed storage origin.
func (r Rules) IsSigned(host string) bool {
	return imageurl.MatchAny(host, r.Signed)
}

// Allowed reports whether host may be proxied.
func (r Rules) Allowed(host string) bool {
	return imageurl.MatchAny(host, r.Proxy) || r.IsSigned(host)
}

// Service resolves and fetches proxied images.
type Service struct {
	rules    Rules
	fetcher  Fetcher
	cache    imagecache.Cache
	cacheTTL time.Duration
	group    singleflight.Group
}

// NewService wires a Service. A nil cache disables caching.
func NewService(rules Rules, fetcher Fetcher, cache imagecache.Cache, cacheTTL time.Duration) *Service {
	if cache == nil {
		cache = imagecache.Nop{}
	}
	return &Service{rules: rules, fetcher: fetcher, cache: cache, cacheTTL: cacheTTL}
}

// Resolve normalizes raw and decides whether to fetch or redirect. It
// returns imageurl.ErrInvalidURL when raw is not an absolute URL.
func (s *Service) Resolve(raw string) (Decision, error) {
	u, err := imageurl.Parse(raw)
	if err != nil {
		return Decision{}, err
	}

	host := u.Hostname()
	if s.rules.IsSigned(host) {
		u.RawQuery = imageurl.ReencodeQuery(u.RawQuery)
		return Decision{Action: ActionFetch, URL: u}, nil
	}
	if !s.rules.Allowed(host) {
		// Decoding may have exposed "+" or "/" in a signature we are about
		// to hand back to the browser.
		if imageurl.HasSignature(u.RawQuery) {
			u.RawQuery = imageurl.ReencodeQuery(u.RawQuery)
		}
		return Decision{Action: ActionRedirect, URL: u}, nil
	}
	return Decision{Action: ActionFetch, URL: u}, nil
}

// Fetch returns the image at u, from cache when possible. Concurrent calls
// for the same URL share one origin request.
func (s *Service) Fetch(ctx context.Context, u *url.URL) (*Image, error) {
	key := u.String()
	logger := zerolog.Ctx(ctx)

	entry, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Str("host", u.Host).Msg("image cache read failed")
	}
	if ok {
		return &Image{ContentType: entry.ContentType, Data: entry.Data}, nil
	}

	// The shared fetch must not die with whichever caller started it.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		img, err := s.fetcher.Fetch(fetchCtx, u)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(fetchCtx, key, &imagecache.Entry{ContentType: img.ContentType, Data: img.Data}, s.cacheTTL); err != nil {
			logger.Warn().Err(err).Str("host", u.Host).Msg("image cache write failed")
		}
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Image), nil
}
