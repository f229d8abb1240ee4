// Package remote resolves artwork URLs from web services and downloads them.
package remote

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eleven/artcache/internal/buffer"
	"github.com/eleven/artcache/internal/circuit"
	"github.com/eleven/artcache/internal/render"
	"github.com/eleven/artcache/pkg/errors"
	"github.com/eleven/artcache/pkg/retry"
	"github.com/eleven/artcache/pkg/types"
)

// DefaultMaxImageSize caps a single artwork download
const DefaultMaxImageSize = 5 << 20

// DefaultProviders is the lookup order used when none is configured
var DefaultProviders = []string{"deezer", "itunes", "musicbrainz", "lastfm"}

// Observer receives the outcome of each provider lookup
type Observer interface {
	ObserveLookup(provider, result string, duration time.Duration)
}

// Lookup results reported to an Observer
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Config configures a Resolver
type Config struct {
	Providers    []string
	Timeout      time.Duration
	UserAgent    string
	MaxImageSize int64

	// BaseURLs overrides a provider's endpoint by provider name
	BaseURLs map[string]string

	Gate     *circuit.Gate
	S3       *S3Source
	Pool     *buffer.Pool
	Observer Observer
	Logger   *slog.Logger

	// Retry repeats downloads that failed at the connection level. Nil tries once.
	Retry *retry.Retryer
}

// Resolver queries providers for artwork URLs and downloads the images
type Resolver struct {
	providers []Provider
	http      *httpClient
	s3        *S3Source
	gate      *circuit.Gate
	maxBytes  int64
	observer  Observer
	retry     *retry.Retryer
	logger    *slog.Logger
}

var _ types.RemoteArtResolver = (*Resolver)(nil)

// NewResolver creates a resolver over the configured providers
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = DefaultMaxImageSize
	}
	names := cfg.Providers
	if len(names) == 0 {
		names = DefaultProviders
	}

	client := newHTTPClient(cfg.Timeout, cfg.UserAgent, cfg.Pool)
	r := &Resolver{
		http:     client,
		s3:       cfg.S3,
		gate:     cfg.Gate,
		maxBytes: cfg.MaxImageSize,
		observer: cfg.Observer,
		retry:    cfg.Retry,
		logger:   cfg.Logger.With("component", "remote"),
	}

	for _, name := range names {
		p, err := newProvider(strings.ToLower(name), cfg.BaseURLs, client)
		if err != nil {
			return nil, err
		}
		r.providers = append(r.providers, p)
	}
	return r, nil
}

func newProvider(name string, overrides map[string]string, client *httpClient) (Provider, error) {
	base := func(def string) string {
		if u, ok := overrides[name]; ok && u != "" {
			return strings.TrimRight(u, "/")
		}
		return def
	}

	switch name {
	case "deezer":
		return &Deezer{BaseURL: base(DeezerBaseURL), http: client}, nil
	case "itunes":
		return &ITunes{BaseURL: base(ITunesBaseURL), http: client}, nil
	case "musicbrainz":
		coverArt := CoverArtBaseURL
		if u, ok := overrides["coverartarchive"]; ok && u != "" {
			coverArt = strings.TrimRight(u, "/")
		}
		return &MusicBrainz{BaseURL: base(MusicBrainzBaseURL), CoverArtBaseURL: coverArt, http: client}, nil
	case "lastfm":
		return &LastFM{BaseURL: base(LastFMBaseURL), http: client}, nil
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "unknown artwork provider").
			WithComponent("remote").
			WithContext("provider", name)
	}
}

// Providers returns the provider names in lookup order
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

type lookupResult struct {
	url string
	err error
}

// ResolveImageURL asks every provider that handles imageType at once and returns
// the first non-empty URL in provider order. It returns "" with a nil error when
// at least one provider answered without finding artwork, and an error when all
// of them failed.
func (r *Resolver) ResolveImageURL(ctx context.Context, artist, album string, imageType types.ImageType) (string, error) {
	var candidates []Provider
	for _, p := range r.providers {
		if p.Supports(imageType) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	results := make([]lookupResult, len(candidates))
	var wg sync.WaitGroup
	for i, p := range candidates {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			start := time.Now()
			var found string
			err := r.execute(ctx, p.Name(), func(ctx context.Context) error {
				var err error
				found, err = p.Lookup(ctx, artist, album, imageType)
				return err
			})
			results[i] = lookupResult{url: found, err: err}
			r.observe(p.Name(), found, err, time.Since(start))
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeOperationCanceled, "lookup cancelled")
	}

	var firstErr error
	answered := false
	for i, res := range results {
		if res.url != "" {
			r.logger.Debug("Resolved artwork", "provider", candidates[i].Name(), "artist", artist, "album", album)
			return res.url, nil
		}
		switch {
		case res.err == nil, errors.IsCode(res.err, errors.ErrCodeArtUnavailable):
			answered = true
		case firstErr == nil:
			firstErr = res.err
		}
	}
	if answered || firstErr == nil {
		return "", nil
	}
	r.logger.Debug("All artwork providers failed", "artist", artist, "album", album, "error", firstErr)
	return "", firstErr
}

// Download fetches the image behind url, which may be http(s) or s3://bucket/key
func (r *Resolver) Download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	var err error

	switch {
	case strings.HasPrefix(url, "s3://"):
		if r.s3 == nil {
			return nil, errors.NewError(errors.ErrCodeProviderFailure, "s3 downloads are disabled").
				WithComponent("remote").
				WithContext("url", url)
		}
		err = r.retry.Do(ctx, func(ctx context.Context) error {
			return r.execute(ctx, "s3", func(ctx context.Context) error {
				var fetchErr error
				data, fetchErr = r.s3.Fetch(ctx, url, r.maxBytes)
				return fetchErr
			})
		})
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		err = r.retry.Do(ctx, func(ctx context.Context) error {
			return r.execute(ctx, "download", func(ctx context.Context) error {
				var fetchErr error
				data, fetchErr = r.http.getBytes(ctx, url, r.maxBytes)
				return fetchErr
			})
		})
	default:
		return nil, errors.NewError(errors.ErrCodeProviderFailure, "unsupported artwork url").
			WithComponent("remote").
			WithContext("url", url)
	}
	if err != nil {
		return nil, err
	}

	if _, err := render.Sniff(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Resolver) execute(ctx context.Context, name string, fn func(context.Context) error) error {
	if r.gate == nil {
		return fn(ctx)
	}
	return r.gate.Execute(ctx, name, fn)
}

func (r *Resolver) observe(provider, found string, err error, d time.Duration) {
	if r.observer == nil {
		return
	}
	result := ResultMiss
	switch {
	case found != "":
		result = ResultHit
	case err != nil && !errors.IsCode(err, errors.ErrCodeArtUnavailable):
		result = ResultError
	}
	r.observer.ObserveLookup(provider, result, d)
}
