package linkpreview

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Observer receives resolution outcomes, typically to feed metrics.
type Observer interface {
	ObserveResolution(kind Kind)
	ObserveProbe(elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveResolution(Kind) {}
func (nopObserver) ObserveProbe(time.Duration) {}

// Config holds the probe settings of a Resolver.
type Config struct {
	ProbeTimeout      time.Duration
	SniffBytes        int
	UserAgent         string
	HTTPClient        *http.Client
	// AllowPrivateHosts lets probes reach loopback and private networks.
	AllowPrivateHosts bool
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithMatchers replaces the matcher cascade. Matchers run in the given order.
func WithMatchers(matchers ...Matcher) Option {
	return func(r *Resolver) {
		r.matchers = append([]Matcher(nil), matchers...)
	}
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithLogger sets the logger used for probe failures.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) {
		r.log = l.With().Str("component", "linkpreview").Logger()
	}
}

// Resolver runs the matcher cascade and falls back to a network probe.
// It is safe for concurrent use.
type Resolver struct {
	matchers []Matcher
	prober   *Prober
	observer Observer
	log      zerolog.Logger
}

// NewResolver creates a Resolver with the default matchers.
func NewResolver(cfg Config, opts ...Option) *Resolver {
	r := &Resolver{
		matchers: DefaultMatchers(),
		prober:   NewProber(cfg),
		observer: nopObserver{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify returns the preview for rawURL. The first matching pattern wins;
// unmatched URLs are probed. It never fails: any probe error degrades to
// KindUnknown with the original URL.
func (r *Resolver) Classify(ctx context.Context, rawURL string) Preview {
	for _, m := range r.matchers {
		if p, ok := m.Match(rawURL); ok {
			r.observer.ObserveResolution(p.Kind)
			return p
		}
	}

	p := r.probe(ctx, rawURL)
	r.observer.ObserveResolution(p.Kind)
	return p
}

func (r *Resolver) probe(ctx context.Context, rawURL string) (p Preview) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("url", rawURL).Err(fmt.Errorf("%v", rec)).Msg("Recovered from panic while probing link")
			p = unknown(rawURL)
		}
		r.observer.ObserveProbe(time.Since(start))
	}()

	p, err := r.prober.Probe(ctx, rawURL)
	if err != nil {
		r.log.Debug().Str("url", rawURL).Err(err).Msg("Link probe failed")
		return unknown(rawURL)
	}
	return p
}
