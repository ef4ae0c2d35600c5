package linkpreview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultProbeTimeout bounds a single fetch, body read included.
	DefaultProbeTimeout = 3 * time.Second
	// DefaultSniffBytes is how much of the body is read for sniffing.
	DefaultSniffBytes = 100
	// DefaultUserAgent is sent with every probe request.
	DefaultUserAgent = "media-chat-linkpreview/1.0"
)

// ErrEmptyBody is returned when a probed URL yields no bytes to sniff.
var ErrEmptyBody = errors.New("probe returned an empty body")

// Prober fetches the head of a remote resource and sniffs its media type.
type Prober struct {
	client       *http.Client
	timeout      time.Duration
	sniffBytes   int
	userAgent    string
	allowPrivate bool
}

// NewProber creates a Prober from cfg. A nil cfg.HTTPClient gets a dedicated
// client whose timeout matches the probe timeout and which refuses to dial
// internal addresses unless cfg.AllowPrivateHosts is set.
func NewProber(cfg Config) *Prober {
	p := &Prober{
		client:       cfg.HTTPClient,
		timeout:      cfg.ProbeTimeout,
		sniffBytes:   cfg.SniffBytes,
		userAgent:    cfg.UserAgent,
		allowPrivate: cfg.AllowPrivateHosts,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProbeTimeout
	}
	if p.sniffBytes <= 0 {
		p.sniffBytes = DefaultSniffBytes
	}
	if p.userAgent == "" {
		p.userAgent = DefaultUserAgent
	}
	if p.client == nil {
		if p.allowPrivate {
			p.client = &http.Client{Timeout: p.timeout}
		} else {
			p.client = newGuardedClient(p.timeout)
		}
	}
	return p
}

// Probe issues a GET for rawURL and classifies the response as an image or a
// generic link. Any failure is returned as an error; callers degrade it.
func (p *Prober) Probe(ctx context.Context, rawURL string) (Preview, error) {
	if !p.allowPrivate {
		u, err := url.Parse(rawURL)
		if err != nil {
			return Preview{}, fmt.Errorf("parse probe url: %w", err)
		}
		if blockedHostname(u.Hostname()) {
			return Preview{}, fmt.Errorf("%w: %s", ErrBlockedAddress, u.Hostname())
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return Preview{}, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return Preview{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	head, err := p.readHead(resp.Body)
	if err != nil {
		return Preview{}, err
	}

	mtype := mimetype.Detect(head).String()
	if strings.HasPrefix(mtype, "image/") {
		return Preview{OriginalURL: rawURL, EmbedURL: rawURL, Kind: KindImage}, nil
	}
	return Preview{OriginalURL: rawURL, EmbedURL: rawURL, Kind: KindGenericLink}, nil
}

// readHead reads up to sniffBytes from body. A short body is fine, an empty
// one is not.
func (p *Prober) readHead(body io.Reader) ([]byte, error) {
	buf := make([]byte, p.sniffBytes)
	n, err := io.ReadFull(body, buf)
	switch {
	case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
	case errors.Is(err, io.EOF):
		return nil, ErrEmptyBody
	default:
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf[:n], nil
}
