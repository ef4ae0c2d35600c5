// Package render turns raw chat text into display-ready markup: plain text is
// HTML-escaped with newlines converted to line breaks, and every URL is
// replaced by preview markup chosen from its link classification.
//
// Escaping follows html.EscapeString: & < > " ' become &amp; &lt; &gt; &#34;
// &#39;. The same rule is applied to URLs placed inside markup.
package render

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fabregas/media-chat/internal/linkpreview"
)

const (
	// DefaultMaxConcurrentProbes bounds parallel link resolutions per message.
	DefaultMaxConcurrentProbes = 4
	// DefaultMessageTimeout bounds the total resolution time of one message.
	DefaultMessageTimeout = 10 * time.Second
)

var urlPattern = regexp.MustCompile(`https?://(?:[a-zA-Z]|[0-9]|[~$-_@.&+]|[!*\(\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

var newlines = strings.NewReplacer("\r\n", "<br/>", "\n", "<br/>")

// Classifier is the link resolution capability the renderer depends on.
type Classifier interface {
	Classify(ctx context.Context, rawURL string) linkpreview.Preview
}

// Renderer renders raw messages. It is safe for concurrent use.
type Renderer struct {
	classifier     Classifier
	maxConcurrent  int
	messageTimeout time.Duration
	log            zerolog.Logger
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithMessageTimeout bounds how long one message may spend resolving links.
// Links still unresolved at the deadline render as plain links.
func WithMessageTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.messageTimeout = d
		}
	}
}

// New creates a Renderer. maxConcurrent <= 0 uses DefaultMaxConcurrentProbes.
func New(classifier Classifier, maxConcurrent int, log zerolog.Logger, opts ...Option) *Renderer {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentProbes
	}
	r := &Renderer{
		classifier:     classifier,
		maxConcurrent:  maxConcurrent,
		messageTimeout: DefaultMessageTimeout,
		log:            log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns the markup for raw. A panic while classifying degrades every
// URL in the message to a plain link.
func (r *Renderer) Render(ctx context.Context, raw string) (out string) {
	spans := urlPattern.FindAllStringIndex(raw, -1)
	if len(spans) == 0 {
		return escapeText(raw)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Err(fmt.Errorf("%v", rec)).Msg("Recovered from panic while rendering message")
			out = assemble(raw, spans, nil)
		}
	}()

	previews := r.resolve(ctx, raw, spans)
	return assemble(raw, spans, previews)
}

// resolve classifies every distinct matched URL once. Results are indexed by
// match.
func (r *Renderer) resolve(ctx context.Context, raw string, spans [][]int) []linkpreview.Preview {
	ctx, cancel := context.WithTimeout(ctx, r.messageTimeout)
	defer cancel()

	slot := make([]int, len(spans))
	index := make(map[string]int, len(spans))
	var unique []string
	for i, span := range spans {
		u := raw[span[0]:span[1]]
		j, seen := index[u]
		if !seen {
			j = len(unique)
			index[u] = j
			unique = append(unique, u)
		}
		slot[i] = j
	}

	resolved := make([]linkpreview.Preview, len(unique))
	if len(unique) == 1 {
		resolved[0] = r.classifier.Classify(ctx, unique[0])
	} else {
		var g errgroup.Group
		g.SetLimit(r.maxConcurrent)
		panics := make(chan any, len(unique))
		for i, u := range unique {
			g.Go(func() error {
				defer func() {
					if rec := recover(); rec != nil {
						panics <- rec
					}
				}()
				if ctx.Err() != nil {
					resolved[i] = plainLink(u)
					return nil
				}
				resolved[i] = r.classifier.Classify(ctx, u)
				return nil
			})
		}
		_ = g.Wait()
		close(panics)
		if rec, ok := <-panics; ok {
			panic(rec)
		}
	}

	previews := make([]linkpreview.Preview, len(spans))
	for i, j := range slot {
		previews[i] = resolved[j]
	}
	return previews
}

func plainLink(u string) linkpreview.Preview {
	return linkpreview.Preview{OriginalURL: u, EmbedURL: u, Kind: linkpreview.KindUnknown}
}

// assemble interleaves escaped text with preview markup. A nil previews
// slice renders every URL as a plain link.
func assemble(raw string, spans [][]int, previews []linkpreview.Preview) string {
	var b strings.Builder
	b.Grow(len(raw) * 2)

	idx := 0
	for i, span := range spans {
		b.WriteString(escapeText(raw[idx:span[0]]))
		u := raw[span[0]:span[1]]
		p := plainLink(u)
		if previews != nil {
			p = previews[i]
		}
		writeMarkup(&b, p)
		idx = span[1]
	}
	b.WriteString(escapeText(raw[idx:]))
	return b.String()
}

func escapeText(s string) string {
	return newlines.Replace(html.EscapeString(s))
}

func writeMarkup(b *strings.Builder, p linkpreview.Preview) {
	orig := html.EscapeString(p.OriginalURL)
	embed := html.EscapeString(p.EmbedURL)

	switch p.Kind {
	case linkpreview.KindImage:
		fmt.Fprintf(b, `<div class="small_image"><img src="%s" class="img-rounded" height="200" onclick="show_image('%s', '%s')"/></div>`, embed, orig, embed)
	case linkpreview.KindVideo, linkpreview.KindShortClip:
		fmt.Fprintf(b, `<div class="youtube_video"><div class="embed-responsive embed-responsive-16by9">`+
			`<iframe class="embed-responsive-item" src="%s" allowfullscreen></iframe></div></div>`, embed)
	case linkpreview.KindSocial:
		fmt.Fprintf(b, `<div class="fb-post" data-href="%s" data-width="500"></div>`, embed)
	default:
		fmt.Fprintf(b, `<a href="%s" target="_blank">%s</a>`, orig, orig)
	}
}
