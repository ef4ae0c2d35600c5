package linkpreview

import (
	"regexp"
)

// Matcher recognizes one family of URLs without touching the network.
type Matcher interface {
	Name() string
	Match(rawURL string) (Preview, bool)
}

// PatternMatcher is a Matcher driven by a regular expression and a transform
// that builds the embed URL from the submatches.
type PatternMatcher struct {
	name  string
	re    *regexp.Regexp
	kind  Kind
	embed func(rawURL string, groups []string) string
}

// NewPatternMatcher builds a PatternMatcher. The expression is matched
// against the start of the URL only.
func NewPatternMatcher(name, expr string, kind Kind, embed func(rawURL string, groups []string) string) *PatternMatcher {
	return &PatternMatcher{
		name:  name,
		re:    regexp.MustCompile(`^(?:` + expr + `)`),
		kind:  kind,
		embed: embed,
	}
}

// Name returns the matcher name used in logs.
func (m *PatternMatcher) Name() string {
	return m.name
}

// Match reports whether rawURL belongs to this matcher's family.
func (m *PatternMatcher) Match(rawURL string) (Preview, bool) {
	groups := m.re.FindStringSubmatch(rawURL)
	if groups == nil {
		return Preview{}, false
	}
	return Preview{
		OriginalURL: rawURL,
		EmbedURL:    m.embed(rawURL, groups),
		Kind:        m.kind,
	}, true
}

// Group layouts below are relied on by the embed transforms.
const (
	videoExpr     = `(https?://)?(www\.)?(youtube|youtu|youtube-nocookie)\.(com|be)/(watch\?v=|embed/|v/|.+\?v=)?([^&=%\?]{11})(.*)`
	shortClipExpr = `(https?://)?(www\.)?(coub\.com/view)/(.*)`
	imageHostExpr = `(https?://)?(www\.)?instagram\.com/p/([^&=%\?/]+)`
	socialExpr    = `(https?://)?(www\.)?(facebook\.com)/(.+)`
)

// DefaultMatchers returns the built-in cascade in priority order: video
// platform, short clips, image host posts, social posts.
func DefaultMatchers() []Matcher {
	return []Matcher{
		NewPatternMatcher("youtube", videoExpr, KindVideo, func(_ string, g []string) string {
			return "//www.youtube.com/embed/" + g[6] + g[7]
		}),
		NewPatternMatcher("coub", shortClipExpr, KindShortClip, func(_ string, g []string) string {
			return "//coub.com/embed/" + g[4]
		}),
		NewPatternMatcher("instagram", imageHostExpr, KindImage, func(_ string, g []string) string {
			return "http://instagram.com/p/" + g[3] + "/media/?size=l"
		}),
		NewPatternMatcher("facebook", socialExpr, KindSocial, func(rawURL string, _ []string) string {
			return rawURL
		}),
	}
}
