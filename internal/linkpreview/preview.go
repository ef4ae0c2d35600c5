// Package linkpreview classifies URLs found in chat messages into renderable
// previews. Well-known hosts are recognized by an ordered cascade of pattern
// matchers; anything else is probed over the network and its content type is
// sniffed from the first bytes of the response body.
package linkpreview

// Kind is the media category a URL is classified into.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindShortClip
	KindImage
	KindSocial
	KindGenericLink
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{KindUnknown, KindVideo, KindShortClip, KindImage, KindSocial, KindGenericLink}

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindShortClip:
		return "short_clip"
	case KindImage:
		return "image"
	case KindSocial:
		return "social"
	case KindGenericLink:
		return "generic_link"
	default:
		return "unknown"
	}
}

// Preview is the classified form of a single URL. It is derived on every
// render and never cached.
type Preview struct {
	OriginalURL string
	EmbedURL    string
	Kind        Kind
}

// unknown returns the degraded preview used whenever resolution fails.
func unknown(rawURL string) Preview {
	return Preview{OriginalURL: rawURL, EmbedURL: rawURL, Kind: KindUnknown}
}
