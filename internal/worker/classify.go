package worker

import (
	"net/url"
	"strings"
)

// Class selects the fetch strategy for a request.
type Class int

const (
	ClassOther Class = iota
	ClassSameOrigin
	ClassFontProvider
)

func (c Class) String() string {
	switch c {
	case ClassSameOrigin:
		return "same-origin"
	case ClassFontProvider:
		return "font-provider"
	default:
		return "other"
	}
}

// DefaultFontHostMarkers match fonts.googleapis.com and fonts.gstatic.com.
var DefaultFontHostMarkers = []string{"fonts.g", "fonts.gstatic"}

// Classifier maps a request URL to a Class using its hostname only.
//
// Font hosts are recognised by substring, so any hostname containing a marker
// (including e.g. evilfonts.gstatic.attacker.com) is treated as a font host.
type Classifier struct {
	originHost  string
	fontMarkers []string
}

func NewClassifier(origin *url.URL, fontMarkers []string) Classifier {
	markers := make([]string, 0, len(fontMarkers))
	for _, m := range fontMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	host := ""
	if origin != nil {
		host = strings.ToLower(origin.Hostname())
	}
	return Classifier{originHost: host, fontMarkers: markers}
}

// Classify checks font markers first, then same-origin equality.
func (c Classifier) Classify(u *url.URL) Class {
	if u == nil {
		return ClassOther
	}
	host := strings.ToLower(u.Hostname())
	for _, marker := range c.fontMarkers {
		if strings.Contains(host, marker) {
			return ClassFontProvider
		}
	}
	if host != "" && host == c.originHost {
		return ClassSameOrigin
	}
	return ClassOther
}
