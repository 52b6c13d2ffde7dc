package worker

import (
	"net/url"
	"testing"
)

func TestClassify(t *testing.T) {
	origin, _ := url.Parse("https://spendoodle.example")
	c := NewClassifier(origin, DefaultFontHostMarkers)

	testCases := []struct {
		url  string
		want Class
	}{
		{"https://fonts.googleapis.com/css2?family=Inter", ClassFontProvider},
		{"https://fonts.gstatic.com/s/inter/v1.woff2", ClassFontProvider},
		{"https://FONTS.GSTATIC.COM/s/inter/v1.woff2", ClassFontProvider},
		{"https://evilfonts.gstatic.attacker.com/x", ClassFontProvider},
		{"https://spendoodle.example/index.html", ClassSameOrigin},
		{"http://spendoodle.example:8080/api", ClassSameOrigin},
		{"https://cdn.example.com/app.js", ClassOther},
		{"https://api.spendoodle.example/v1", ClassOther},
	}

	for _, tc := range testCases {
		u, err := url.Parse(tc.url)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.url, err)
		}
		if got := c.Classify(u); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.url, tc.want, got)
		}
	}
}

func TestClassifyFontMarkersWinOverSameOrigin(t *testing.T) {
	origin, _ := url.Parse("https://fonts.gstatic.com")
	c := NewClassifier(origin, DefaultFontHostMarkers)
	u, _ := url.Parse("https://fonts.gstatic.com/s/a.woff2")
	if got := c.Classify(u); got != ClassFontProvider {
		t.Fatalf("font markers are checked first, got %s", got)
	}
}

func TestClassifyWithoutMarkers(t *testing.T) {
	origin, _ := url.Parse("https://spendoodle.example")
	c := NewClassifier(origin, []string{" ", ""})
	u, _ := url.Parse("https://fonts.gstatic.com/s/a.woff2")
	if got := c.Classify(u); got != ClassOther {
		t.Fatalf("blank markers must be ignored, got %s", got)
	}
}
