package platform

import (
	"strings"

	"golang.org/x/text/language"
)

// Locales negotiates the Accept-Language value sent to the platform.
type Locales struct {
	tags    []language.Tag
	matcher language.Matcher
}

// NewLocales builds a negotiator; fallback is always supported and wins ties.
func NewLocales(supported []string, fallback string) *Locales {
	tags := []language.Tag{language.Make(fallback)}
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil || tag == tags[0] {
			continue
		}
		tags = append(tags, tag)
	}
	return &Locales{tags: tags, matcher: language.NewMatcher(tags)}
}

// Negotiate maps a cookie value or Accept-Language header onto a supported tag.
func (l *Locales) Negotiate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return l.tags[0].String()
	}
	wanted, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(wanted) == 0 {
		return l.tags[0].String()
	}
	_, idx, conf := l.matcher.Match(wanted...)
	if conf == language.No {
		return l.tags[0].String()
	}
	return l.tags[idx].String()
}

func (l *Locales) Default() string {
	return l.tags[0].String()
}
