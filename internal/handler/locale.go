package handler

import (
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/text/language"
)

// Localizer resolves the request locale and builds locale-prefixed paths.
// The first configured locale is the default and is never used as a prefix.
type Localizer struct {
	locales []string
	matcher language.Matcher
}

// NewLocalizer creates a Localizer. locales must not be empty.
func NewLocalizer(locales []string) *Localizer {
	tags := make([]language.Tag, 0, len(locales))
	for _, l := range locales {
		tags = append(tags, language.Make(l))
	}
	return &Localizer{locales: locales, matcher: language.NewMatcher(tags)}
}

// Default returns the default locale.
func (l *Localizer) Default() string {
	return l.locales[0]
}

func (l *Localizer) supported(locale string) bool {
	for _, s := range l.locales {
		if s == locale {
			return true
		}
	}
	return false
}

// FromPath returns the locale named by the first segment of path.
func (l *Localizer) FromPath(path string) (string, bool) {
	seg := strings.TrimPrefix(path, "/")
	seg, _, _ = strings.Cut(seg, "/")
	seg, _, _ = strings.Cut(seg, "?")
	seg = strings.ToLower(seg)
	if seg == "" || !l.supported(seg) {
		return "", false
	}
	return seg, true
}

// StripPrefix removes a leading locale segment from path.
func (l *Localizer) StripPrefix(path string) string {
	locale, ok := l.FromPath(path)
	if !ok {
		return path
	}
	rest := path[len(locale)+1:]
	if rest == "" || rest[0] == '?' {
		return "/" + rest
	}
	return rest
}

// Path prefixes path with locale unless it is the default.
func (l *Localizer) Path(locale, path string) string {
	if locale == "" || locale == l.Default() {
		return path
	}
	return "/" + locale + path
}

// Resolve picks the locale from the redirect intent, the locale cookie, then
// Accept-Language, falling back to the default. It never fails.
func (l *Localizer) Resolve(c echo.Context, intent string) string {
	if locale, ok := l.FromPath(intent); ok {
		return locale
	}

	if ck := strings.ToLower(read(c, cookieLocale)); ck != "" && l.supported(ck) {
		return ck
	}

	if header := c.Request().Header.Get("Accept-Language"); header != "" {
		prefs, _, err := language.ParseAcceptLanguage(header)
		if err == nil && len(prefs) > 0 {
			if _, idx, conf := l.matcher.Match(prefs...); conf != language.No {
				return l.locales[idx]
			}
		}
	}

	return l.Default()
}
