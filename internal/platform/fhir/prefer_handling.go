package fhir

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// HandlingPreference represents the FHIR Prefer handling directive value.
// When handling=strict, the server must reject a search with any parameter it
// cannot honour. When handling=lenient, such parameters are dropped and
// reported back as warnings.
type HandlingPreference string

const (
	HandlingStrict  HandlingPreference = "strict"
	HandlingLenient HandlingPreference = "lenient"
)

// contextKeyHandling is the echo.Context key for storing the handling preference.
const contextKeyHandling = "fhir.handling"

// ParsePreferHandling extracts the handling preference from a Prefer header value.
// It supports directives separated by semicolons or commas.
// Returns def if no valid handling directive is found.
func ParsePreferHandling(prefer string, def HandlingPreference) HandlingPreference {
	fields := strings.FieldsFunc(prefer, func(r rune) bool { return r == ',' || r == ';' })
	for _, part := range fields {
		name, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(name) != "handling" {
			continue
		}
		switch h := HandlingPreference(strings.Trim(strings.TrimSpace(val), `"`)); h {
		case HandlingStrict, HandlingLenient:
			return h
		}
	}
	return def
}

// DefaultHandling maps a lenient-by-default setting onto a preference.
func DefaultHandling(lenient bool) HandlingPreference {
	if lenient {
		return HandlingLenient
	}
	return HandlingStrict
}

// PreferHandlingMiddleware returns Echo middleware that parses the Prefer handling directive
// and stores it in the echo.Context. The applied preference is echoed back in
// the Preference-Applied header.
func PreferHandlingMiddleware(def HandlingPreference) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			handling := ParsePreferHandling(c.Request().Header.Get("Prefer"), def)
			c.Set(contextKeyHandling, handling)
			c.Response().Header().Set("Preference-Applied", "handling="+string(handling))
			return next(c)
		}
	}
}

// GetHandlingPreference retrieves the handling preference from the echo.Context.
// Returns def if no preference has been set.
func GetHandlingPreference(c echo.Context, def HandlingPreference) HandlingPreference {
	if h, ok := c.Get(contextKeyHandling).(HandlingPreference); ok {
		return h
	}
	return def
}
