package pagination

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

var (
	ErrInvalidCount = errors.New("invalid _count")
	ErrInvalidPage  = errors.New("invalid _page")
)

// Defaults bounds the page size of a search.
type Defaults struct {
	DefaultSize int
	MaxSize     int
}

// StandardDefaults are used when no configuration is supplied.
var StandardDefaults = Defaults{DefaultSize: DefaultPageSize, MaxSize: MaxPageSize}

func (d Defaults) normalize() Defaults {
	if d.MaxSize <= 0 {
		d.MaxSize = MaxPageSize
	}
	if d.DefaultSize <= 0 {
		d.DefaultSize = DefaultPageSize
	}
	if d.DefaultSize > d.MaxSize {
		d.DefaultSize = d.MaxSize
	}
	return d
}

// Params holds pagination parameters extracted from a request.
type Params struct {
	PageSize   int
	PageNumber int
	// CountOnly is set by _count=0: the client wants the total only.
	CountOnly bool
}

// FromQuery parses raw _count and _page values. Empty strings take the
// defaults; a _count above the maximum is clamped.
func FromQuery(count, page string, d Defaults) (Params, error) {
	d = d.normalize()
	p := Params{PageSize: d.DefaultSize, PageNumber: 1}

	if count = strings.TrimSpace(count); count != "" {
		n, err := ParseCount(count, d)
		if err != nil {
			return Params{}, err
		}
		if n == 0 {
			p.CountOnly = true
		} else {
			p.PageSize = n
		}
	}
	if page = strings.TrimSpace(page); page != "" {
		n, err := ParsePage(page)
		if err != nil {
			return Params{}, err
		}
		p.PageNumber = n
	}
	return p, nil
}

// ParseCount parses one _count value, clamping it to d.MaxSize.
func ParseCount(s string, d Defaults) (int, error) {
	d = d.normalize()
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidCount, s)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidCount, n)
	}
	if n > d.MaxSize {
		n = d.MaxSize
	}
	return n, nil
}

// ParsePage parses one _page value. Pages are numbered from 1.
func ParsePage(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidPage, s)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: pages start at 1, got %d", ErrInvalidPage, n)
	}
	return n, nil
}

// FromContext extracts pagination parameters from the echo context.
func FromContext(c echo.Context, d Defaults) (Params, error) {
	return FromQuery(c.QueryParam("_count"), c.QueryParam("_page"), d)
}

// Offset returns the number of results before the current page.
func (p Params) Offset() int {
	if p.PageNumber < 1 {
		return 0
	}
	return (p.PageNumber - 1) * p.PageSize
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.PageSize < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.PageNumber > 1
}
