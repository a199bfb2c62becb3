package fhir

import (
	"fmt"
	"strings"
	"time"
)

// DatePrecision is the finest unit present in a search date.
type DatePrecision int

const (
	PrecisionYear DatePrecision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionMinute
	PrecisionSecond
	PrecisionFraction
)

var precisionNames = [...]string{"year", "month", "day", "minute", "second", "fraction"}

func (p DatePrecision) String() string {
	if int(p) < len(precisionNames) {
		return precisionNames[p]
	}
	return fmt.Sprintf("DatePrecision(%d)", int(p))
}

func (p DatePrecision) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// DateValue is a search date with the range implied by its precision.
// Lower is inclusive and Upper exclusive; both are UTC.
type DateValue struct {
	Raw       string        `json:"raw"`
	Precision DatePrecision `json:"precision"`
	Lower     time.Time     `json:"lower"`
	Upper     time.Time     `json:"upper"`
}

// Contains reports whether t falls inside the implicit range.
func (d *DateValue) Contains(t time.Time) bool {
	return !t.Before(d.Lower) && t.Before(d.Upper)
}

var dateLayouts = []struct {
	layout    string
	precision DatePrecision
}{
	{"2006", PrecisionYear},
	{"2006-01", PrecisionMonth},
	{"2006-01-02", PrecisionDay},
	{"2006-01-02T15:04Z07:00", PrecisionMinute},
	{"2006-01-02T15:04", PrecisionMinute},
	{"2006-01-02T15:04:05Z07:00", PrecisionSecond},
	{"2006-01-02T15:04:05", PrecisionSecond},
}

// parseDateValue parses an ISO-8601 date or dateTime of any partial
// precision. A missing zone offset is read as UTC.
func parseDateValue(s string) (*DateValue, error) {
	for _, l := range dateLayouts {
		if len(s) < len("2006") {
			break
		}
		t, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		d := &DateValue{Raw: s, Precision: l.precision, Lower: t.UTC()}
		switch l.precision {
		case PrecisionYear:
			d.Upper = d.Lower.AddDate(1, 0, 0)
		case PrecisionMonth:
			d.Upper = d.Lower.AddDate(0, 1, 0)
		case PrecisionDay:
			d.Upper = d.Lower.AddDate(0, 0, 1)
		case PrecisionMinute:
			d.Upper = d.Lower.Add(time.Minute)
		case PrecisionSecond:
			// time.Parse accepts a fractional second the layout does not name.
			if digits := fractionDigits(s); digits > 0 {
				d.Precision = PrecisionFraction
				unit := time.Second
				for i := 0; i < digits; i++ {
					unit /= 10
				}
				d.Upper = d.Lower.Add(unit)
			} else {
				d.Upper = d.Lower.Add(time.Second)
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("%q is not a valid date", s)
}

func fractionDigits(s string) int {
	_, frac, ok := strings.Cut(s, ".")
	if !ok {
		return 0
	}
	n := 0
	for n < len(frac) && frac[n] >= '0' && frac[n] <= '9' {
		n++
	}
	if n > 9 {
		n = 9
	}
	return n
}
