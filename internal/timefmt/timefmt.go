package timefmt

import (
	"fmt"
	"time"
)

// DefaultLayout is used when no layout is configured.
const DefaultLayout = "2006-01-02 15:04:05"

// Formatter renders timestamps in one fixed zone and layout so every
// lastUpdated value written to the store looks the same.
type Formatter struct {
	loc    *time.Location
	layout string
}

// New loads the named timezone and returns a Formatter for it.
func New(timezone, layout string) (*Formatter, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	if layout == "" {
		layout = DefaultLayout
	}
	return &Formatter{loc: loc, layout: layout}, nil
}

// UTC returns a Formatter using UTC and the default layout.
func UTC() *Formatter {
	return &Formatter{loc: time.UTC, layout: DefaultLayout}
}

// Format renders t.
func (f *Formatter) Format(t time.Time) string {
	return t.In(f.loc).Format(f.layout)
}

// Parse reads a value produced by Format.
func (f *Formatter) Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(f.layout, s, f.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
