package filters

import (
	"errors"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
)

// Preset is a period selection.
type Preset string

const (
	PresetToday     Preset = "today"
	PresetYesterday Preset = "yesterday"
	PresetLast7     Preset = "last_7"
	PresetLast30    Preset = "last_30"
	PresetCustom    Preset = "custom"
)

const dateLayout = "2006-01-02"

// Period is a resolved date range, both bounds inclusive.
type Period struct {
	Preset Preset `json:"preset"`
	From   string `json:"from"`
	To     string `json:"to"`
}

var ErrPeriod = errors.New("invalid period")

// ResolvePeriod turns a preset into a date range in loc. Custom bounds are
// parsed leniently and normalized to YYYY-MM-DD.
func ResolvePeriod(p Preset, now time.Time, loc *time.Location, customFrom, customTo string) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc)
	day := func(offset int) string { return today.AddDate(0, 0, offset).Format(dateLayout) }

	switch p {
	case PresetToday, "":
		return Period{Preset: PresetToday, From: day(0), To: day(0)}, nil
	case PresetYesterday:
		return Period{Preset: p, From: day(-1), To: day(-1)}, nil
	case PresetLast7:
		return Period{Preset: p, From: day(-6), To: day(0)}, nil
	case PresetLast30:
		return Period{Preset: p, From: day(-29), To: day(0)}, nil
	case PresetCustom:
		if customFrom == "" || customTo == "" {
			return Period{Preset: p}, fmt.Errorf("%w: custom range needs both dates", ErrPeriod)
		}
		from, err := dateparse.ParseIn(customFrom, loc)
		if err != nil {
			return Period{Preset: p}, fmt.Errorf("%w: from: %v", ErrPeriod, err)
		}
		to, err := dateparse.ParseIn(customTo, loc)
		if err != nil {
			return Period{Preset: p}, fmt.Errorf("%w: to: %v", ErrPeriod, err)
		}
		if to.Before(from) {
			return Period{Preset: p}, fmt.Errorf("%w: end before start", ErrPeriod)
		}
		return Period{Preset: p, From: from.Format(dateLayout), To: to.Format(dateLayout)}, nil
	}
	return Period{}, fmt.Errorf("%w: unknown preset %q", ErrPeriod, p)
}
