package schedule

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
)

// Cron is a parsed cron expression. Both five field expressions and the
// seconds-first seven field form are accepted, as are macros like @hourly.
type Cron struct {
	expr   *cronexpr.Expression
	source string
}

func ParseCron(cron string) (Cron, error) {
	expr, err := cronexpr.Parse(cron)
	if err != nil {
		return Cron{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return Cron{expr: expr, source: cron}, nil
}

func (c Cron) String() string { return c.source }

// Next returns the first run time strictly after t, or the zero time if the
// expression never matches again.
func (c Cron) Next(t time.Time) time.Time {
	return c.expr.Next(t)
}

// NextRunTimes returns the next N run times that a cron expression will run.
// Each run time is in UTC.
func NextRunTimes(cron string, n int) ([]time.Time, error) {
	cutoff := time.Now().UTC()
	return NextRunTimesAfter(cron, cutoff, n)
}

// NextRunTimesAfter returns the next N run times after a specific time.
// It returns an error if the cron expression is invalid or if count is less than 1.
func NextRunTimesAfter(cron string, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, fmt.Errorf("count must be greater than 0")
	}
	c, err := ParseCron(cron)
	if err != nil {
		return nil, err
	}
	return c.expr.NextN(after, uint(n)), nil
}

func ValidateCron(cron string) error {
	_, err := ParseCron(cron)
	return err
}
