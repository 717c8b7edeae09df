package funcs

import (
	"time"

	"github.com/GoogleCloudPlatform/mytsdb/internal/promql/value"
)

// calendarField registers a (vector) -> vector function that reinterprets
// each sample's value as a Unix timestamp in seconds and extracts a UTC
// calendar field from it (spec.md §4.C time functions).
func calendarField(r *Registry, name string, fn func(time.Time) float64) {
	unaryVectorFunc(r, name, func(v float64) float64 {
		t := time.Unix(int64(v), 0).UTC()
		return fn(t)
	})
}

func daysInMonth(t time.Time) float64 {
	year, month, _ := t.Date()
	return float64(time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day())
}

func registerTime(r *Registry) {
	r.register(Signature{
		Name:       "time",
		ArgTypes:   nil,
		ReturnType: value.ValScalar,
		Impl: func(args []value.Value, ctx EvalContext) (value.Value, error) {
			ts := ctx.Timestamp()
			return value.Scalar{Timestamp: ts, V: float64(ts) / 1000.0}, nil
		},
	})

	calendarField(r, "year", func(t time.Time) float64 { return float64(t.Year()) })
	calendarField(r, "hour", func(t time.Time) float64 { return float64(t.Hour()) })
	calendarField(r, "minute", func(t time.Time) float64 { return float64(t.Minute()) })
	calendarField(r, "month", func(t time.Time) float64 { return float64(t.Month()) })
	calendarField(r, "day_of_month", func(t time.Time) float64 { return float64(t.Day()) })
	calendarField(r, "day_of_week", func(t time.Time) float64 { return float64(t.Weekday()) })
	calendarField(r, "days_in_month", daysInMonth)
}
