// Package anomaly derives per-actor behavior patterns, flags days whose
// volume statistically exceeds the actor's own norm and scores the result.
package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
)

// DefaultK is the number of standard deviations above the mean a day must reach.
const DefaultK = 3.0

const dayLayout = "2006-01-02"

// Day is the activity of one actor on one calendar day (UTC).
type Day struct {
	Date   string          `json:"date"`
	Count  int             `json:"count"`
	Events []*audit.Record `json:"-"`
}

// Anomaly is a day whose count reached the detection threshold.
type Anomaly struct {
	Date      string          `json:"date"`
	Count     int             `json:"count"`
	Threshold float64         `json:"threshold"`
	Events    []*audit.Record `json:"events"`
}

// DailyCounts buckets records by UTC calendar day, oldest day first.
func DailyCounts(records []*audit.Record) []Day {
	byDate := make(map[string]*Day)
	for _, r := range records {
		key := r.Timestamp.UTC().Format(dayLayout)
		d, ok := byDate[key]
		if !ok {
			d = &Day{Date: key}
			byDate[key] = d
		}
		d.Count++
		d.Events = append(d.Events, r)
	}

	days := make([]Day, 0, len(byDate))
	for _, d := range byDate {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}

// Threshold returns mean + k * population standard deviation of the day counts.
func Threshold(days []Day, k float64) float64 {
	if len(days) == 0 {
		return 0
	}
	n := float64(len(days))
	var sum float64
	for _, d := range days {
		sum += float64(d.Count)
	}
	mean := sum / n

	var sq float64
	for _, d := range days {
		diff := float64(d.Count) - mean
		sq += diff * diff
	}
	return mean + k*math.Sqrt(sq/n)
}

// Detect returns every day whose count is at or above Threshold(days, k).
// An empty history yields an empty, non-nil result.
func Detect(days []Day, k float64) []Anomaly {
	out := make([]Anomaly, 0)
	if len(days) == 0 {
		return out
	}
	threshold := Threshold(days, k)
	for _, d := range days {
		if float64(d.Count) >= threshold {
			out = append(out, Anomaly{
				Date:      d.Date,
				Count:     d.Count,
				Threshold: threshold,
				Events:    d.Events,
			})
		}
	}
	return out
}

// ParseDay parses the Date of a Day or Anomaly.
func ParseDay(date string) (time.Time, error) {
	return time.Parse(dayLayout, date)
}
