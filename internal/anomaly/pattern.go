package anomaly

import (
	"sort"
	"strconv"

	"github.com/neogan74/auditlens/internal/audit"
)

// Group is one row of a behavior pattern.
type Group struct {
	Key           string  `json:"key"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// Pattern groups an actor's events by hour of day, weekday and event type.
type Pattern struct {
	TotalEvents int     `json:"totalEvents"`
	ByHour      []Group `json:"byHour"`
	ByWeekday   []Group `json:"byWeekday"`
	ByEventType []Group `json:"byEventType"`
}

type groupAcc struct {
	count     int
	durSum    float64
	durSample int
}

type grouper struct {
	key  func(*audit.Record) string
	accs map[string]*groupAcc
}

func newGrouper(key func(*audit.Record) string) *grouper {
	return &grouper{key: key, accs: make(map[string]*groupAcc)}
}

func (g *grouper) add(r *audit.Record) {
	k := g.key(r)
	acc, ok := g.accs[k]
	if !ok {
		acc = &groupAcc{}
		g.accs[k] = acc
	}
	acc.count++
	if ms, ok := r.DurationMillis(); ok {
		acc.durSum += ms
		acc.durSample++
	}
}

// groups averages over the records that carried a duration.
func (g *grouper) groups(less func(a, b Group) bool) []Group {
	out := make([]Group, 0, len(g.accs))
	for k, acc := range g.accs {
		grp := Group{Key: k, Count: acc.count}
		if acc.durSample > 0 {
			grp.AvgDurationMs = acc.durSum / float64(acc.durSample)
		}
		out = append(out, grp)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byCount(a, b Group) bool {
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return a.Key < b.Key
}

func byNumericKey(a, b Group) bool {
	x, _ := strconv.Atoi(a.Key)
	y, _ := strconv.Atoi(b.Key)
	return x < y
}

// BuildPattern computes the pattern of records. Hours and weekdays are UTC;
// weekdays are numbered from Sunday (0).
func BuildPattern(records []*audit.Record) Pattern {
	hours := newGrouper(func(r *audit.Record) string { return strconv.Itoa(r.Timestamp.UTC().Hour()) })
	weekdays := newGrouper(func(r *audit.Record) string { return strconv.Itoa(int(r.Timestamp.UTC().Weekday())) })
	types := newGrouper(audit.ByEventType)

	for _, r := range records {
		hours.add(r)
		weekdays.add(r)
		types.add(r)
	}

	return Pattern{
		TotalEvents: len(records),
		ByHour:      hours.groups(byNumericKey),
		ByWeekday:   weekdays.groups(byNumericKey),
		ByEventType: types.groups(byCount),
	}
}
