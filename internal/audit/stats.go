package audit

import (
	"sort"
	"time"
)

// Overview holds the headline totals for a time range.
type Overview struct {
	TotalEvents     int64   `json:"totalEvents" bson:"totalEvents"`
	CriticalHigh    int64   `json:"criticalHighEvents" bson:"criticalHighEvents"`
	Failures        int64   `json:"failedEvents" bson:"failedEvents"`
	DistinctActors  int64   `json:"uniqueActors" bson:"uniqueActors"`
	DistinctOrigins int64   `json:"uniqueOrigins" bson:"uniqueOrigins"`
	Anomalies       int64   `json:"anomalies" bson:"anomalies"`
	SuccessRate     float64 `json:"successRate" bson:"successRate"`
}

// Bucket is one row of a grouped count.
type Bucket struct {
	Key   string `json:"key" bson:"_id"`
	Count int64  `json:"count" bson:"count"`
}

// Statistics is the result of a statistics query.
type Statistics struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Overview    Overview  `json:"overview"`
	ByEventType []Bucket  `json:"byEventType"`
	BySeverity  []Bucket  `json:"bySeverity"`
}

// OverviewAccumulator folds records into an Overview.
type OverviewAccumulator struct {
	o       Overview
	success int64
	actors  map[string]struct{}
	origins map[string]struct{}
}

func NewOverviewAccumulator() *OverviewAccumulator {
	return &OverviewAccumulator{
		actors:  make(map[string]struct{}),
		origins: make(map[string]struct{}),
	}
}

func (a *OverviewAccumulator) Add(r *Record) {
	a.o.TotalEvents++
	if r.Severity.Elevated() {
		a.o.CriticalHigh++
	}
	switch r.Status {
	case StatusFailure:
		a.o.Failures++
	case StatusSuccess:
		a.success++
	}
	if id := r.ActorID(); id != "" {
		a.actors[id] = struct{}{}
	}
	if ip := r.Origin(); ip != "" {
		a.origins[ip] = struct{}{}
	}
	if r.Flags.IsAnomaly {
		a.o.Anomalies++
	}
}

// Result finalizes the distinct counts and success rate (percent, two decimals).
func (a *OverviewAccumulator) Result() Overview {
	o := a.o
	o.DistinctActors = int64(len(a.actors))
	o.DistinctOrigins = int64(len(a.origins))
	o.SuccessRate = SuccessRate(a.success, o.TotalEvents)
	return o
}

// SuccessRate returns success/total as a percentage rounded to two decimals.
func SuccessRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(success) / float64(total) * 100
	return float64(int64(rate*100+0.5)) / 100
}

// GroupCounter counts records by a key function.
type GroupCounter struct {
	key    func(*Record) string
	counts map[string]int64
}

func NewGroupCounter(key func(*Record) string) *GroupCounter {
	return &GroupCounter{key: key, counts: make(map[string]int64)}
}

func (g *GroupCounter) Add(r *Record) {
	g.counts[g.key(r)]++
}

// Buckets returns the groups by descending count, ties by key.
func (g *GroupCounter) Buckets() []Bucket {
	out := make([]Bucket, 0, len(g.counts))
	for k, c := range g.counts {
		out = append(out, Bucket{Key: k, Count: c})
	}
	SortBuckets(out)
	return out
}

// SortBuckets orders by descending count, then key.
func SortBuckets(b []Bucket) {
	sort.Slice(b, func(i, j int) bool {
		if b[i].Count != b[j].Count {
			return b[i].Count > b[j].Count
		}
		return b[i].Key < b[j].Key
	})
}

func ByEventType(r *Record) string { return r.EventType }
func BySeverity(r *Record) string  { return string(r.Severity) }
