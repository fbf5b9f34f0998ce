package audit

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Filter selects records. Zero-valued fields do not constrain the result.
type Filter struct {
	EventType      string     `json:"eventType,omitempty"`
	Category       string     `json:"category,omitempty"`
	Severities     []Severity `json:"severities,omitempty"`
	Status         Status     `json:"status,omitempty"`
	ActorID        string     `json:"actorId,omitempty"`
	IPAddress      string     `json:"ipAddress,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	From           time.Time  `json:"from,omitempty"`
	To             time.Time  `json:"to,omitempty"`
	Text           string     `json:"text,omitempty"`
	IsAnomaly      *bool      `json:"isAnomaly,omitempty"`
	RequiresReview *bool      `json:"requiresReview,omitempty"`
	IsArchived     *bool      `json:"isArchived,omitempty"`
	// Suspicious matches records flagged suspicious or recorded by input screening.
	Suspicious bool `json:"suspicious,omitempty"`
}

// Matches reports whether r satisfies every constraint of f.
// Time bounds are inclusive.
func (f Filter) Matches(r *Record) bool {
	if r == nil {
		return false
	}
	if f.EventType != "" && r.EventType != f.EventType {
		return false
	}
	if f.Category != "" && r.EventCategory != f.Category {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, r.Severity) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ActorID != "" && r.ActorID() != f.ActorID {
		return false
	}
	if f.IPAddress != "" && r.Origin() != f.IPAddress {
		return false
	}
	if len(f.Tags) > 0 && !anyTag(f.Tags, r.Tags) {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	if f.IsAnomaly != nil && r.Flags.IsAnomaly != *f.IsAnomaly {
		return false
	}
	if f.RequiresReview != nil && r.Flags.RequiresReview != *f.RequiresReview {
		return false
	}
	if f.IsArchived != nil && r.Flags.IsArchived != *f.IsArchived {
		return false
	}
	if f.Suspicious && !r.Flags.IsSuspicious && r.EventType != EventSuspiciousActivity {
		return false
	}
	if f.Text != "" && !matchesText(r, f.Text) {
		return false
	}
	return true
}

func containsSeverity(list []Severity, s Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func anyTag(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

// matchesText does a case-insensitive substring match over the text-indexed fields.
func matchesText(r *Record, text string) bool {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return true
	}
	for _, hay := range []string{r.Message, r.Description, r.Actor.DisplayName(), r.ResourceName} {
		if hay != "" && strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// Sort keys accepted by Page.
const (
	SortNewest   = "-timestamp"
	SortOldest   = "timestamp"
	SortSeverity = "-severity"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// Page controls pagination and ordering.
type Page struct {
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Sort   string `json:"sort"`
}

// Normalize clamps limit and offset and defaults the sort key.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	switch p.Sort {
	case SortNewest, SortOldest, SortSeverity:
	case "severity":
		p.Sort = SortSeverity
	default:
		p.Sort = SortNewest
	}
	return p
}

// PageCount is ceil(total/limit).
func (p Page) PageCount(total int64) int {
	if total <= 0 || p.Limit <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(p.Limit)))
}

// SortRecords orders records in place by the page's sort key. Ties break on id for stable paging.
func SortRecords(records []*Record, key string) {
	less := func(a, b *Record) bool {
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID > b.ID
	}
	switch key {
	case SortOldest:
		less = func(a, b *Record) bool {
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.ID < b.ID
		}
	case SortSeverity:
		newest := less
		less = func(a, b *Record) bool {
			if a.Severity.Rank() != b.Severity.Rank() {
				return a.Severity.Rank() > b.Severity.Rank()
			}
			return newest(a, b)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return less(records[i], records[j]) })
}

// Paginate slices an already sorted result set.
func Paginate(records []*Record, p Page) []*Record {
	if p.Offset >= len(records) {
		return []*Record{}
	}
	end := p.Offset + p.Limit
	if end > len(records) {
		end = len(records)
	}
	return records[p.Offset:end]
}
