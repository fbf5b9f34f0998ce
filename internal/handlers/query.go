package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
)

// parseTime accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func parseTime(field, value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &audit.ValidationError{Field: field, Message: "expected RFC 3339 timestamp or YYYY-MM-DD date"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseBool(field, value string) (*bool, error) {
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, &audit.ValidationError{Field: field, Message: "expected true or false"}
	}
	return &b, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseRange reads from/to, falling back to startDate/endDate.
func parseRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	from, err := parseTime("from", firstQuery(c, "from", "startDate"), false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime("to", firstQuery(c, "to", "endDate"), true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func firstQuery(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

// parseFilter builds a filter from query parameters. Strings are cloned
// because fiber reuses its buffers after the handler returns.
func parseFilter(c *fiber.Ctx) (audit.Filter, error) {
	var f audit.Filter
	f.EventType = strings.Clone(c.Query("eventType"))
	f.Category = strings.Clone(firstQuery(c, "category", "eventCategory"))
	f.ActorID = strings.Clone(firstQuery(c, "actorId", "userId"))
	f.IPAddress = strings.Clone(firstQuery(c, "ipAddress", "ip"))
	f.Text = strings.Clone(firstQuery(c, "q", "search"))
	for _, tag := range splitList(c.Query("tags")) {
		f.Tags = append(f.Tags, strings.Clone(tag))
	}

	for _, s := range splitList(c.Query("severity")) {
		sev, err := audit.ParseSeverity(s)
		if err != nil {
			return f, err
		}
		f.Severities = append(f.Severities, sev)
	}
	if s := c.Query("status"); s != "" {
		st, err := audit.ParseStatus(s)
		if err != nil {
			return f, err
		}
		f.Status = st
	}

	var err error
	if f.From, f.To, err = parseRange(c); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, &audit.ValidationError{Field: "to", Message: "end of range precedes its start"}
	}
	if f.IsAnomaly, err = parseBool("isAnomaly", c.Query("isAnomaly")); err != nil {
		return f, err
	}
	if f.RequiresReview, err = parseBool("requiresReview", c.Query("requiresReview")); err != nil {
		return f, err
	}
	if f.IsArchived, err = parseBool("isArchived", c.Query("isArchived")); err != nil {
		return f, err
	}
	if v := c.Query("suspicious"); v != "" {
		b, err := parseBool("suspicious", v)
		if err != nil {
			return f, err
		}
		f.Suspicious = *b
	}
	return f, nil
}

func parsePage(c *fiber.Ctx) audit.Page {
	return audit.Page{
		Limit:  c.QueryInt("limit", audit.DefaultLimit),
		Offset: c.QueryInt("offset", 0),
		Sort:   strings.Clone(c.Query("sort")),
	}.Normalize()
}
