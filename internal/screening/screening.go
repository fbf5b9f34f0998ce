// Package screening rejects requests whose inputs look like injection or
// traversal attempts before they reach a handler.
package screening

import (
	"context"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/envelope"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/metrics"
	"github.com/neogan74/auditlens/internal/middleware"
)

// Pattern names.
const (
	PatternSQLInjection  = "sql_injection"
	PatternScriptTag     = "script_tag"
	PatternPathTraversal = "path_traversal"
	PatternShellMeta     = "shell_metacharacters"
)

// maxSample caps how much of the offending value is kept in the record.
const maxSample = 256

type rule struct {
	name string
	re   *regexp.Regexp
}

var defaultRules = []rule{
	{PatternSQLInjection, regexp.MustCompile(`(?i)('\s*(or|and)\s+['\d]|'\s*;|;\s*(drop|delete|insert|update|alter|truncate|exec)\s|\bunion\s+(all\s+)?select\b|--\s*$|/\*.*\*/)`)},
	{PatternScriptTag, regexp.MustCompile(`(?i)<\s*script\b|javascript:|\bon(load|error|click)\s*=`)},
	{PatternPathTraversal, regexp.MustCompile(`(?i)(\.\./|\.\.\\|%2e%2e(%2f|%5c|/))`)},
	{PatternShellMeta, regexp.MustCompile("(\\$\\(|`|\\|\\||&&|;\\s*(rm|cat|curl|wget|sh|bash|nc)\\b)")},
}

// Match describes the first offending input value.
type Match struct {
	Pattern string
	Value   string
}

// Screener checks values against a fixed rule set. It is safe for concurrent use.
type Screener struct {
	rules []rule
}

// New returns a screener with the built-in rules.
func New() *Screener {
	return &Screener{rules: defaultRules}
}

// Check returns the first rule any value trips.
func (s *Screener) Check(values ...string) (Match, bool) {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, r := range s.rules {
			if r.re.MatchString(v) {
				return Match{Pattern: r.name, Value: v}, true
			}
		}
	}
	return Match{}, false
}

// Recorder is the write path used to log rejections.
type Recorder interface {
	Record(ctx context.Context, in envelope.Input) *audit.Record
}

// Middleware rejects matching requests with 400 and records exactly one
// suspicious activity event for each rejection. The record is written
// synchronously so the rejection is persisted before the response goes out.
func Middleware(s *Screener, rec Recorder, log logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		m, hit := s.Check(envelope.ParamsFromFiber(c)...)
		if !hit {
			return c.Next()
		}

		metrics.ScreeningRejectionsTotal.WithLabelValues(m.Pattern).Inc()
		middleware.GetLogger(c).Warn("Rejected suspicious request",
			logger.String("pattern", m.Pattern),
			logger.String("path", c.Path()),
			logger.String("ip", c.IP()))

		sample := m.Value
		if len(sample) > maxSample {
			sample = sample[:maxSample]
		}

		req := envelope.RequestFromFiber(c)
		req.ResponseStatus = fiber.StatusBadRequest
		if rec.Record(c.UserContext(), envelope.Input{
			EventType: audit.EventSuspiciousActivity,
			Severity:  audit.SeverityHigh,
			Status:    audit.StatusFailure,
			Actor:     envelope.ActorFromFiber(c),
			Request:   req,
			Message:   "Request rejected by input screening: " + m.Pattern,
			Metadata: map[string]any{
				"pattern":    m.Pattern,
				"sample":     sample,
				"request_id": middleware.GetRequestID(c),
			},
			Flags: audit.Flags{RequiresReview: true, IsSuspicious: true},
			Tags:  []string{"screening", m.Pattern},
		}) == nil {
			log.Warn("Screening rejection was not recorded", logger.String("pattern", m.Pattern))
		}

		return middleware.BadRequest(c, "request rejected: suspicious input")
	}
}
