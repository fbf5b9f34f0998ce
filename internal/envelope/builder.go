// Package envelope turns a raw invocation context into a persistence-ready audit record.
package envelope

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/geo"
	"github.com/neogan74/auditlens/internal/logger"
	"github.com/neogan74/auditlens/internal/seal"
)

// DefaultTTL is how long a record lives when no expiry is given.
const DefaultTTL = 90 * 24 * time.Hour

// Input is everything a caller knows about an observed action.
type Input struct {
	EventType   string           `json:"eventType"`
	Category    string           `json:"eventCategory,omitempty"`
	Severity    audit.Severity   `json:"severity,omitempty"`
	Status      audit.Status     `json:"status,omitempty"`
	Actor       ActorInput       `json:"actor"`
	SessionID   string           `json:"sessionId,omitempty"`
	Request     *RequestInfo     `json:"request,omitempty"`
	Resource    ResourceInput    `json:"resource"`
	Changes     *audit.Changes   `json:"changes,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Message     string           `json:"message"`
	Description string           `json:"description,omitempty"`
	Error       *audit.ErrorInfo `json:"error,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Flags       audit.Flags      `json:"flags"`
	Context     audit.Context    `json:"context"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
}

// Builder normalizes Inputs. Optional capabilities default to no-ops.
type Builder struct {
	sealer seal.Sealer
	geo    geo.Resolver
	ua     UAParser
	ttl    time.Duration
	now    func() time.Time
	log    logger.Logger
}

type Option func(*Builder)

// WithSealer seals sensitive body fields instead of redacting them.
func WithSealer(s seal.Sealer) Option { return func(b *Builder) { b.sealer = s } }

func WithGeo(r geo.Resolver) Option { return func(b *Builder) { b.geo = r } }

// WithUAParser replaces the user-agent parser; nil disables parsing.
func WithUAParser(p UAParser) Option { return func(b *Builder) { b.ua = p } }

func WithTTL(ttl time.Duration) Option { return func(b *Builder) { b.ttl = ttl } }

func WithClock(now func() time.Time) Option { return func(b *Builder) { b.now = now } }

func WithLogger(l logger.Logger) Option { return func(b *Builder) { b.log = l } }

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		geo: geo.Noop{},
		ua:  MssolaParser{},
		ttl: DefaultTTL,
		now: time.Now,
		log: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.ttl <= 0 {
		b.ttl = DefaultTTL
	}
	if b.geo == nil {
		b.geo = geo.Noop{}
	}
	return b
}

// Sealer exposes the configured sealer, which may be nil.
func (b *Builder) Sealer() seal.Sealer { return b.sealer }

// Build produces a fully-populated record. Enrichment failures degrade to
// empty values; only malformed input is an error.
func (b *Builder) Build(ctx context.Context, in Input) (*audit.Record, error) {
	eventType := strings.TrimSpace(in.EventType)
	if eventType == "" {
		return nil, &audit.ValidationError{Field: "eventType", Message: "event type is required"}
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, &audit.ValidationError{Field: "message", Message: "message is required"}
	}

	severity := in.Severity
	if severity == "" {
		severity = audit.SeverityInfo
	}
	if !severity.Valid() {
		return nil, &audit.ValidationError{Field: "severity", Message: "unknown severity " + string(severity)}
	}
	status := in.Status
	if status == "" {
		status = audit.StatusSuccess
	}
	if !status.Valid() {
		return nil, &audit.ValidationError{Field: "status", Message: "unknown status " + string(status)}
	}

	now := b.now().UTC()
	rec := &audit.Record{
		ID:            uuid.NewString(),
		EventType:     eventType,
		EventCategory: audit.CategoryOf(eventType),
		Severity:      severity,
		Status:        status,
		Actor:         in.Actor.Resolve(),
		Resource:      in.Resource.Canonical(),
		ResourceName:  in.Resource.Name,
		Changes:       in.Changes,
		Metadata:      copyMetadata(in.Metadata),
		Message:       strings.TrimSpace(in.Message),
		Description:   in.Description,
		Error:         in.Error,
		Tags:          dedupe(in.Tags),
		Flags:         in.Flags,
		Review:        audit.Review{Status: audit.ReviewPending},
		Context:       in.Context,
		Timestamp:     now,
		ExpiresAt:     b.expiry(now, in.ExpiresAt),
	}
	rec.Flags.IsArchived = false
	rec.Context.RelatedEventIDs = dedupe(rec.Context.RelatedEventIDs)

	if in.Category != "" && in.Category != rec.EventCategory {
		b.log.Debug("Ignoring event category that disagrees with event type",
			logger.String("event_type", eventType), logger.String("category", in.Category))
	}

	rec.Session = b.session(in.Request, in.SessionID)
	if req := in.Request; req != nil {
		s := &sanitizer{sealer: b.sealer}
		rec.Request = &audit.RequestSnapshot{
			Method:  req.Method,
			Path:    req.Path,
			Query:   s.query(req.Query),
			Headers: SanitizeHeaders(req.Headers),
			Body:    s.body(req.Body),
		}
		if s.touched > 0 {
			rec.Flags.IsSensitive = true
		}
		if req.ResponseStatus > 0 {
			rec.Response = &audit.ResponseSnapshot{StatusCode: req.ResponseStatus}
		}
	}

	if rec.Session != nil && geo.Eligible(rec.Session.IPAddress) {
		loc, err := b.geo.Lookup(ctx, rec.Session.IPAddress)
		if err != nil {
			b.log.Debug("Geolocation unavailable", logger.String("ip", rec.Session.IPAddress), logger.Error(err))
		} else if loc != nil {
			rec.Location = loc
		}
	}

	return rec, nil
}

func (b *Builder) expiry(now time.Time, override *time.Time) time.Time {
	if override != nil && !override.IsZero() {
		if !override.Before(now) {
			return override.UTC()
		}
		b.log.Debug("Ignoring expiry before creation time", logger.Time("expires_at", *override))
	}
	return now.Add(b.ttl)
}

func copyMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
