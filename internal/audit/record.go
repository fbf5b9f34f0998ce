// Package audit defines the audit record model shared by every auditlens component.
package audit

import (
	"strings"
	"time"
)

// Severity is the editorial importance tier of an event.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Elevated reports whether events of this severity trigger notifications.
func (s Severity) Elevated() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// ParseSeverity returns the severity for s, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", &ValidationError{Field: "severity", Message: "unknown severity " + s}
	}
	return sev, nil
}

// Status is the outcome of the observed operation.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusPending, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus returns the status for s, case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{Field: "status", Message: "unknown status " + s}
	}
	return st, nil
}

// ReviewStatus is the state of the review workflow on a record.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewReviewed ReviewStatus = "reviewed"
	ReviewApproved ReviewStatus = "approved"
	ReviewFlagged  ReviewStatus = "flagged"
)

// ValidTarget reports whether a review action may move a record to s.
func (s ReviewStatus) ValidTarget() bool {
	switch s {
	case ReviewReviewed, ReviewApproved, ReviewFlagged:
		return true
	}
	return false
}

// Well known event types.
const (
	EventSuspiciousActivity = "security.suspicious_activity"
	EventAnomalyDetected    = "security.anomaly_detected"
	EventRetentionArchive   = "system.retention_archive"
	EventRetentionPurge     = "system.retention_purge"
	EventRecordReviewed     = "audit.record_reviewed"
)

// CategoryOf returns the part of eventType before the first dot.
func CategoryOf(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i >= 0 {
		return eventType[:i]
	}
	return eventType
}

// ActorRef is the canonical reference to the identity that performed an action.
type ActorRef struct {
	UserID   string `json:"userId" bson:"userId"`
	Username string `json:"username,omitempty" bson:"username,omitempty"`
	Email    string `json:"email,omitempty" bson:"email,omitempty"`
	Role     string `json:"role,omitempty" bson:"role,omitempty"`
}

// DisplayName is the most human-friendly identifier available.
func (a *ActorRef) DisplayName() string {
	if a == nil {
		return ""
	}
	switch {
	case a.Username != "":
		return a.Username
	case a.Email != "":
		return a.Email
	default:
		return a.UserID
	}
}

// Session holds the network origin and parsed client metadata.
type Session struct {
	ID        string `json:"id,omitempty" bson:"id,omitempty"`
	IPAddress string `json:"ipAddress" bson:"ipAddress"`
	UserAgent string `json:"userAgent,omitempty" bson:"userAgent,omitempty"`
	Browser   string `json:"browser,omitempty" bson:"browser,omitempty"`
	OS        string `json:"os,omitempty" bson:"os,omitempty"`
	Device    string `json:"device,omitempty" bson:"device,omitempty"`
}

// Location is a best-effort geolocation of the network origin.
type Location struct {
	Country   string  `json:"country,omitempty" bson:"country,omitempty"`
	Region    string  `json:"region,omitempty" bson:"region,omitempty"`
	City      string  `json:"city,omitempty" bson:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty" bson:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty" bson:"longitude,omitempty"`
	Timezone  string  `json:"timezone,omitempty" bson:"timezone,omitempty"`
}

// RequestSnapshot is the sanitized view of the triggering request.
type RequestSnapshot struct {
	Method  string            `json:"method,omitempty" bson:"method,omitempty"`
	Path    string            `json:"path,omitempty" bson:"path,omitempty"`
	Query   map[string]string `json:"query,omitempty" bson:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty" bson:"body,omitempty"`
}

// ResponseSnapshot records the outcome returned to the caller.
type ResponseSnapshot struct {
	StatusCode int `json:"statusCode" bson:"statusCode"`
}

// Changes is a before/after diff for update operations.
type Changes struct {
	Before map[string]any `json:"before,omitempty" bson:"before,omitempty"`
	After  map[string]any `json:"after,omitempty" bson:"after,omitempty"`
	Fields []string       `json:"fields,omitempty" bson:"fields,omitempty"`
}

// ErrorInfo describes a failed operation.
type ErrorInfo struct {
	Code    string         `json:"code,omitempty" bson:"code,omitempty"`
	Message string         `json:"message,omitempty" bson:"message,omitempty"`
	Stack   string         `json:"stack,omitempty" bson:"stack,omitempty"`
	Details map[string]any `json:"details,omitempty" bson:"details,omitempty"`
}

// Flags are independently settable markers on a record.
type Flags struct {
	IsAutomated    bool `json:"isAutomated" bson:"isAutomated"`
	IsAnomaly      bool `json:"isAnomaly" bson:"isAnomaly"`
	RequiresReview bool `json:"requiresReview" bson:"requiresReview"`
	IsSensitive    bool `json:"isSensitive" bson:"isSensitive"`
	IsArchived     bool `json:"isArchived" bson:"isArchived"`
	IsSuspicious   bool `json:"isSuspicious" bson:"isSuspicious"`
}

// FlagPatch is a merge update; nil fields keep their prior value.
// Archival is deliberately absent: only the retention sweep sets it.
type FlagPatch struct {
	IsAutomated    *bool `json:"isAutomated,omitempty"`
	IsAnomaly      *bool `json:"isAnomaly,omitempty"`
	RequiresReview *bool `json:"requiresReview,omitempty"`
	IsSensitive    *bool `json:"isSensitive,omitempty"`
	IsSuspicious   *bool `json:"isSuspicious,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p FlagPatch) Empty() bool {
	return p.IsAutomated == nil && p.IsAnomaly == nil && p.RequiresReview == nil &&
		p.IsSensitive == nil && p.IsSuspicious == nil
}

// Apply merges the patch into f.
func (p FlagPatch) Apply(f *Flags) {
	if p.IsAutomated != nil {
		f.IsAutomated = *p.IsAutomated
	}
	if p.IsAnomaly != nil {
		f.IsAnomaly = *p.IsAnomaly
	}
	if p.RequiresReview != nil {
		f.RequiresReview = *p.RequiresReview
	}
	if p.IsSensitive != nil {
		f.IsSensitive = *p.IsSensitive
	}
	if p.IsSuspicious != nil {
		f.IsSuspicious = *p.IsSuspicious
	}
}

// Review is the outcome of the most recent review action.
type Review struct {
	Status     ReviewStatus `json:"status" bson:"status"`
	ReviewedBy string       `json:"reviewedBy,omitempty" bson:"reviewedBy,omitempty"`
	ReviewedAt *time.Time   `json:"reviewedAt,omitempty" bson:"reviewedAt,omitempty"`
	Notes      string       `json:"notes,omitempty" bson:"notes,omitempty"`
}

// Context links causally related records by identifier only.
type Context struct {
	CorrelationID   string   `json:"correlationId,omitempty" bson:"correlationId,omitempty"`
	ParentEventID   string   `json:"parentEventId,omitempty" bson:"parentEventId,omitempty"`
	RelatedEventIDs []string `json:"relatedEventIds,omitempty" bson:"relatedEventIds,omitempty"`
	BusinessProcess string   `json:"businessProcess,omitempty" bson:"businessProcess,omitempty"`
	Workflow        string   `json:"workflow,omitempty" bson:"workflow,omitempty"`
}

// AddRelated appends id unless it is already linked. It reports whether anything changed.
func (c *Context) AddRelated(id string) bool {
	for _, existing := range c.RelatedEventIDs {
		if existing == id {
			return false
		}
	}
	c.RelatedEventIDs = append(c.RelatedEventIDs, id)
	return true
}

// Record is a single immutable audit entry.
type Record struct {
	ID            string            `json:"id" bson:"_id"`
	EventType     string            `json:"eventType" bson:"eventType"`
	EventCategory string            `json:"eventCategory" bson:"eventCategory"`
	Severity      Severity          `json:"severity" bson:"severity"`
	Status        Status            `json:"status" bson:"status"`
	Actor         *ActorRef         `json:"actor,omitempty" bson:"actor,omitempty"`
	Session       *Session          `json:"session,omitempty" bson:"session,omitempty"`
	Location      *Location         `json:"location,omitempty" bson:"location,omitempty"`
	Request       *RequestSnapshot  `json:"request,omitempty" bson:"request,omitempty"`
	Response      *ResponseSnapshot `json:"response,omitempty" bson:"response,omitempty"`
	Resource      string            `json:"resource,omitempty" bson:"resource,omitempty"`
	ResourceName  string            `json:"resourceName,omitempty" bson:"resourceName,omitempty"`
	Changes       *Changes          `json:"changes,omitempty" bson:"changes,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Message       string            `json:"message" bson:"message"`
	Description   string            `json:"description,omitempty" bson:"description,omitempty"`
	Error         *ErrorInfo        `json:"error,omitempty" bson:"error,omitempty"`
	Tags          []string          `json:"tags,omitempty" bson:"tags,omitempty"`
	Flags         Flags             `json:"flags" bson:"flags"`
	Review        Review            `json:"review" bson:"review"`
	Context       Context           `json:"context" bson:"context"`
	Timestamp     time.Time         `json:"timestamp" bson:"timestamp"`
	ExpiresAt     time.Time         `json:"expiresAt" bson:"expiresAt"`
}

// Origin returns the network origin, or "" when none was captured.
func (r *Record) Origin() string {
	if r.Session == nil {
		return ""
	}
	return r.Session.IPAddress
}

// ActorID returns the acting user id, or "" for system events.
func (r *Record) ActorID() string {
	if r.Actor == nil {
		return ""
	}
	return r.Actor.UserID
}

// DurationMillis reads metadata["duration"] as milliseconds.
func (r *Record) DurationMillis() (float64, bool) {
	if r.Metadata == nil {
		return 0, false
	}
	return toFloat(r.Metadata["duration"])
}

// Clone returns a deep enough copy for read-modify-write updates.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Actor != nil {
		a := *r.Actor
		c.Actor = &a
	}
	if r.Session != nil {
		s := *r.Session
		c.Session = &s
	}
	if r.Location != nil {
		l := *r.Location
		c.Location = &l
	}
	if r.Review.ReviewedAt != nil {
		t := *r.Review.ReviewedAt
		c.Review.ReviewedAt = &t
	}
	c.Tags = append([]string(nil), r.Tags...)
	c.Context.RelatedEventIDs = append([]string(nil), r.Context.RelatedEventIDs...)
	return &c
}

// Validate checks the invariants every stored record must satisfy.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.EventType) == "" {
		return &ValidationError{Field: "eventType", Message: "event type is required"}
	}
	if r.EventCategory != CategoryOf(r.EventType) {
		return &ValidationError{Field: "eventCategory", Message: "category must match the event type prefix"}
	}
	if !r.Severity.Valid() {
		return &ValidationError{Field: "severity", Message: "unknown severity " + string(r.Severity)}
	}
	if !r.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(r.Status)}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp is required"}
	}
	if !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(r.Timestamp) {
		return &ValidationError{Field: "expiresAt", Message: "expiry must not precede the timestamp"}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case time.Duration:
		return float64(n) / float64(time.Millisecond), true
	}
	return 0, false
}
