package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryOf(t *testing.T) {
	tests := map[string]string{
		"auth.login":                   "auth",
		"security.suspicious_activity": "security",
		"a.b.c":                        "a",
		"standalone":                   "standalone",
		"":                             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CategoryOf(in), in)
	}
}

func TestParseSeverityAndStatus(t *testing.T) {
	sev, err := ParseSeverity(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, SeverityHigh, sev)
	assert.True(t, sev.Elevated())
	assert.False(t, SeverityMedium.Elevated())

	_, err = ParseSeverity("urgent")
	assert.True(t, IsValidation(err))

	st, err := ParseStatus("Failure")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, st)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestReviewStatusTargets(t *testing.T) {
	assert.True(t, ReviewReviewed.ValidTarget())
	assert.True(t, ReviewApproved.ValidTarget())
	assert.True(t, ReviewFlagged.ValidTarget())
	assert.False(t, ReviewPending.ValidTarget())
	assert.False(t, ReviewStatus("escalated").ValidTarget())
}

func validRecord() *Record {
	now := time.Now().UTC()
	return &Record{
		ID:            "r1",
		EventType:     "auth.login",
		EventCategory: "auth",
		Severity:      SeverityInfo,
		Status:        StatusSuccess,
		Message:       "user logged in",
		Review:        Review{Status: ReviewPending},
		Timestamp:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		field  string
	}{
		{"valid", func(*Record) {}, ""},
		{"empty type", func(r *Record) { r.EventType = " " }, "eventType"},
		{"category mismatch", func(r *Record) { r.EventCategory = "security" }, "eventCategory"},
		{"bad severity", func(r *Record) { r.Severity = "urgent" }, "severity"},
		{"bad status", func(r *Record) { r.Status = "" }, "status"},
		{"no message", func(r *Record) { r.Message = "" }, "message"},
		{"expiry before timestamp", func(r *Record) { r.ExpiresAt = r.Timestamp.Add(-time.Second) }, "expiresAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(r)
			err := r.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestFlagPatchMerges(t *testing.T) {
	yes, no := true, false
	flags := Flags{IsSensitive: true, IsArchived: true}

	patch := FlagPatch{IsAnomaly: &yes, IsSensitive: &no}
	assert.False(t, patch.Empty())
	patch.Apply(&flags)
	patch.Apply(&flags)

	assert.True(t, flags.IsAnomaly)
	assert.False(t, flags.IsSensitive)
	assert.True(t, flags.IsArchived, "archived flag untouched by patches")
	assert.False(t, flags.RequiresReview)
	assert.True(t, FlagPatch{}.Empty())
}

func TestContextAddRelatedIsSet(t *testing.T) {
	var c Context
	assert.True(t, c.AddRelated("a"))
	assert.True(t, c.AddRelated("b"))
	assert.False(t, c.AddRelated("a"))
	assert.Equal(t, []string{"a", "b"}, c.RelatedEventIDs)
}

func TestActorDisplayName(t *testing.T) {
	var nilActor *ActorRef
	assert.Equal(t, "", nilActor.DisplayName())
	assert.Equal(t, "alice", (&ActorRef{UserID: "u1", Username: "alice", Email: "a@x"}).DisplayName())
	assert.Equal(t, "a@x", (&ActorRef{UserID: "u1", Email: "a@x"}).DisplayName())
	assert.Equal(t, "u1", (&ActorRef{UserID: "u1"}).DisplayName())
}

func TestRecordCloneIsIndependent(t *testing.T) {
	r := validRecord()
	r.Actor = &ActorRef{UserID: "u1"}
	r.Context.RelatedEventIDs = []string{"x"}

	c := r.Clone()
	c.Actor.UserID = "u2"
	c.Context.AddRelated("y")
	c.Flags.IsAnomaly = true

	assert.Equal(t, "u1", r.Actor.UserID)
	assert.Equal(t, []string{"x"}, r.Context.RelatedEventIDs)
	assert.False(t, r.Flags.IsAnomaly)
}

func TestDurationMillis(t *testing.T) {
	r := validRecord()
	_, ok := r.DurationMillis()
	assert.False(t, ok)

	r.Metadata = map[string]any{"duration": 120}
	d, ok := r.DurationMillis()
	assert.True(t, ok)
	assert.Equal(t, 120.0, d)

	r.Metadata["duration"] = 250 * time.Millisecond
	d, _ = r.DurationMillis()
	assert.Equal(t, 250.0, d)

	r.Metadata["duration"] = "fast"
	_, ok = r.DurationMillis()
	assert.False(t, ok)
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsNotFound(&NotFoundError{ID: "x"}))
	assert.False(t, IsNotFound(ErrStoreClosed))
	assert.True(t, IsValidation(ErrInvalidReviewStatus))
	assert.Equal(t, "audit record 'x' not found", (&NotFoundError{ID: "x"}).Error())
	assert.Equal(t, "limit: too big", (&ValidationError{Field: "limit", Message: "too big"}).Error())
}
