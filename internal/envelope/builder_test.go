package envelope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/seal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGeo struct {
	calls int
	loc   *audit.Location
	err   error
}

func (s *stubGeo) Lookup(context.Context, string) (*audit.Location, error) {
	s.calls++
	return s.loc, s.err
}

type failingSealer struct{}

func (failingSealer) Seal(string) (string, error)   { return "", errors.New("kms down") }
func (failingSealer) Unseal(string) (string, error) { return "", errors.New("kms down") }

func fixedClock() time.Time { return time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC) }

func TestBuildDefaults(t *testing.T) {
	b := NewBuilder(WithClock(fixedClock))

	rec, err := b.Build(context.Background(), Input{
		EventType: "auth.login",
		Message:   "  user logged in  ",
		Tags:      []string{"web", "web", " ", "sso"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "auth", rec.EventCategory)
	assert.Equal(t, audit.SeverityInfo, rec.Severity)
	assert.Equal(t, audit.StatusSuccess, rec.Status)
	assert.Equal(t, audit.ReviewPending, rec.Review.Status)
	assert.Equal(t, "user logged in", rec.Message)
	assert.Equal(t, []string{"web", "sso"}, rec.Tags)
	assert.Nil(t, rec.Actor)
	assert.Nil(t, rec.Session)
	assert.Equal(t, fixedClock(), rec.Timestamp)
	assert.Equal(t, fixedClock().Add(DefaultTTL), rec.ExpiresAt)
	assert.NoError(t, rec.Validate())
}

func TestBuildCategoryAlwaysFollowsEventType(t *testing.T) {
	b := NewBuilder()
	rec, err := b.Build(context.Background(), Input{EventType: "data.export", Category: "auth", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, "data", rec.EventCategory)
}

func TestBuildRejectsMalformedInput(t *testing.T) {
	b := NewBuilder()
	tests := []Input{
		{Message: "no type"},
		{EventType: "auth.login"},
		{EventType: "auth.login", Message: "m", Severity: "urgent"},
		{EventType: "auth.login", Message: "m", Status: "done"},
	}
	for _, in := range tests {
		_, err := b.Build(context.Background(), in)
		assert.True(t, audit.IsValidation(err), "%+v", in)
	}
}

func TestBuildExpiry(t *testing.T) {
	b := NewBuilder(WithClock(fixedClock), WithTTL(24*time.Hour))

	rec, err := b.Build(context.Background(), Input{EventType: "a.b", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, fixedClock().Add(24*time.Hour), rec.ExpiresAt)

	later := fixedClock().Add(time.Hour)
	rec, _ = b.Build(context.Background(), Input{EventType: "a.b", Message: "m", ExpiresAt: &later})
	assert.Equal(t, later, rec.ExpiresAt)

	earlier := fixedClock().Add(-time.Hour)
	rec, _ = b.Build(context.Background(), Input{EventType: "a.b", Message: "m", ExpiresAt: &earlier})
	assert.False(t, rec.ExpiresAt.Before(rec.Timestamp))
}

func TestBuildArchivedFlagCannotBeSupplied(t *testing.T) {
	rec, err := NewBuilder().Build(context.Background(), Input{
		EventType: "a.b", Message: "m",
		Flags: audit.Flags{IsArchived: true, IsAutomated: true},
	})
	require.NoError(t, err)
	assert.False(t, rec.Flags.IsArchived)
	assert.True(t, rec.Flags.IsAutomated)
}

func TestBuildRequestSnapshot(t *testing.T) {
	g := &stubGeo{loc: &audit.Location{Country: "DE", City: "Berlin"}}
	b := NewBuilder(WithGeo(g))

	rec, err := b.Build(context.Background(), Input{
		EventType: "user.update",
		Message:   "profile changed",
		Actor:     ActorFromID("u-7"),
		SessionID: "sess-1",
		Resource:  Resource("user", "u-7"),
		Request: &RequestInfo{
			Method: "PATCH",
			Path:   "/users/u-7",
			Query:  map[string]string{"token": "abc", "page": "2"},
			Headers: map[string]string{
				"Authorization":   "Bearer x",
				"Cookie":          "sid=1",
				"X-API-Key":       "k",
				"X-Forwarded-For": "203.0.113.9, 10.0.0.1",
				"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			Body: map[string]any{
				"name":     "Bob",
				"password": "hunter2",
				"profile":  map[string]any{"national_id": "123", "city": "Berlin"},
			},
			ResponseStatus: 200,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, &audit.ActorRef{UserID: "u-7"}, rec.Actor)
	assert.Equal(t, "user:u-7", rec.Resource)
	require.NotNil(t, rec.Session)
	assert.Equal(t, "sess-1", rec.Session.ID)
	assert.Equal(t, "203.0.113.9", rec.Session.IPAddress)
	assert.Contains(t, rec.Session.Browser, "Chrome")
	assert.Equal(t, "desktop", rec.Session.Device)
	assert.Equal(t, "Berlin", rec.Location.City)
	assert.Equal(t, 1, g.calls)

	assert.NotContains(t, rec.Request.Headers, "authorization")
	assert.NotContains(t, rec.Request.Headers, "cookie")
	assert.NotContains(t, rec.Request.Headers, "x-api-key")
	assert.Equal(t, "203.0.113.9, 10.0.0.1", rec.Request.Headers["x-forwarded-for"])

	assert.Equal(t, RedactedMarker, rec.Request.Body["password"])
	assert.Equal(t, RedactedMarker, rec.Request.Body["profile"].(map[string]any)["national_id"])
	assert.Equal(t, "Berlin", rec.Request.Body["profile"].(map[string]any)["city"])
	assert.Equal(t, RedactedMarker, rec.Request.Query["token"])
	assert.Equal(t, "2", rec.Request.Query["page"])
	assert.True(t, rec.Flags.IsSensitive)
	assert.Equal(t, 200, rec.Response.StatusCode)
}

func TestBuildSealsWhenSealerConfigured(t *testing.T) {
	sealer, err := seal.NewAESSealer("unit-test-seal-key")
	require.NoError(t, err)
	b := NewBuilder(WithSealer(sealer))

	body := map[string]any{"password": "hunter2", "pin": "1234", "note": "keep"}
	rec, err := b.Build(context.Background(), Input{
		EventType: "auth.password_change",
		Message:   "password changed",
		Request:   &RequestInfo{Body: body},
	})
	require.NoError(t, err)

	sealed := rec.Request.Body["password"].(string)
	assert.True(t, seal.IsSealed(sealed))
	assert.NotEqual(t, RedactedMarker, sealed)

	restored, err := UnsealBody(rec.Request.Body, sealer)
	require.NoError(t, err)
	assert.Equal(t, body, restored)
}

func TestSealRoundTripKeepsValueTypes(t *testing.T) {
	sealer, err := seal.NewAESSealer("unit-test-seal-key")
	require.NoError(t, err)

	body := map[string]any{
		"pin":        1234.0,
		"otp":        true,
		"creditCard": map[string]any{"number": "4111", "exp": "12/29"},
		"backupCode": []any{"a1", "b2"},
		"token":      "plain-string",
	}
	sealed := SanitizeBody(body, sealer)
	for k := range body {
		token, ok := sealed[k].(string)
		require.True(t, ok, k)
		assert.True(t, seal.IsSealed(token), k)
	}

	restored, err := UnsealBody(sealed, sealer)
	require.NoError(t, err)
	assert.Equal(t, body, restored)
}

func TestBuildRedactsWhenSealingFails(t *testing.T) {
	b := NewBuilder(WithSealer(failingSealer{}))
	rec, err := b.Build(context.Background(), Input{
		EventType: "a.b", Message: "m",
		Request: &RequestInfo{Body: map[string]any{"secret": "s"}},
	})
	require.NoError(t, err)
	assert.Equal(t, RedactedMarker, rec.Request.Body["secret"])
}

func TestBuildGeoDegradesGracefully(t *testing.T) {
	g := &stubGeo{err: errors.New("provider down")}
	b := NewBuilder(WithGeo(g))

	rec, err := b.Build(context.Background(), Input{
		EventType: "a.b", Message: "m",
		Request: &RequestInfo{PeerAddr: "198.51.100.4:5555"},
	})
	require.NoError(t, err)
	assert.Nil(t, rec.Location)
	assert.Equal(t, "198.51.100.4", rec.Session.IPAddress)

	rec, err = b.Build(context.Background(), Input{
		EventType: "a.b", Message: "m",
		Request: &RequestInfo{PeerAddr: "127.0.0.1:80"},
	})
	require.NoError(t, err)
	assert.Nil(t, rec.Location)
	assert.Equal(t, 1, g.calls, "loopback is never looked up")
}

func TestBuildWithoutUAParser(t *testing.T) {
	b := NewBuilder(WithUAParser(nil))
	rec, err := b.Build(context.Background(), Input{
		EventType: "a.b", Message: "m",
		Request: &RequestInfo{Headers: map[string]string{"User-Agent": "curl/8.0"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "curl/8.0", rec.Session.UserAgent)
	assert.Empty(t, rec.Session.Browser)
	assert.Empty(t, rec.Session.OS)
}

func TestInputDecodesActorUnion(t *testing.T) {
	tests := []struct {
		name string
		json string
		want *audit.ActorRef
	}{
		{"missing", `{"eventType":"a.b","message":"m"}`, nil},
		{"null", `{"actor":null}`, nil},
		{"string id", `{"actor":"u-1"}`, &audit.ActorRef{UserID: "u-1"}},
		{"object", `{"actor":{"userId":"u-2","username":"bob","role":"admin"}}`, &audit.ActorRef{UserID: "u-2", Username: "bob", Role: "admin"}},
		{"test sentinel string", `{"actor":"test-actor"}`, nil},
		{"test sentinel object", `{"actor":{"userId":"test-actor"}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in Input
			require.NoError(t, json.Unmarshal([]byte(tt.json), &in))
			assert.Equal(t, tt.want, in.Actor.Resolve())
		})
	}
}

func TestInputDecodesResourceUnion(t *testing.T) {
	var in Input
	require.NoError(t, json.Unmarshal([]byte(`{"resource":"invoice:9"}`), &in))
	assert.Equal(t, "invoice:9", in.Resource.Canonical())

	require.NoError(t, json.Unmarshal([]byte(`{"resource":{"type":"order","id":"77","name":"Order 77"}}`), &in))
	assert.Equal(t, "order:77", in.Resource.Canonical())
	assert.Equal(t, "Order 77", in.Resource.Name)

	assert.Equal(t, "", ResourceInput{}.Canonical())
	assert.Equal(t, "report", Resource("report", "").Canonical())
}

func TestActorInputResolve(t *testing.T) {
	assert.Nil(t, SystemActor().Resolve())
	assert.Nil(t, TestActor().Resolve())
	assert.Nil(t, ActorFromID("  ").Resolve())
	assert.Nil(t, ActorFromRef(audit.ActorRef{}).Resolve())
	assert.Equal(t, "carol", ActorFromRef(audit.ActorRef{Username: "carol"}).Resolve().DisplayName())
}
