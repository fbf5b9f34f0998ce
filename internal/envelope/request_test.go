package envelope

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/seal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestOriginPrecedence(t *testing.T) {
	tests := []struct {
		name string
		req  *RequestInfo
		want string
	}{
		{"nil request", nil, UnknownOrigin},
		{"nothing known", &RequestInfo{}, UnknownOrigin},
		{"forwarded first entry", &RequestInfo{
			Headers:  map[string]string{"x-forwarded-for": " 203.0.113.1 , 10.0.0.2", "x-real-ip": "198.51.100.1"},
			PeerAddr: "10.0.0.3:1234",
		}, "203.0.113.1"},
		{"real ip", &RequestInfo{
			Headers:  map[string]string{"X-Real-IP": "198.51.100.1"},
			PeerAddr: "10.0.0.3:1234",
		}, "198.51.100.1"},
		{"peer with port", &RequestInfo{PeerAddr: "10.0.0.3:1234"}, "10.0.0.3"},
		{"peer without port", &RequestInfo{PeerAddr: "10.0.0.3"}, "10.0.0.3"},
		{"empty forwarded entry falls through", &RequestInfo{
			Headers:  map[string]string{"X-Forwarded-For": " , 1.2.3.4"},
			PeerAddr: "[::1]:80",
		}, "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Origin())
		})
	}
}

func TestMssolaParser(t *testing.T) {
	p := MssolaParser{}
	assert.Equal(t, ClientInfo{}, p.Parse(""))

	mobile := p.Parse("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "mobile", mobile.Device)
	assert.Contains(t, mobile.Browser, "Safari")

	bot := p.Parse("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	assert.Equal(t, "bot", bot.Device)
}

func TestSanitizeHeaders(t *testing.T) {
	assert.Nil(t, SanitizeHeaders(nil))
	out := SanitizeHeaders(map[string]string{"AUTHORIZATION": "x", "Content-Type": "application/json"})
	assert.Equal(t, map[string]string{"content-type": "application/json"}, out)
}

func TestIsSensitiveField(t *testing.T) {
	for _, f := range []string{"password", "Token", "api_key", "apiKey", "credit-card", "OTP", "backupCode", "mfa", "pin", "SSN", "nationalId"} {
		assert.True(t, IsSensitiveField(f), f)
	}
	for _, f := range []string{"name", "pinned", "tokens_used", "email"} {
		assert.False(t, IsSensitiveField(f), f)
	}
}

func TestSanitizeBodyWalksArrays(t *testing.T) {
	out := SanitizeBody(map[string]any{
		"cards": []any{map[string]any{"creditCard": "4111", "label": "main"}},
		"otp":   123456.0,
	}, nil)

	card := out["cards"].([]any)[0].(map[string]any)
	assert.Equal(t, RedactedMarker, card["creditCard"])
	assert.Equal(t, "main", card["label"])
	assert.Equal(t, RedactedMarker, out["otp"])
	assert.Nil(t, SanitizeBody(nil, nil))
}

func TestUnsealBodyLeavesLookalikeText(t *testing.T) {
	body := map[string]any{"note": "sealed: not a token", "short": "sealed:AAAA"}

	out, err := UnsealBody(body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	sealer, err := seal.NewAESSealer("unit-test-seal-key")
	require.NoError(t, err)
	out, err = UnsealBody(body, sealer)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestUnsealBodyReportsForeignKey(t *testing.T) {
	a, err := seal.NewAESSealer("first-seal-key")
	require.NoError(t, err)
	b, err := seal.NewAESSealer("second-seal-key")
	require.NoError(t, err)

	_, err = UnsealBody(SanitizeBody(map[string]any{"pin": 42.0}, a), b)
	assert.ErrorIs(t, err, seal.ErrUnsealFailure)
}

func TestRequestFromFiber(t *testing.T) {
	fctx := &fasthttp.RequestCtx{}
	fctx.Request.Header.SetMethod(fiber.MethodPost)
	fctx.Request.SetRequestURI("/orders?expand=items")
	fctx.Request.Header.Set("X-Real-IP", "198.51.100.7")
	fctx.Request.Header.Set("Authorization", "Bearer t")
	fctx.Request.Header.SetContentType(fiber.MIMEApplicationJSON)
	fctx.Request.SetBody([]byte(`{"sku":"A1","password":"p"}`))

	app := fiber.New()
	c := app.AcquireCtx(fctx)
	defer app.ReleaseCtx(c)

	info := RequestFromFiber(c)
	require.NotNil(t, info)
	assert.Equal(t, "POST", info.Method)
	assert.Equal(t, "/orders", info.Path)
	assert.Equal(t, "items", info.Query["expand"])
	assert.Equal(t, "A1", info.Body["sku"])
	assert.Equal(t, "198.51.100.7", info.Origin())
	assert.Equal(t, "Bearer t", info.Headers["authorization"], "raw snapshot; sanitizing happens in Build")
}

func TestActorFromFiber(t *testing.T) {
	app := fiber.New()
	c := app.AcquireCtx(&fasthttp.RequestCtx{})
	defer app.ReleaseCtx(c)

	assert.Nil(t, ActorFromFiber(c).Resolve())

	c.Locals(LocalUserID, "u-1")
	c.Locals(LocalUsername, "alice")
	c.Locals(LocalRoles, []string{"auditor", "viewer"})

	ref := ActorFromFiber(c).Resolve()
	require.NotNil(t, ref)
	assert.Equal(t, "alice", ref.Username)
	assert.Equal(t, "auditor", ref.Role)
}

func TestParamsFromFiber(t *testing.T) {
	fctx := &fasthttp.RequestCtx{}
	fctx.Request.SetRequestURI("/search?q=hello")
	fctx.Request.SetBody([]byte(`{"filter":{"name":"'; DROP TABLE users; --"},"ids":["1"]}`))

	app := fiber.New()
	c := app.AcquireCtx(fctx)
	defer app.ReleaseCtx(c)

	values := ParamsFromFiber(c)
	assert.Contains(t, values, "hello")
	assert.Contains(t, values, "'; DROP TABLE users; --")
	assert.Contains(t, values, "1")
}
