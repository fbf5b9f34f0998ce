package envelope

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/audit"
)

// Locals keys populated by the identity middleware.
const (
	LocalUserID   = "user_id"
	LocalUsername = "username"
	LocalEmail    = "email"
	LocalRoles    = "roles"
)

// ActorFromFiber reads the authenticated identity placed in Locals by the JWT
// middleware. Anonymous requests yield a system actor.
func ActorFromFiber(c *fiber.Ctx) ActorInput {
	uid, _ := c.Locals(LocalUserID).(string)
	if uid == "" {
		return SystemActor()
	}
	ref := audit.ActorRef{UserID: uid}
	ref.Username, _ = c.Locals(LocalUsername).(string)
	ref.Email, _ = c.Locals(LocalEmail).(string)
	if roles, ok := c.Locals(LocalRoles).([]string); ok && len(roles) > 0 {
		ref.Role = roles[0]
	}
	return ActorFromRef(ref)
}

// RequestFromFiber snapshots the current request. The body is captured only
// when it is a JSON object. Strings are copied so the snapshot outlives the
// fasthttp request buffers.
func RequestFromFiber(c *fiber.Ctx) *RequestInfo {
	info := &RequestInfo{
		Method:         strings.Clone(c.Method()),
		Path:           strings.Clone(c.Path()),
		Headers:        make(map[string]string),
		PeerAddr:       c.Context().RemoteAddr().String(),
		ResponseStatus: c.Response().StatusCode(),
	}

	c.Request().Header.VisitAll(func(key, value []byte) {
		info.Headers[strings.ToLower(string(key))] = string(value)
	})

	if q := c.Queries(); len(q) > 0 {
		info.Query = make(map[string]string, len(q))
		for k, v := range q {
			info.Query[strings.Clone(k)] = strings.Clone(v)
		}
	}

	if body := c.Body(); len(body) > 0 && strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEApplicationJSON) {
		var parsed map[string]any
		if err := json.Unmarshal(body, &parsed); err == nil {
			info.Body = parsed
		}
	}

	return info
}

// ParamsFromFiber collects route params, query values and any string leaves
// of a JSON body for screening.
func ParamsFromFiber(c *fiber.Ctx) []string {
	var values []string
	for _, v := range c.AllParams() {
		values = append(values, v)
	}
	for _, v := range c.Queries() {
		values = append(values, v)
	}
	if body := c.Body(); len(body) > 0 {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			values = appendStrings(values, parsed)
		} else {
			values = append(values, string(body))
		}
	}
	return values
}

func appendStrings(dst []string, v any) []string {
	switch t := v.(type) {
	case string:
		return append(dst, t)
	case map[string]any:
		for k, item := range t {
			dst = append(dst, k)
			dst = appendStrings(dst, item)
		}
	case []any:
		for _, item := range t {
			dst = appendStrings(dst, item)
		}
	}
	return dst
}
