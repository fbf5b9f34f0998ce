package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/auditlens/internal/auth"
	"github.com/neogan74/auditlens/internal/envelope"
)

// ClaimsKey is the Locals key holding the validated claims.
const ClaimsKey = "claims"

// JWTAuth creates a middleware for JWT authentication. A public path ending
// in "/" matches every path below it.
func JWTAuth(jwtService *auth.JWTService, publicPaths []string) fiber.Handler {
	exact := make(map[string]bool)
	var prefixes []string
	for _, path := range publicPaths {
		if strings.HasSuffix(path, "/") && path != "/" {
			prefixes = append(prefixes, path)
			continue
		}
		exact[path] = true
	}

	isPublic := func(path string) bool {
		if exact[path] {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(c *fiber.Ctx) error {
		if isPublic(c.Path()) {
			return c.Next()
		}

		token, err := bearerToken(c)
		if err != nil {
			return Unauthorized(c, err.Error())
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				return Unauthorized(c, "token expired")
			case errors.Is(err, auth.ErrTokenMissing):
				return Unauthorized(c, "token missing")
			default:
				return Unauthorized(c, "invalid token")
			}
		}

		c.Locals(envelope.LocalUserID, claims.UserID)
		c.Locals(envelope.LocalUsername, claims.Username)
		c.Locals(envelope.LocalEmail, claims.Email)
		c.Locals(envelope.LocalRoles, claims.Roles)
		c.Locals(ClaimsKey, claims)

		return c.Next()
	}
}

// bearerToken accepts "Authorization: Bearer <t>" and, for browser
// WebSocket clients that cannot set headers, a token query parameter.
func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		if t := c.Query("token"); t != "" {
			return t, nil
		}
		return "", errors.New("missing authorization header")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// GetUserID returns the user ID from the context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(envelope.LocalUserID).(string); ok {
		return userID
	}
	return ""
}

// GetUsername returns the username from the context
func GetUsername(c *fiber.Ctx) string {
	if username, ok := c.Locals(envelope.LocalUsername).(string); ok {
		return username
	}
	return ""
}

// GetRoles returns the roles from the context
func GetRoles(c *fiber.Ctx) []string {
	if roles, ok := c.Locals(envelope.LocalRoles).([]string); ok {
		return roles
	}
	return []string{}
}

// GetClaims returns the JWT claims from the context
func GetClaims(c *fiber.Ctx) *auth.Claims {
	if claims, ok := c.Locals(ClaimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// HasRole checks if the user has a specific role
func HasRole(c *fiber.Ctx, role string) bool {
	for _, r := range GetRoles(c) {
		if r == role {
			return true
		}
	}
	return false
}

// RequireAnyRole rejects requests whose identity carries none of roles.
func RequireAnyRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, role := range roles {
			if HasRole(c, role) {
				return c.Next()
			}
		}
		return Forbidden(c, "insufficient permissions")
	}
}
