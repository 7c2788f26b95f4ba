// Package middleware provides the HTTP middleware of the engagement API.
package middleware

import (
	"strings"

	"engagement/internal/config"
	"engagement/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ActorLocal is the fiber local holding the authenticated user id.
const ActorLocal = "actorID"

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// AuthRequired is a middleware that enforces authentication for protected routes.
// The token's "sub" claim is the acting user id.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return unauthorized(c, "Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return unauthorized(c, "Invalid authorization header format")
	}

	actorID, msg := parseSubject(parts[1])
	if msg != "" {
		return unauthorized(c, msg)
	}
	setActor(c, actorID)
	return c.Next()
}

// WebSocketAuthRequired validates the token from the query string, falling
// back to the Authorization header. Browsers cannot set headers on upgrades.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		parts := strings.Split(c.Get("Authorization"), " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return unauthorized(c, "Token required")
		}
		token = parts[1]
	}

	actorID, msg := parseSubject(token)
	if msg != "" {
		return unauthorized(c, msg)
	}
	setActor(c, actorID)
	return c.Next()
}

// ActorID returns the authenticated user id, or "" outside AuthRequired.
func ActorID(c *fiber.Ctx) string {
	id, _ := c.Locals(ActorLocal).(string)
	return id
}

func parseSubject(tokenString string) (string, string) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", "Invalid or expired token"
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "Invalid token claims"
	}
	subClaim, ok := claims["sub"]
	if !ok {
		return "", "Invalid token structure - missing subject"
	}
	sub, ok := subClaim.(string)
	if !ok || strings.TrimSpace(sub) == "" {
		return "", "Invalid token subject"
	}
	return strings.TrimSpace(sub), ""
}

func setActor(c *fiber.Ctx, actorID string) {
	c.Locals(ActorLocal, actorID)
	c.SetUserContext(observability.WithActorID(c.UserContext(), actorID))
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
	})
}
