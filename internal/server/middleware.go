package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const sessionEmailKey = "session_email"

// requireSession resolves the bearer token to a volunteer email and stores it
// in the request locals for handlers.
func (s *Server) requireSession(c *fiber.Ctx) error {
	email, err := s.sessions.Validate(c.Context(), bearerToken(c))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired session")
	}
	c.Locals(sessionEmailKey, email)
	return c.Next()
}

// requireAdmin checks the shared admin token. Routes behind it are refused
// entirely when no token is configured.
func (s *Server) requireAdmin(c *fiber.Ctx) error {
	if s.cfg.AdminToken == "" {
		return fiber.NewError(fiber.StatusForbidden, "admin API is not enabled")
	}
	supplied := c.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.AdminToken)) != 1 {
		return fiber.NewError(fiber.StatusForbidden, "invalid admin token")
	}
	return c.Next()
}

func sessionEmail(c *fiber.Ctx) string {
	email, _ := c.Locals(sessionEmailKey).(string)
	return email
}

func bearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Get("X-Session-Token")
}
