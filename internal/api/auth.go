package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/identity"
	"github.com/p-blackswan/taskflow/internal/models"
)

const (
	AuthModeJWT  = "jwt"
	AuthModeNone = "none"

	// Headers honoured in "none" mode only.
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	localActor = "actor"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode     string // "jwt", "none"
	Resolver *identity.Resolver
}

func isInfraPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// NewAuthMiddleware resolves the caller into an Actor stored in c.Locals.
// Health and metrics endpoints pass through without an identity.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isInfraPath(c.Path()) {
			return c.Next()
		}

		if cfg.Mode == AuthModeNone {
			actor, err := headerActor(c)
			if err != nil {
				return err
			}
			c.Locals(localActor, actor)
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return perrors.Unauthorized("Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return perrors.Unauthorized("Authorization header must use Bearer scheme")
		}

		actor, err := cfg.Resolver.Resolve(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid token")
			return err
		}

		c.Locals(localActor, actor)
		return c.Next()
	}
}

// headerActor trusts identity headers. Development use only.
func headerActor(c *fiber.Ctx) (models.Actor, error) {
	id := strings.TrimSpace(c.Get(HeaderUserID))
	if id == "" {
		return models.Actor{}, perrors.Unauthorized("%s header is required", HeaderUserID)
	}
	role := models.RoleEmployee
	if raw := c.Get(HeaderUserRole); raw != "" {
		r, ok := models.ParseRole(raw)
		if !ok {
			return models.Actor{}, perrors.Unauthorized("unknown role %q", raw)
		}
		role = r
	}
	return models.Actor{ID: id, Role: role}, nil
}

// actorFrom returns the authenticated actor for the request.
func actorFrom(c *fiber.Ctx) models.Actor {
	a, _ := c.Locals(localActor).(models.Actor)
	return a
}
