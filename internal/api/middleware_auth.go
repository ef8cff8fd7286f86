package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/terraincognita07/soberly/internal/models"
	"github.com/terraincognita07/soberly/internal/security"
)

var errMissingToken = errors.New("missing auth token")

func (handler *Handler) AuthRequired(c *fiber.Ctx) error {
	user, err := handler.authenticateRequest(c)
	if err != nil {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	c.Locals(contextUserKey, user)
	return c.Next()
}

func (handler *Handler) AdminOnly(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if user.Role != models.RoleAdmin {
		return apiError(c, fiber.StatusForbidden, "admin access required")
	}
	return c.Next()
}

// authenticateRequest accepts a bearer token or the auth cookie. The role
// comes from the stored user, not from the token.
func (handler *Handler) authenticateRequest(c *fiber.Ctx) (*models.User, error) {
	raw := bearerToken(c.Get(fiber.HeaderAuthorization))
	if raw == "" {
		raw = strings.TrimSpace(c.Cookies(authCookieName))
	}
	if raw == "" {
		return nil, errMissingToken
	}

	claims, err := security.ParseToken(handler.secretKey, raw)
	if err != nil {
		return nil, err
	}

	user, found, err := handler.users.FindByID(c.UserContext(), claims.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, security.ErrInvalidToken
	}
	return &user, nil
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func currentUser(c *fiber.Ctx) (*models.User, bool) {
	user, ok := c.Locals(contextUserKey).(*models.User)
	return user, ok && user != nil
}
