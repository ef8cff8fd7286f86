package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
	"github.com/terraincognita07/soberly/internal/security"
)

type TokenUserStore interface {
	FindByID(ctx context.Context, userID uint) (models.User, bool, error)
	FindByEmail(ctx context.Context, email string) (models.User, bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateRole(ctx context.Context, userID uint, role string) error
}

type issuedToken struct {
	UserID    uint      `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RunIssueTokenCommand signs an API token for an existing user id or for an
// email, creating the user when the email is unknown. -admin promotes the
// stored user since authorization reads the role from the database.
func RunIssueTokenCommand(ctx context.Context, users TokenUserStore, secret string, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	userID := flags.Uint("user", 0, "existing user id")
	email := flags.String("email", "", "user email, created when missing")
	admin := flags.Bool("admin", false, "grant the admin role")
	ttl := flags.Duration("ttl", security.DefaultTokenTTL, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("issue-token: %w", err)
	}
	if *ttl <= 0 {
		return errors.New("issue-token: -ttl must be positive")
	}
	if (*userID == 0) == (strings.TrimSpace(*email) == "") {
		return errors.New("issue-token: exactly one of -user or -email is required")
	}

	user, err := resolveTokenUser(ctx, users, *userID, *email)
	if err != nil {
		return fmt.Errorf("issue-token: %w", err)
	}
	if *admin && user.Role != models.RoleAdmin {
		if err := users.UpdateRole(ctx, user.ID, models.RoleAdmin); err != nil {
			return fmt.Errorf("issue-token: promote user: %w", err)
		}
		user.Role = models.RoleAdmin
	}

	token, err := security.IssueToken([]byte(secret), user.ID, user.Role, *ttl)
	if err != nil {
		return fmt.Errorf("issue-token: %w", err)
	}
	return writeJSON(out, issuedToken{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Token:     token,
		ExpiresAt: time.Now().Add(*ttl).UTC().Truncate(time.Second),
	})
}

func resolveTokenUser(ctx context.Context, users TokenUserStore, userID uint, email string) (models.User, error) {
	if userID != 0 {
		user, found, err := users.FindByID(ctx, userID)
		if err != nil {
			return models.User{}, fmt.Errorf("load user: %w", err)
		}
		if !found {
			return models.User{}, fmt.Errorf("user %d not found", userID)
		}
		return user, nil
	}

	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(normalizedEmail); err != nil {
		return models.User{}, fmt.Errorf("invalid email address: %w", err)
	}
	user, found, err := users.FindByEmail(ctx, normalizedEmail)
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	if found {
		return user, nil
	}

	user = models.User{Email: normalizedEmail, Role: models.RoleMember, Timezone: "UTC"}
	if err := users.Create(ctx, &user); err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
