package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
)

type UserTimezoneFinder interface {
	FindByID(ctx context.Context, userID uint) (models.User, bool, error)
}

// UserClock resolves the calendar day a user is living in. A run stays
// active while its end is not before that day in the owner's timezone.
type UserClock struct {
	users    UserTimezoneFinder
	fallback *time.Location
}

func NewUserClock(users UserTimezoneFinder, fallback *time.Location) *UserClock {
	if fallback == nil {
		fallback = time.UTC
	}
	return &UserClock{users: users, fallback: fallback}
}

// Location returns the user's timezone. Unknown users and empty or
// unloadable zone names use the fallback location.
func (clock *UserClock) Location(ctx context.Context, userID uint) (*time.Location, error) {
	if clock == nil {
		return time.UTC, nil
	}
	if clock.users == nil {
		return clock.fallback, nil
	}
	user, found, err := clock.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user timezone: %w", err)
	}
	if !found {
		return clock.fallback, nil
	}
	return LocationOrDefault(user.Timezone, clock.fallback), nil
}

// Today returns the user's current civil day at now.
func (clock *UserClock) Today(ctx context.Context, userID uint, now time.Time) (time.Time, error) {
	location, err := clock.Location(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return CivilDay(now, location), nil
}

func LocationOrDefault(name string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return location
}
