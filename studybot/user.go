package studybot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	columnUserSupportPoints   = "supportpoints"
	columnUserLastActive      = "last_active"
	columnUserBookmark        = "bookmark"
	columnUserPronouns        = "pronouns"
	columnUserLockedStudyMode = "locked_studymode"
)

// User is a record of a Discord user and their community state. Rows are
// created on first interaction and mutated additively by point awards.
//
//nolint:lll // struct tags can't be split
type User struct {
	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey;type:string"`

	// SupportPoints is the user's accumulated helpfulness score
	SupportPoints int `json:"supportpoints" gorm:"column:supportpoints;default:0"`

	// LastActive is the last time a message from this user was seen,
	// as epoch seconds
	LastActive int64 `json:"last_active" gorm:"column:last_active"`

	// Bookmark holds the user's saved message reference as a JSON blob
	Bookmark datatypes.JSON `json:"bookmark,omitempty" gorm:"column:bookmark"`

	Pronouns *string `json:"pronouns,omitempty" gorm:"type:string"`

	// LockedStudyMode restricts the user to the study channel while set
	LockedStudyMode bool `json:"locked_studymode" gorm:"column:locked_studymode;default:false"`
}

func (u *User) String() string {
	return fmt.Sprintf("%s (%d points)", u.ID, u.SupportPoints)
}

// ensureUser fetches the row for userID, creating it if absent. The bool
// reports whether a new row was created.
func (d *database) ensureUser(ctx context.Context, userID string) (*User, bool, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Last(&user).Error
	if err == nil {
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("error fetching user %s: %w", userID, err)
	}

	user = User{
		ID:         userID,
		LastActive: time.Now().UTC().Unix(),
	}
	if _, err = d.Create(ctx, &user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// another writer beat us to it
			return d.ensureUser(ctx, userID)
		}
		return nil, false, fmt.Errorf("error creating user %s: %w", userID, err)
	}
	d.logger.InfoContext(ctx, "created new user", "user", &user)
	return &user, true, nil
}

// InitializeUser creates a row for the Discord user if one doesn't already
// exist. The bool reports whether a new row was created.
func (d *database) InitializeUser(ctx context.Context, u discordgo.User) (*User, bool, error) {
	return d.ensureUser(ctx, u.ID)
}

// GetSupportPoints returns a user's support point total. Unknown users
// have zero points.
func (d *database) GetSupportPoints(ctx context.Context, userID string) (int, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Last(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("error fetching points for %s: %w", userID, err)
	}
	return user.SupportPoints, nil
}

// AddSupportPoints adds points to a user's total, creating the user row
// first if needed. points may be negative.
func (d *database) AddSupportPoints(ctx context.Context, userID string, points int) error {
	if _, _, err := d.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := d.UpdatesWhere(
		ctx,
		&User{},
		map[string]any{
			columnUserSupportPoints: gorm.Expr("supportpoints + ?", points),
		},
		"id = ?",
		userID,
	)
	if err != nil {
		return fmt.Errorf("error adding %d points to %s: %w", points, userID, err)
	}
	return nil
}

// TopUsers returns up to limit users ordered by support points, highest
// first.
func (d *database) TopUsers(ctx context.Context, limit int) ([]User, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = DefaultTopUserCount
	}
	var users []User
	err := d.db.WithContext(ctx).Order("supportpoints desc").Limit(limit).Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching top users: %w", err)
	}
	return users, nil
}

// LeaderboardPosition returns the user's 1-based rank by support points,
// or 0 when the user has no row.
func (d *database) LeaderboardPosition(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Last(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("error fetching user %s: %w", userID, err)
	}

	var ahead int64
	err = d.db.WithContext(ctx).Model(&User{}).Where(
		"supportpoints > ?",
		user.SupportPoints,
	).Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("error ranking user %s: %w", userID, err)
	}
	return ahead + 1, nil
}

// TotalUsers counts every known user.
func (d *database) TotalUsers(ctx context.Context) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&User{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting users: %w", err)
	}
	return count, nil
}

// SetUserPronouns stores a user's pronouns; an empty string clears them.
func (d *database) SetUserPronouns(ctx context.Context, userID string, pronouns string) error {
	if _, _, err := d.ensureUser(ctx, userID); err != nil {
		return err
	}
	var value any = pronouns
	if pronouns == "" {
		value = nil
	}
	_, err := d.UpdatesWhere(
		ctx,
		&User{},
		map[string]any{columnUserPronouns: value},
		"id = ?",
		userID,
	)
	if err != nil {
		return fmt.Errorf("error setting pronouns for %s: %w", userID, err)
	}
	return nil
}

// UserPronouns returns a user's pronouns, or an empty string when unset.
func (d *database) UserPronouns(ctx context.Context, userID string) (string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Last(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("error fetching pronouns for %s: %w", userID, err)
	}
	return stringPointerValue(user.Pronouns), nil
}

func (d *database) setStudyMode(ctx context.Context, userID string, locked bool) error {
	if _, _, err := d.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := d.UpdatesWhere(
		ctx,
		&User{},
		map[string]any{columnUserLockedStudyMode: locked},
		"id = ?",
		userID,
	)
	if err != nil {
		return fmt.Errorf(
			"error setting study mode for %s to %t: %w",
			userID, locked, err,
		)
	}
	return nil
}

// LockStudyMode restricts the user to the study channel.
func (d *database) LockStudyMode(ctx context.Context, userID string) error {
	return d.setStudyMode(ctx, userID, true)
}

// UnlockStudyMode lifts the study channel restriction.
func (d *database) UnlockStudyMode(ctx context.Context, userID string) error {
	return d.setStudyMode(ctx, userID, false)
}

// IsStudyModeLocked reports whether the user is locked into study mode.
// Unknown users are unlocked.
func (d *database) IsStudyModeLocked(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Last(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error fetching study mode for %s: %w", userID, err)
	}
	return user.LockedStudyMode, nil
}

// TouchLastActive stamps the user's last_active column with the current
// time, creating the row if needed.
func (d *database) TouchLastActive(ctx context.Context, userID string) error {
	if _, _, err := d.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := d.UpdatesWhere(
		ctx,
		&User{},
		map[string]any{columnUserLastActive: time.Now().UTC().Unix()},
		"id = ?",
		userID,
	)
	if err != nil {
		return fmt.Errorf("error touching last_active for %s: %w", userID, err)
	}
	return nil
}

// SetBookmark stores the user's bookmark blob, replacing any previous one.
func (d *database) SetBookmark(
	ctx context.Context,
	userID string,
	bookmark datatypes.JSON,
) error {
	if _, _, err := d.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := d.UpdatesWhere(
		ctx,
		&User{},
		map[string]any{columnUserBookmark: bookmark},
		"id = ?",
		userID,
	)
	if err != nil {
		return fmt.Errorf("error setting bookmark for %s: %w", userID, err)
	}
	return nil
}

// Bookmark returns the user's saved bookmark blob, or nil when unset.
func (d *database) Bookmark(ctx context.Context, userID string) (datatypes.JSON, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Last(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching bookmark for %s: %w", userID, err)
	}
	return user.Bookmark, nil
}
