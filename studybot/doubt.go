package studybot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DoubtStatus is the lifecycle state of a [Doubt].
type DoubtStatus string

const (
	DoubtStatusOpen   DoubtStatus = "open"
	DoubtStatusSolved DoubtStatus = "solved"
)

var (
	columnDoubtDescription     = "description"
	columnDoubtStatus          = "status"
	columnDoubtSolvedBy        = "solved_by"
	columnDoubtSolvedAt        = "solved_at"
	columnDoubtSolvedMessageID = "solved_message_id"
	columnDoubtSolvedChannelID = "solved_channel_id"
)

// Doubt is a question asked by a community member. Solving stamps the
// solved_* columns; undoing a solve clears them and reopens the doubt.
//
//nolint:lll // struct tags can't be split
type Doubt struct {
	// ID is a generated 5-character identifier (two uppercase letters,
	// three digits)
	ID string `json:"id" gorm:"primaryKey"`

	// Author is the Discord user ID of the asker
	Author string `json:"author" gorm:"type:string;index"`

	Description string `json:"description" gorm:"type:string"`

	// Image is an optional attachment URL
	Image *string `json:"image,omitempty" gorm:"type:string"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime"`

	// MessageID and ChannelID locate the posted question
	MessageID string `json:"message_id" gorm:"column:message_id"`
	ChannelID string `json:"channel_id" gorm:"column:channel_id"`

	Subject string `json:"subject" gorm:"type:string;index"`
	Grade   string `json:"grade" gorm:"type:string;index"`

	Status DoubtStatus `json:"status" gorm:"type:string;index"`

	SolvedBy        *string `json:"solved_by,omitempty" gorm:"column:solved_by"`
	SolvedAt        *int64  `json:"solved_at,omitempty" gorm:"column:solved_at"`
	SolvedMessageID *string `json:"solved_message_id,omitempty" gorm:"column:solved_message_id"`
	SolvedChannelID *string `json:"solved_channel_id,omitempty" gorm:"column:solved_channel_id"`
}

func (Doubt) TableName() string {
	return "doubts"
}

func (d *Doubt) String() string {
	return fmt.Sprintf("%s [%s] (%s)", truncate(d.Description, 40), d.ID, d.Status)
}

// AddDoubt stores a new open doubt, generating a fresh short ID. Returns
// the assigned ID.
func (d *database) AddDoubt(ctx context.Context, doubt *Doubt) (string, error) {
	doubt.Status = DoubtStatusOpen
	if doubt.Image != nil && *doubt.Image == "" {
		doubt.Image = nil
	}
	id, err := d.createWithShortID(
		ctx, doubt, func(id string) {
			doubt.ID = id
		},
	)
	if err != nil {
		return "", fmt.Errorf("error adding doubt: %w", err)
	}
	return id, nil
}

// GetDoubt returns the doubt with the given ID, or nil when absent.
func (d *database) GetDoubt(ctx context.Context, doubtID string) (*Doubt, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var doubt Doubt
	err := d.db.WithContext(ctx).Where("id = ?", doubtID).Last(&doubt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching doubt %s: %w", doubtID, err)
	}
	return &doubt, nil
}

// EditDoubtDescription replaces a doubt's description. Reports false when
// the doubt doesn't exist.
func (d *database) EditDoubtDescription(
	ctx context.Context,
	doubtID string,
	description string,
) (bool, error) {
	rows, err := d.UpdatesWhere(
		ctx,
		&Doubt{},
		map[string]any{columnDoubtDescription: description},
		"id = ?",
		doubtID,
	)
	if err != nil {
		return false, fmt.Errorf("error editing doubt %s: %w", doubtID, err)
	}
	return rows > 0, nil
}

// DeleteDoubt removes a doubt entirely. Unlike resources, doubts are hard
// deleted. Reports false when the doubt doesn't exist.
func (d *database) DeleteDoubt(ctx context.Context, doubtID string) (bool, error) {
	rows, err := d.Delete(ctx, &Doubt{}, "id = ?", doubtID)
	if err != nil {
		return false, fmt.Errorf("error deleting doubt %s: %w", doubtID, err)
	}
	return rows > 0, nil
}

// MarkDoubtSolved stamps the solved_* columns and flips status to solved.
// Reports false when the doubt doesn't exist or is already solved.
func (d *database) MarkDoubtSolved(
	ctx context.Context,
	doubtID string,
	solverID string,
	messageID string,
	channelID string,
) (bool, error) {
	now := time.Now().UTC().Unix()
	rows, err := d.UpdatesWhere(
		ctx,
		&Doubt{},
		map[string]any{
			columnDoubtStatus:          DoubtStatusSolved,
			columnDoubtSolvedBy:        solverID,
			columnDoubtSolvedAt:        now,
			columnDoubtSolvedMessageID: messageID,
			columnDoubtSolvedChannelID: channelID,
		},
		"id = ? AND status = ?",
		doubtID,
		DoubtStatusOpen,
	)
	if err != nil {
		return false, fmt.Errorf("error solving doubt %s: %w", doubtID, err)
	}
	return rows > 0, nil
}

// UndoSolveDoubt clears the solved_* columns and reopens the doubt.
// Reports false when the doubt doesn't exist or isn't solved.
func (d *database) UndoSolveDoubt(ctx context.Context, doubtID string) (bool, error) {
	rows, err := d.UpdatesWhere(
		ctx,
		&Doubt{},
		map[string]any{
			columnDoubtStatus:          DoubtStatusOpen,
			columnDoubtSolvedBy:        nil,
			columnDoubtSolvedAt:        nil,
			columnDoubtSolvedMessageID: nil,
			columnDoubtSolvedChannelID: nil,
		},
		"id = ? AND status = ?",
		doubtID,
		DoubtStatusSolved,
	)
	if err != nil {
		return false, fmt.Errorf("error reopening doubt %s: %w", doubtID, err)
	}
	return rows > 0, nil
}

// LastDoubtAsked returns the created_at of the author's most recent doubt,
// or 0 when they've never asked one.
func (d *database) LastDoubtAsked(ctx context.Context, authorID string) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var doubt Doubt
	err := d.db.WithContext(ctx).Where(
		"author = ?",
		authorID,
	).Order("created_at desc").First(&doubt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("error fetching last doubt for %s: %w", authorID, err)
	}
	return doubt.CreatedAt, nil
}

// CheckCooldown reports whether the author is still inside the ask
// cooldown window.
func (d *database) CheckCooldown(
	ctx context.Context,
	authorID string,
	window time.Duration,
) (bool, error) {
	last, err := d.LastDoubtAsked(ctx, authorID)
	if err != nil {
		return false, err
	}
	if last == 0 {
		return false, nil
	}
	return time.Since(time.Unix(last, 0)) < window, nil
}

// SearchDoubts filters doubts by subject, grade and a description keyword.
// Empty filter values match everything.
func (d *database) SearchDoubts(
	ctx context.Context,
	subject string,
	grade string,
	keyword string,
) ([]Doubt, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	q := d.db.WithContext(ctx).Model(&Doubt{})
	if subject != "" {
		q = q.Where("subject = ?", subject)
	}
	if grade != "" {
		q = q.Where("grade = ?", grade)
	}
	if keyword != "" {
		q = q.Where("description LIKE ?", "%"+keyword+"%")
	}
	var doubts []Doubt
	if err := q.Order("created_at desc").Find(&doubts).Error; err != nil {
		return nil, fmt.Errorf("error searching doubts: %w", err)
	}
	return doubts, nil
}

// DoubtsForArchive returns solved doubts whose solve time predates
// `before` (epoch seconds), oldest first.
func (d *database) DoubtsForArchive(ctx context.Context, before int64) ([]Doubt, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var doubts []Doubt
	err := d.db.WithContext(ctx).Where(
		"status = ? AND solved_at < ?",
		DoubtStatusSolved,
		before,
	).Order("solved_at asc").Find(&doubts).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching doubts for archive: %w", err)
	}
	return doubts, nil
}

// UserDoubtCount counts every doubt an author has asked.
func (d *database) UserDoubtCount(ctx context.Context, authorID string) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&Doubt{}).Where(
		"author = ?",
		authorID,
	).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting doubts for %s: %w", authorID, err)
	}
	return count, nil
}
