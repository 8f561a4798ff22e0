package studybot

import (
	"context"
	"fmt"
)

// Review is a single rating (with optional comment) left on a resource.
// There is no storage-level uniqueness on (resource, reviewer); callers use
// HasRated as a pre-check when one review per user is wanted.
//
//nolint:lll // struct tags can't be split
type Review struct {
	ID uint `json:"id" gorm:"primaryKey"`

	ResourceID string   `json:"resource_id" gorm:"index;type:string"`
	Resource   Resource `json:"-" gorm:"foreignKey:ResourceID;constraint:OnDelete:CASCADE"`

	// Reviewer is the Discord user ID of the rating author
	Reviewer string `json:"reviewer" gorm:"type:string;index"`

	// Rating is clamped into [1, 5] before storage
	Rating int `json:"rating"`

	Comment *string `json:"comment,omitempty" gorm:"type:string"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime"`
}

func (Review) TableName() string {
	return "reviews"
}

// AverageRating computes the arithmetic mean of a resource's ratings in Go
// over the fetched rows. rated is false when the resource has no reviews;
// avg is meaningless in that case.
func (d *database) AverageRating(
	ctx context.Context,
	resourceID string,
) (avg float64, rated bool, err error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var ratings []int
	err = d.db.WithContext(ctx).Model(&Review{}).Where(
		"resource_id = ?",
		resourceID,
	).Pluck("rating", &ratings).Error
	if err != nil {
		return 0, false, fmt.Errorf(
			"error fetching ratings for resource %s: %w",
			resourceID, err,
		)
	}
	return meanRating(ratings)
}

// AverageRatingByUser averages the ratings received across every resource a
// user has submitted, joined through resource ownership. Same unrated
// sentinel as [database.AverageRating].
func (d *database) AverageRatingByUser(
	ctx context.Context,
	userID string,
) (avg float64, rated bool, err error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var ratings []int
	err = d.db.WithContext(ctx).Model(&Review{}).Joins(
		"JOIN resources ON resources.id = reviews.resource_id",
	).Where("resources.author = ?", userID).Pluck("reviews.rating", &ratings).Error
	if err != nil {
		return 0, false, fmt.Errorf(
			"error fetching ratings for user %s: %w",
			userID, err,
		)
	}
	return meanRating(ratings)
}

func meanRating(ratings []int) (float64, bool, error) {
	if len(ratings) == 0 {
		return 0, false, nil
	}
	var total int
	for _, r := range ratings {
		total += r
	}
	return float64(total) / float64(len(ratings)), true, nil
}

// HasRated reports whether a user has already reviewed a resource.
func (d *database) HasRated(
	ctx context.Context,
	resourceID string,
	reviewerID string,
) (bool, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&Review{}).Where(
		"resource_id = ? AND reviewer = ?",
		resourceID,
		reviewerID,
	).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf(
			"error checking review for resource %s by %s: %w",
			resourceID, reviewerID, err,
		)
	}
	return count > 0, nil
}

// RateResource stores a review, clamping the rating into [1, 5]. Reports
// false without error when the resource doesn't exist.
func (d *database) RateResource(
	ctx context.Context,
	resourceID string,
	reviewerID string,
	rating int,
	comment string,
) (bool, error) {
	resource, err := d.GetResource(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if resource == nil {
		return false, nil
	}

	review := Review{
		ResourceID: resourceID,
		Reviewer:   reviewerID,
		Rating:     clampRating(rating),
	}
	if comment != "" {
		review.Comment = &comment
	}
	if _, err = d.Create(ctx, &review, "Resource"); err != nil {
		return false, fmt.Errorf(
			"error rating resource %s by %s: %w",
			resourceID, reviewerID, err,
		)
	}
	return true, nil
}

// ReviewCountByUser counts the reviews a user has written.
func (d *database) ReviewCountByUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&Review{}).Where(
		"reviewer = ?",
		userID,
	).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting reviews by %s: %w", userID, err)
	}
	return count, nil
}
