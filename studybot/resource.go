package studybot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

// ResourceStatus is the lifecycle state of a [Resource].
type ResourceStatus string

const (
	ResourceStatusPending ResourceStatus = "pending"
	ResourceStatusActive  ResourceStatus = "active"
	ResourceStatusDeleted ResourceStatus = "deleted"
)

var (
	columnResourceStatus        = "status"
	columnResourceStaffActionAt = "staff_action_at"
	columnResourceStaffActionBy = "staff_action_by"
	columnResourceTitle         = "title"
	columnResourceTag           = "tag"
	columnResourceDescription   = "description"
	columnResourceURL           = "url"
	columnResourceAuthor        = "author"
)

// Resource is a community-submitted learning resource. Submissions start
// pending and become active or deleted through staff review; rows are never
// hard-deleted, so review history stays attached.
//
//nolint:lll // struct tags can't be split
type Resource struct {
	// ID is a generated 5-character identifier (two uppercase letters,
	// three digits)
	ID string `json:"id" gorm:"primaryKey"`

	Title string `json:"title" gorm:"type:string"`

	// Tag is the subject/category the resource is filed under
	Tag string `json:"tag" gorm:"type:string"`

	URL string `json:"url" gorm:"column:url"`

	Description *string `json:"description,omitempty" gorm:"type:string"`

	// Author is the Discord user ID of the submitter
	Author string `json:"author" gorm:"type:string;index"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime"`

	// StaffActionAt and StaffActionBy record the most recent staff
	// decision (approve, decline or delete), stamped in the same update
	// as the status change
	StaffActionAt *int64  `json:"staff_action_at,omitempty" gorm:"column:staff_action_at"`
	StaffActionBy *string `json:"staff_action_by,omitempty" gorm:"column:staff_action_by"`

	Status ResourceStatus `json:"status" gorm:"type:string;index"`
}

func (Resource) TableName() string {
	return "resources"
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s [%s] (%s)", r.Title, r.ID, r.Status)
}

// GetResource returns the resource with the given ID, or nil when absent.
func (d *database) GetResource(ctx context.Context, resourceID string) (*Resource, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var resource Resource
	err := d.db.WithContext(ctx).Where("id = ?", resourceID).Last(&resource).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching resource %s: %w", resourceID, err)
	}
	return &resource, nil
}

// ServeResources returns autocomplete choices for active resources under
// the given tag, fuzzy-filtered by the user's partial input and capped at
// the Discord autocomplete limit.
func (d *database) ServeResources(
	ctx context.Context,
	tag string,
	search string,
) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var resources []Resource
	q := d.db.WithContext(ctx).Where("status = ?", ResourceStatusActive)
	if tag != "" {
		q = q.Where("tag = ?", tag)
	}
	if err := q.Order("created_at desc").Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("error listing resources: %w", err)
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(resources))
	for _, r := range resources {
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  truncate(r.Title, 100),
				Value: r.ID,
			},
		)
	}
	return filterChoices(choices, search, DefaultAutocompleteResultCap), nil
}

// AddTemporaryResource stores a pending submission, generating a fresh
// short ID. An empty description is stored as NULL. Returns the assigned ID.
func (d *database) AddTemporaryResource(
	ctx context.Context,
	resource *Resource,
) (string, error) {
	resource.Status = ResourceStatusPending
	if resource.Description != nil && *resource.Description == "" {
		resource.Description = nil
	}
	id, err := d.createWithShortID(
		ctx, resource, func(id string) {
			resource.ID = id
		},
	)
	if err != nil {
		return "", fmt.Errorf("error adding resource: %w", err)
	}
	return id, nil
}

// setResourceStatus is the guarded status transition shared by approve,
// decline and delete: absent resource reports false, otherwise a single
// update stamps the status and both staff audit columns.
func (d *database) setResourceStatus(
	ctx context.Context,
	resourceID string,
	staffID string,
	status ResourceStatus,
) (bool, error) {
	existing, err := d.GetResource(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	now := time.Now().UTC().Unix()
	_, err = d.UpdatesWhere(
		ctx,
		&Resource{},
		map[string]any{
			columnResourceStatus:        status,
			columnResourceStaffActionAt: now,
			columnResourceStaffActionBy: staffID,
		},
		"id = ?",
		resourceID,
	)
	if err != nil {
		return false, fmt.Errorf(
			"error setting resource %s status to %s: %w",
			resourceID, status, err,
		)
	}
	return true, nil
}

// ApproveTemporaryResource marks a pending resource active.
func (d *database) ApproveTemporaryResource(
	ctx context.Context,
	resourceID string,
	staffID string,
) (bool, error) {
	return d.setResourceStatus(ctx, resourceID, staffID, ResourceStatusActive)
}

// DeclineTemporaryResource marks a pending resource deleted.
func (d *database) DeclineTemporaryResource(
	ctx context.Context,
	resourceID string,
	staffID string,
) (bool, error) {
	return d.setResourceStatus(ctx, resourceID, staffID, ResourceStatusDeleted)
}

// DeleteResource soft-deletes a resource, keeping the row and its reviews.
func (d *database) DeleteResource(
	ctx context.Context,
	resourceID string,
	staffID string,
) (bool, error) {
	return d.setResourceStatus(ctx, resourceID, staffID, ResourceStatusDeleted)
}

// editResourceColumn is the guarded single-column edit: false when the
// resource doesn't exist. Edits are moderation acts, so the same statement
// stamps both staff audit columns.
func (d *database) editResourceColumn(
	ctx context.Context,
	resourceID string,
	staffID string,
	column string,
	value any,
) (bool, error) {
	existing, err := d.GetResource(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	now := time.Now().UTC().Unix()
	_, err = d.UpdatesWhere(
		ctx,
		&Resource{},
		map[string]any{
			column:                      value,
			columnResourceStaffActionAt: now,
			columnResourceStaffActionBy: staffID,
		},
		"id = ?",
		resourceID,
	)
	if err != nil {
		return false, fmt.Errorf(
			"error updating resource %s column %s: %w",
			resourceID, column, err,
		)
	}
	return true, nil
}

func (d *database) EditTitle(
	ctx context.Context,
	resourceID string,
	staffID string,
	title string,
) (bool, error) {
	return d.editResourceColumn(ctx, resourceID, staffID, columnResourceTitle, title)
}

func (d *database) EditTag(
	ctx context.Context,
	resourceID string,
	staffID string,
	tag string,
) (bool, error) {
	return d.editResourceColumn(ctx, resourceID, staffID, columnResourceTag, tag)
}

func (d *database) EditDescription(
	ctx context.Context,
	resourceID string,
	staffID string,
	description string,
) (bool, error) {
	var value any = description
	if description == "" {
		value = nil
	}
	return d.editResourceColumn(ctx, resourceID, staffID, columnResourceDescription, value)
}

func (d *database) EditURL(
	ctx context.Context,
	resourceID string,
	staffID string,
	url string,
) (bool, error) {
	return d.editResourceColumn(ctx, resourceID, staffID, columnResourceURL, url)
}

func (d *database) EditAuthor(
	ctx context.Context,
	resourceID string,
	staffID string,
	authorID string,
) (bool, error) {
	return d.editResourceColumn(ctx, resourceID, staffID, columnResourceAuthor, authorID)
}

// ActiveResourceCountByUser counts a user's approved resources.
func (d *database) ActiveResourceCountByUser(
	ctx context.Context,
	userID string,
) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&Resource{}).Where(
		"author = ? AND status = ?",
		userID,
		ResourceStatusActive,
	).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting active resources for %s: %w", userID, err)
	}
	return count, nil
}

// TotalResourceCountByUser counts every submission by a user, in any state.
func (d *database) TotalResourceCountByUser(
	ctx context.Context,
	userID string,
) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&Resource{}).Where(
		"author = ?",
		userID,
	).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting resources for %s: %w", userID, err)
	}
	return count, nil
}

// CheckDuplicate reports whether a non-deleted resource already exists with
// the given value in the given field (title or url).
func (d *database) CheckDuplicate(
	ctx context.Context,
	field string,
	value string,
) (bool, error) {
	switch field {
	case columnResourceTitle, columnResourceURL:
	//
	default:
		return false, fmt.Errorf("unsupported duplicate check field: %s", field)
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&Resource{}).Where(
		fmt.Sprintf("%s = ? AND status != ?", field),
		value,
		ResourceStatusDeleted,
	).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("error checking duplicate %s: %w", field, err)
	}
	return count > 0, nil
}
