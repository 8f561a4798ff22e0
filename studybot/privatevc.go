package studybot

import (
	"context"
	"errors"
	"fmt"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PrivateVC maps an ephemeral private voice channel to its owner. A row
// exists exactly as long as the channel is expected to exist in the guild;
// stale rows are reconciled by the ready-time sweep.
type PrivateVC struct {
	// ID is the Discord voice channel ID
	ID string `json:"id" gorm:"primaryKey"`

	// OwnerID is the Discord user ID the channel was created for
	OwnerID string `json:"owner_id" gorm:"column:owner_id;index"`
}

func (PrivateVC) TableName() string {
	return "privatevc"
}

// SetPrivateVC records (or replaces) the owner mapping for a channel.
func (d *database) SetPrivateVC(ctx context.Context, channelID string, ownerID string) error {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	err := d.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		},
	).Create(&PrivateVC{ID: channelID, OwnerID: ownerID}).Error
	if err != nil {
		return fmt.Errorf("error recording private vc %s: %w", channelID, err)
	}
	return nil
}

// IsPrivateVC reports whether a channel is a tracked private VC.
func (d *database) IsPrivateVC(ctx context.Context, channelID string) (bool, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var count int64
	err := d.db.WithContext(ctx).Model(&PrivateVC{}).Where(
		"id = ?",
		channelID,
	).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("error checking private vc %s: %w", channelID, err)
	}
	return count > 0, nil
}

// PrivateVCOwner returns the owner of a tracked channel, or an empty
// string when the channel isn't tracked.
func (d *database) PrivateVCOwner(ctx context.Context, channelID string) (string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var vc PrivateVC
	err := d.db.WithContext(ctx).Where("id = ?", channelID).Last(&vc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("error fetching private vc %s: %w", channelID, err)
	}
	return vc.OwnerID, nil
}

// DeletePrivateVC removes the owner mapping for a channel. Removing an
// untracked channel is a no-op.
func (d *database) DeletePrivateVC(ctx context.Context, channelID string) error {
	_, err := d.Delete(ctx, &PrivateVC{}, "id = ?", channelID)
	if err != nil {
		return fmt.Errorf("error deleting private vc %s: %w", channelID, err)
	}
	return nil
}

// PrivateVCByOwner returns the channel mapping owned by a user, or nil
// when they have none.
func (d *database) PrivateVCByOwner(ctx context.Context, ownerID string) (*PrivateVC, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var vc PrivateVC
	err := d.db.WithContext(ctx).Where("owner_id = ?", ownerID).Last(&vc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error fetching private vc for owner %s: %w", ownerID, err)
	}
	return &vc, nil
}

// AllPrivateVCs returns every tracked channel mapping.
func (d *database) AllPrivateVCs(ctx context.Context) ([]PrivateVC, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var vcs []PrivateVC
	if err := d.db.WithContext(ctx).Find(&vcs).Error; err != nil {
		return nil, fmt.Errorf("error listing private vcs: %w", err)
	}
	return vcs, nil
}

// sweepPrivateVCs reconciles tracked private voice channels against the
// guild. Channels that no longer resolve lose their mapping; channels with
// no members are deleted along with their mapping; occupied channels are
// left alone. Per-item failures are logged and the sweep continues, so a
// partial sweep converges on the next run. Channel deletions are paced to
// stay under Discord rate limits.
func (b *StudyBot) sweepPrivateVCs(ctx context.Context) error {
	logger := b.logger.With(loggerNameKey, "vc_sweep")

	vcs, err := b.writeDB.AllPrivateVCs(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "error listing private vcs", tint.Err(err))
		return err
	}
	if len(vcs) == 0 {
		logger.InfoContext(ctx, "no private vcs to sweep")
		return nil
	}

	perSecond := b.config.Discord.SweepDeletesPerSecond
	if perSecond <= 0 {
		perSecond = DefaultSweepDeletesPerSecond
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)

	logger.InfoContext(ctx, "starting private vc sweep", "tracked", len(vcs))
	for _, vc := range vcs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vcLogger := logger.With("channel_id", vc.ID, "owner_id", vc.OwnerID)

		if _, err = b.discord.session.Channel(vc.ID); err != nil {
			vcLogger.InfoContext(
				ctx,
				"channel no longer resolves, removing mapping",
				tint.Err(err),
			)
			if delErr := b.writeDB.DeletePrivateVC(ctx, vc.ID); delErr != nil {
				vcLogger.ErrorContext(ctx, "error removing mapping", tint.Err(delErr))
			}
			continue
		}

		members, err := b.discord.session.VoiceChannelMemberCount(
			b.config.Discord.GuildID,
			vc.ID,
		)
		if err != nil {
			vcLogger.ErrorContext(ctx, "error counting voice members", tint.Err(err))
			continue
		}
		if members > 0 {
			vcLogger.DebugContext(ctx, "channel occupied, leaving alone", "members", members)
			continue
		}

		if err = limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err = b.discord.session.ChannelDelete(vc.ID); err != nil {
			// keep the mapping so the next sweep retries the delete
			vcLogger.ErrorContext(ctx, "error deleting empty channel", tint.Err(err))
			continue
		}
		vcLogger.InfoContext(ctx, "deleted empty private vc")
		if err = b.writeDB.DeletePrivateVC(ctx, vc.ID); err != nil {
			vcLogger.ErrorContext(ctx, "error removing mapping", tint.Err(err))
		}
	}
	logger.InfoContext(ctx, "private vc sweep finished")
	return nil
}
