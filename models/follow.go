package models

import (
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A Follow records one follow relationship. The follower side calls it
// a Leader ("whom I follow"); the leader side calls it a Follower ("who
// follows me"). Both views read the same rows.
type Follow struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	// FollowerAPID and LeaderAPID are the protocol ids of the two
	// actors; the *ID columns are their resolved local keys when known.
	FollowerAPID string `gorm:"column:follower_ap_id;size:255;not null;uniqueIndex:idx_follow_pair"`
	LeaderAPID   string `gorm:"column:leader_ap_id;size:255;not null;uniqueIndex:idx_follow_pair"`
	FollowerID   *snowflake.ID
	LeaderID     *snowflake.ID
	// FollowActivityAPID is the id of the Follow activity that created
	// this row; AcceptActivityAPID is set once the leader accepts.
	FollowActivityAPID string  `gorm:"column:follow_activity_ap_id;size:255;not null;uniqueIndex"`
	AcceptActivityAPID *string `gorm:"column:accept_activity_ap_id;size:255"`
	Accepted           bool    `gorm:"not null;default:false"`
}

type Follows struct {
	db *gorm.DB
}

func NewFollows(db *gorm.DB) *Follows {
	return &Follows{db: db}
}

// Save records a follow request. Saving the same follower/leader pair
// again updates the pending row rather than duplicating it.
func (f *Follows) Save(follow *Follow) error {
	return f.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "follower_ap_id"}, {Name: "leader_ap_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "follower_id", "leader_id", "follow_activity_ap_id",
		}),
	}).Create(follow).Error
}

// FindByFollowActivity locates the follow created by the given Follow
// activity id.
func (f *Follows) FindByFollowActivity(followActivityAPID string) (*Follow, error) {
	var follow []Follow
	if err := f.db.Where("follow_activity_ap_id = ?", followActivityAPID).Find(&follow).Error; err != nil {
		return nil, err
	}
	if len(follow) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &follow[0], nil
}

// Accept marks the follow accepted, recording the Accept activity that
// sealed it. Once accepted the relationship is terminal until undone.
func (f *Follows) Accept(followActivityAPID, acceptActivityAPID string) error {
	return f.db.Model(&Follow{}).
		Where("follow_activity_ap_id = ?", followActivityAPID).
		Updates(map[string]any{
			"accepted":              true,
			"accept_activity_ap_id": acceptActivityAPID,
		}).Error
}

// Reject removes the follow. A rejected follow is never re-accepted;
// the follower must start over.
func (f *Follows) Reject(followActivityAPID string) error {
	return f.db.Where("follow_activity_ap_id = ?", followActivityAPID).Delete(&Follow{}).Error
}

// Undo removes the follow at the follower's request.
func (f *Follows) Undo(followActivityAPID string) error {
	return f.db.Where("follow_activity_ap_id = ?", followActivityAPID).Delete(&Follow{}).Error
}

// Followers returns the accepted followers of the given actor.
func (f *Follows) Followers(leaderAPID string) ([]Follow, error) {
	var follows []Follow
	return follows, f.db.Where("leader_ap_id = ? AND accepted = ?", leaderAPID, true).Find(&follows).Error
}

// Leaders returns the actors the given actor follows, accepted only.
func (f *Follows) Leaders(followerAPID string) ([]Follow, error) {
	var follows []Follow
	return follows, f.db.Where("follower_ap_id = ? AND accepted = ?", followerAPID, true).Find(&follows).Error
}

// LeaderAPIDs returns the protocol ids of every actor the given actor
// follows. Used by the Home timeline address match.
func (f *Follows) LeaderAPIDs(followerAPID string) ([]string, error) {
	leaders, err := f.Leaders(followerAPID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(leaders))
	for _, l := range leaders {
		ids = append(ids, l.LeaderAPID)
	}
	return ids, nil
}

// FollowerInboxes resolves the inbox URL of every accepted follower of
// the given actor, preferring shared inboxes.
func (f *Follows) FollowerInboxes(leaderAPID string) ([]string, error) {
	var actors []Actor
	err := f.db.
		Joins("JOIN follows ON follows.follower_ap_id = actors.as_id").
		Where("follows.leader_ap_id = ? AND follows.accepted = ?", leaderAPID, true).
		Find(&actors).Error
	if err != nil {
		return nil, err
	}
	inboxes := make([]string, 0, len(actors))
	for _, a := range actors {
		if inbox := a.Inbox(); inbox != "" {
			inboxes = append(inboxes, inbox)
		}
	}
	return inboxes, nil
}
