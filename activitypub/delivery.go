package activitypub

import (
	"context"
	"net/url"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/seren-social/seren/internal/algorithms"
	"github.com/seren-social/seren/internal/group"
	"github.com/seren-social/seren/models"
)

// A Deliverer fans an activity out to the inboxes its address set
// resolves to. Deliveries are attempted once; the outcome, success or
// not, is appended to the activity's log and never retried.
type Deliverer struct {
	env    *Env
	signAs *models.Account
}

func NewDeliverer(env *Env, signAs *models.Account) *Deliverer {
	return &Deliverer{env: env, signAs: signAs}
}

// Deliver resolves the activity's audience and posts the payload to
// every inbox concurrently.
func (d *Deliverer) Deliver(ctx context.Context, activity *models.Activity) error {
	inboxes, err := d.Inboxes(ctx, activity)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		// an empty audience is not an error; there is just no one to tell
		return nil
	}

	body, err := json.Marshal(activity.Raw)
	if err != nil {
		return err
	}
	client, err := NewClient(d.signAs)
	if err != nil {
		return err
	}

	results := make([]models.DeliveryResult, len(inboxes))
	g := group.New(ctx)
	for idx, inbox := range inboxes {
		idx, inbox := idx, inbox
		g.AddContext(func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			results[idx] = client.Post(ctx, inbox, body)
			// a failed inbox is recorded, not fatal to its siblings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, result := range results {
		if result.Error != "" {
			d.env.Log().Warn("delivery failed", "inbox", result.Inbox, "status", result.StatusCode, "err", result.Error)
		} else if u, err := url.Parse(result.Inbox); err == nil {
			if err := models.NewInstances(d.env.DB).Touch(u.Host); err != nil {
				d.env.Log().Warn("instance touch", "domain", u.Host, "err", err)
			}
		}
	}

	return models.NewActivities(d.env.DB).AppendLog(activity.ID, models.DeliveryOutcome{
		Time:    time.Now(),
		Results: results,
	})
}

// Inboxes resolves the activity's address set to concrete inbox URLs:
// the Public address targets the shared inbox of every active instance,
// the sender's followers URL targets each accepted follower's inbox,
// and anything else is treated as an actor id. Duplicates collapse and
// blocked domains are skipped.
func (d *Deliverer) Inboxes(ctx context.Context, activity *models.Activity) ([]string, error) {
	var inboxes []string
	followersURL := d.signAs.Actor.FollowersURL

	for _, address := range algorithms.Uniq(activity.Addresses()) {
		switch address {
		case models.PublicAddress:
			shared, err := models.NewInstances(d.env.DB).ActiveSharedInboxes()
			if err != nil {
				return nil, err
			}
			inboxes = append(inboxes, shared...)
		case followersURL:
			followers, err := models.NewFollows(d.env.DB).FollowerInboxes(d.signAs.Actor.ASID)
			if err != nil {
				return nil, err
			}
			inboxes = append(inboxes, followers...)
		case d.signAs.Actor.ASID:
			// no point delivering to ourselves
		default:
			retriever, err := d.env.Retriever()
			if err != nil {
				return nil, err
			}
			actor, err := retriever.Actor(ctx, address)
			if err != nil {
				d.env.Log().Warn("audience resolution", "address", address, "err", err)
				continue
			}
			if inbox := actor.Inbox(); inbox != "" {
				inboxes = append(inboxes, inbox)
			}
		}
	}

	return algorithms.Filter(algorithms.Uniq(inboxes), d.deliverable), nil
}

// deliverable rejects inboxes on blocked domains and on our own.
func (d *Deliverer) deliverable(inbox string) bool {
	u, err := url.Parse(inbox)
	if err != nil {
		return false
	}
	if u.Host == d.env.Domain {
		return false
	}
	return !d.env.Blocklist.Blocked(u.Host)
}
