package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/seren-social/seren/models"
	"golang.org/x/net/html"
	"gorm.io/gorm"
)

// fetchTimeout bounds a single remote document fetch. Media downloads
// run much longer; see the media package.
const fetchTimeout = 5 * time.Second

// A Retriever resolves remote actors and objects: local row first, a
// signed fetch when the row is missing or stale, and best-effort
// caching of any media the fetched document references.
type Retriever struct {
	env    *Env
	signAs *models.Account
	client *Client
}

// Retriever returns a retriever signing as the instance's service
// account, which is the oldest local account.
func (e *Env) Retriever() (*Retriever, error) {
	var account models.Account
	err := e.DB.Joins("Actor").Where("Actor.local = ?", true).
		Order("accounts.id").First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("no local account to sign as: %w", err)
	}
	return e.RetrieverAs(&account)
}

// RetrieverAs returns a retriever signing as the given account.
func (e *Env) RetrieverAs(signAs *models.Account) (*Retriever, error) {
	client, err := NewClient(signAs)
	if err != nil {
		return nil, err
	}
	return &Retriever{env: e, signAs: signAs, client: client}, nil
}

// Actor returns the actor with the given protocol id, fetching it from
// its home instance when it is unknown or stale. A stale row is
// returned as-is if the refresh fails.
func (r *Retriever) Actor(ctx context.Context, uri string) (*models.Actor, error) {
	if err := r.checkBlocked(uri); err != nil {
		return nil, err
	}

	existing, err := models.NewActors(r.env.DB).FindByASID(uri)
	if err == nil && !existing.IsStale() {
		return existing, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fetched, fetchErr := r.fetchActor(ctx, uri)
	if fetchErr != nil {
		if existing != nil {
			// stale is better than nothing
			r.env.Log().Warn("actor refresh failed", "uri", uri, "err", fetchErr)
			return existing, nil
		}
		return nil, fetchErr
	}
	if existing != nil {
		fetched.ID = existing.ID
	}
	if err := models.NewActors(r.env.DB).Save(fetched); err != nil {
		return nil, err
	}
	if err := models.NewActivities(r.env.DB).LinkActor(fetched); err != nil {
		return nil, err
	}

	r.cacheAll(ctx, fetched.AvatarURL, fetched.HeaderURL)
	return fetched, nil
}

func (r *Retriever) fetchActor(ctx context.Context, uri string) (*models.Actor, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	obj, err := r.client.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	actor, err := actorFromMap(obj)
	if err != nil {
		return nil, err
	}
	if actor.ASID != uri {
		return nil, fmt.Errorf("actor document id %q does not match %q", actor.ASID, uri)
	}
	return actor, nil
}

// Object returns the object with the given protocol id, fetching it
// when it is not stored locally. Objects never go stale; Update
// activities are the only path that changes them.
func (r *Retriever) Object(ctx context.Context, uri string) (*models.Object, error) {
	if err := r.checkBlocked(uri); err != nil {
		return nil, err
	}

	if existing, err := models.NewObjects(r.env.DB).FindByASID(uri); err == nil {
		return existing, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	raw, err := r.client.Get(fetchCtx, uri)
	cancel()
	if err != nil {
		return nil, err
	}

	typ := stringFromAny(raw["type"])
	switch typ {
	case "Note", "Article", "Question":
	default:
		return nil, fmt.Errorf("unsupported object type %q", typ)
	}

	obj := objectFromMap(raw)
	obj.Metadata = r.linkPreviews(ctx, obj.Content)
	if err := models.NewObjects(r.env.DB).Save(obj); err != nil {
		return nil, err
	}

	r.cacheObjectMedia(ctx, obj)
	return obj, nil
}

func (r *Retriever) checkBlocked(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return err
	}
	if r.env.Blocklist.Blocked(u.Host) {
		return fmt.Errorf("domain %s is blocked", u.Host)
	}
	return nil
}

// cacheObjectMedia caches every asset the object references:
// attachments, tag icons and any link preview images.
func (r *Retriever) cacheObjectMedia(ctx context.Context, obj *models.Object) {
	var urls []string
	for _, attachment := range obj.Attachments {
		urls = append(urls, attachment.URL)
	}
	for _, tag := range obj.Tags {
		urls = append(urls, tag.Icon.URL)
	}
	for _, preview := range obj.Metadata {
		if m, ok := preview.(map[string]any); ok {
			urls = append(urls, stringFromAny(m["image"]))
		}
	}
	r.cacheAll(ctx, urls...)
}

// cacheAll hands the URLs to the media downloader, best effort. A
// missing downloader or a failed download never fails the retrieval
// that triggered it.
func (r *Retriever) cacheAll(ctx context.Context, urls ...string) {
	if r.env.Media == nil {
		return
	}
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, err := r.env.Media.Cache(ctx, u); err != nil {
			r.env.Log().Warn("media cache", "url", u, "err", err)
		}
	}
}

// linkPreviews builds an opengraph preview for each external link in
// the content. Failures yield no preview, never an error.
func (r *Retriever) linkPreviews(ctx context.Context, content string) map[string]any {
	links := extractLinks(content)
	if len(links) == 0 {
		return nil
	}
	previews := make(map[string]any)
	for _, link := range links {
		if err := r.checkBlocked(link); err != nil {
			continue
		}
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		page, err := r.client.GetAny(fetchCtx, link)
		cancel()
		if err != nil {
			continue
		}
		if preview := parseOpenGraph(page); len(preview) > 0 {
			previews[link] = preview
		}
	}
	if len(previews) == 0 {
		return nil
	}
	return previews
}

// extractLinks returns the href of every anchor in the content that is
// not a mention or hashtag reference.
func extractLinks(content string) []string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			var href string
			skip := false
			for _, attr := range n.Attr {
				switch attr.Key {
				case "href":
					href = attr.Val
				case "class":
					// mastodon marks mentions and hashtags
					if strings.Contains(attr.Val, "mention") || strings.Contains(attr.Val, "hashtag") {
						skip = true
					}
				}
			}
			if !skip && strings.HasPrefix(href, "https://") {
				links = append(links, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// parseOpenGraph pulls the og: properties out of a web page's head.
func parseOpenGraph(page []byte) map[string]any {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil
	}
	preview := make(map[string]any)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var property, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "property":
					property = attr.Val
				case "content":
					content = attr.Val
				}
			}
			switch property {
			case "og:title":
				preview["title"] = content
			case "og:description":
				preview["description"] = content
			case "og:image":
				preview["image"] = content
			case "og:site_name":
				preview["site_name"] = content
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(preview) == 0 {
		return nil
	}
	return preview
}
