// Package webfinger resolves acct: identifiers to ActivityPub actor ids.
package webfinger

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
)

type Webfinger struct {
	Subject string   `json:"subject"`
	Aliases []string `json:"aliases"`
	Links   []Link   `json:"links"`
}

// ActivityPub returns the actor id advertised by this webfinger document.
func (wf *Webfinger) ActivityPub() (string, error) {
	for _, link := range wf.Links {
		if link.Type == "application/activity+json" ||
			link.Type == `application/ld+json; profile="https://www.w3.org/ns/activitystreams"` {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no ActivityPub link found")
}

type Link struct {
	Rel      string `json:"rel"`
	Type     string `json:"type"`
	Href     string `json:"href"`
	Template string `json:"template"`
}

type Acct struct {
	User string
	Host string
}

// Parse parses an acct: identifier, with or without the scheme.
func Parse(acct string) (*Acct, error) {
	acct = strings.TrimPrefix(acct, "acct:")
	user, host, found := strings.Cut(acct, "@")
	if !found || user == "" || host == "" {
		return nil, fmt.Errorf("webfinger: invalid acct %q", acct)
	}
	return &Acct{User: user, Host: host}, nil
}

func (a *Acct) String() string {
	return "acct:" + a.User + "@" + a.Host
}

// Webfinger returns the URL for the webfinger resource for this Acct.
func (a *Acct) Webfinger() string {
	return "https://" + a.Host + "/.well-known/webfinger?resource=" + url.QueryEscape(a.String())
}

// ID returns the actor id for this Acct on its host.
func (a *Acct) ID() string {
	return "https://" + a.Host + "/users/" + a.User
}

// Followers returns the URL for the followers collection for this Acct.
func (a *Acct) Followers() string {
	return a.ID() + "/followers"
}

// Following returns the URL for the following collection for this Acct.
func (a *Acct) Following() string {
	return a.ID() + "/following"
}

// Inbox returns the URL for the inbox for this Acct.
func (a *Acct) Inbox() string {
	return a.ID() + "/inbox"
}

// Outbox returns the URL for the outbox for this Acct.
func (a *Acct) Outbox() string {
	return a.ID() + "/outbox"
}

// Fetch retrieves the webfinger document for this Acct.
func (a *Acct) Fetch(ctx context.Context) (*Webfinger, error) {
	var wf Webfinger
	err := requests.URL(a.Webfinger()).
		Accept("application/jrd+json").
		ToJSON(&wf).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}
