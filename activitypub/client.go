package activitypub

import (
	"bytes"
	"context"
	stdcrypto "crypto"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/seren-social/seren/internal/crypto"
	"github.com/seren-social/seren/internal/httpsig"
	"github.com/seren-social/seren/models"
)

const activityContentType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// Client is a signing ActivityPub client. Every request it makes
// carries an HTTP signature in the name of the account it was created
// for.
type Client struct {
	keyID      string
	privateKey stdcrypto.PrivateKey
}

// NewClient returns a client signing as the given account. The account
// must have its Actor association populated.
func NewClient(signAs *models.Account) (*Client, error) {
	_, privateKey, err := crypto.ParseRSAPrivateKey(signAs.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Client{
		keyID:      signAs.Actor.PublicKeyID(),
		privateKey: privateKey,
	}, nil
}

// RoundTrip signs the request and hands it to the default transport,
// which lets the client double as an http.RoundTripper for callers
// that need raw responses, like the media downloader.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := httpsig.Sign(req, c.keyID, c.privateKey, nil); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// Get fetches the ActivityPub resource at the given URL.
func (c *Client) Get(ctx context.Context, uri string) (map[string]any, error) {
	var obj map[string]any
	err := requests.URL(uri).
		Accept(activityContentType).
		Transport(c).
		CheckContentType(
			"application/ld+json",
			"application/activity+json",
			"application/json",
			"application/octet-stream", // sigh
		).
		CheckStatus(http.StatusOK).
		ToJSON(&obj).
		Fetch(ctx)
	return obj, err
}

// GetAny fetches the resource at the given URL accepting whatever the
// server wants to serve. Used for link previews, where the target is an
// ordinary web page.
func (c *Client) GetAny(ctx context.Context, uri string) ([]byte, error) {
	var buf bytes.Buffer
	err := requests.URL(uri).
		Accept("*/*").
		Transport(c).
		CheckStatus(http.StatusOK).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	return buf.Bytes(), err
}

// Post delivers the given signed payload to the inbox, recording the
// full exchange in the returned result. The result is populated even
// when the delivery fails.
func (c *Client) Post(ctx context.Context, inbox string, body []byte) models.DeliveryResult {
	result := models.DeliveryResult{
		Inbox:   inbox,
		Request: string(body),
	}
	err := requests.URL(inbox).
		Header("Content-Type", activityContentType).
		BodyBytes(body).
		Transport(requests.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			if err := httpsig.Sign(req, c.keyID, c.privateKey, body); err != nil {
				return nil, fmt.Errorf("failed to sign request: %w", err)
			}
			return http.DefaultTransport.RoundTrip(req)
		})).
		AddValidator(func(res *http.Response) error {
			result.StatusCode = res.StatusCode
			b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			result.Response = strings.TrimSpace(string(b))
			if res.StatusCode < 200 || res.StatusCode > 299 {
				return fmt.Errorf("unexpected status %d", res.StatusCode)
			}
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		result.Error = err.Error()
	}
	return result
}
