package activitypub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"github.com/seren-social/seren/models"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Run("plain anchors are extracted", func(t *testing.T) {
		links := extractLinks(`<p>read <a href="https://example.org/post">this</a> and <a href="https://example.net/other">that</a></p>`)
		require.Equal(t, []string{"https://example.org/post", "https://example.net/other"}, links)
	})

	t.Run("mentions and hashtags are skipped", func(t *testing.T) {
		links := extractLinks(`<p><a href="https://remote.example/users/bob" class="u-url mention">@bob</a>` +
			` <a href="https://example.com/tags/golang" class="mention hashtag" rel="tag">#golang</a>` +
			` <a href="https://example.org/post">link</a></p>`)
		require.Equal(t, []string{"https://example.org/post"}, links)
	})

	t.Run("insecure links are skipped", func(t *testing.T) {
		links := extractLinks(`<a href="http://example.org/post">plain</a>`)
		require.Empty(t, links)
	})

	t.Run("bare text yields nothing", func(t *testing.T) {
		require.Empty(t, extractLinks("no links here"))
	})
}

func TestParseOpenGraph(t *testing.T) {
	t.Run("og properties are collected", func(t *testing.T) {
		require := require.New(t)
		preview := parseOpenGraph([]byte(`<html><head>
			<meta property="og:title" content="A title"/>
			<meta property="og:description" content="About a thing"/>
			<meta property="og:image" content="https://example.org/cover.png"/>
			<meta property="og:site_name" content="Example"/>
			<meta name="viewport" content="width=device-width"/>
		</head><body></body></html>`))
		require.Equal("A title", preview["title"])
		require.Equal("About a thing", preview["description"])
		require.Equal("https://example.org/cover.png", preview["image"])
		require.Equal("Example", preview["site_name"])
	})

	t.Run("a page without og tags yields nothing", func(t *testing.T) {
		require.Nil(t, parseOpenGraph([]byte(`<html><head><title>plain</title></head></html>`)))
	})
}

func TestRetrieverActor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("a fresh local row is served without fetching", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := testEnv(t, tx)

		mockAccount(t, tx, "alice", "example.com")
		bob := mockActor(t, tx, "bob", "remote.example", false)

		retriever, err := env.Retriever()
		require.NoError(err)
		got, err := retriever.Actor(ctx, bob.ASID)
		require.NoError(err)
		require.Equal(bob.ID, got.ID)
	})

	t.Run("a stale row survives a failed refresh", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := testEnv(t, tx)

		mockAccount(t, tx, "alice", "example.com")
		bob := mockActor(t, tx, "bob", "remote.example", false)
		require.NoError(tx.Model(bob).Update("updated_at", time.Now().Add(-10*24*time.Hour)).Error)

		retriever, err := env.Retriever()
		require.NoError(err)
		got, err := retriever.Actor(ctx, bob.ASID)
		require.NoError(err)
		require.Equal(bob.ID, got.ID)
	})

	t.Run("a blocked domain is refused outright", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		require.NoError(tx.Create(&models.Instance{
			ID:      snowflake.Now(),
			Domain:  "evil.example",
			Blocked: true,
		}).Error)
		env := testEnv(t, tx)

		mockAccount(t, tx, "alice", "example.com")
		retriever, err := env.Retriever()
		require.NoError(err)
		_, err = retriever.Actor(ctx, "https://evil.example/users/mallory")
		require.ErrorContains(err, "blocked")
	})

	t.Run("an unknown actor is fetched and stored", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := testEnv(t, tx)

		mockAccount(t, tx, "alice", "example.com")

		var asID string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NotEmpty(r.Header.Get("Signature"))
			w.Header().Set("Content-Type", "application/activity+json")
			w.Write([]byte(`{
				"id": "` + asID + `",
				"type": "Person",
				"preferredUsername": "carol",
				"inbox": "` + asID + `/inbox"
			}`))
		}))
		defer srv.Close()
		asID = srv.URL + "/users/carol"

		retriever, err := env.Retriever()
		require.NoError(err)
		got, err := retriever.Actor(ctx, asID)
		require.NoError(err)
		require.Equal("carol", got.Name)
		require.Equal(asID, got.ASID)
		require.False(got.Local)
	})
}
