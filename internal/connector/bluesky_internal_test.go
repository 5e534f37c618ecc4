package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"stardaemon/internal/config"
	"stardaemon/internal/domain"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePDS struct {
	mu            sync.Mutex
	expireOne     bool
	refreshed     bool
	sessionStatus int
	postStatus    int
	records       []map[string]any
}

func (p *fakePDS) handler(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		if p.sessionStatus != 0 {
			w.WriteHeader(p.sessionStatus)
			_, _ = io.WriteString(w, `{"error":"InternalServerError","message":"Internal Server Error"}`)

			return
		}

		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`)

			return
		}

		_, _ = io.WriteString(w, `{"accessJwt":"access-1","refreshJwt":"refresh-1","handle":"me.bsky.social","did":"did:plc:me"}`)
	})

	mux.HandleFunc("/xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer refresh-1" {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		p.mu.Lock()
		p.refreshed = true
		p.mu.Unlock()

		_, _ = io.WriteString(w, `{"accessJwt":"access-2","refreshJwt":"refresh-2","handle":"me.bsky.social","did":"did:plc:me"}`)
	})

	mux.HandleFunc("/xrpc/app.bsky.actor.getProfile", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("actor") != "did:plc:me" {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		_, _ = io.WriteString(w, `{"handle":"me.bsky.social"}`)
	})

	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.postStatus != 0 {
			w.WriteHeader(p.postStatus)
			_, _ = io.WriteString(w, `{"error":"RateLimitExceeded","message":"Rate Limit Exceeded"}`)

			return
		}

		if p.expireOne && r.Header.Get("Authorization") == "Bearer access-1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"ExpiredToken","message":"Token has expired"}`)

			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode record: %v", err)
		}
		p.records = append(p.records, body)

		_, _ = io.WriteString(w, `{"uri":"at://did:plc:me/app.bsky.feed.post/1","cid":"bafy"}`)
	})

	return mux
}

func newTestBlueSky(t *testing.T, pds *fakePDS, password string) *BlueSky {
	t.Helper()

	server := httptest.NewServer(pds.handler(t))
	t.Cleanup(server.Close)

	b := NewBlueSky(config.BlueSkyConfig{
		Handle:      "me.bsky.social",
		AppPassword: password,
		PDSURL:      server.URL + "/",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.now = func() time.Time { return time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC) }

	return b
}

func TestBlueSkyPostsWithLinkFacetAndCard(t *testing.T) {
	pds := &fakePDS{}
	b := newTestBlueSky(t, pds, "app-pass")
	ctx := context.Background()

	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := b.TestConnection(ctx); err != nil {
		t.Fatalf("TestConnection returned error: %v", err)
	}

	message := "⭐ acme/widget - https://github.com/acme/widget"
	meta := &domain.Metadata{
		FullName:    "acme/widget",
		URL:         "https://github.com/acme/widget",
		Description: "Widgets",
	}
	if err := b.PostMessage(ctx, message, meta); err != nil {
		t.Fatalf("PostMessage returned error: %v", err)
	}

	if len(pds.records) != 1 {
		t.Fatalf("expected one record, got %d", len(pds.records))
	}

	got := pds.records[0]
	if got["repo"] != "did:plc:me" || got["collection"] != "app.bsky.feed.post" {
		t.Fatalf("unexpected record envelope: %v", got)
	}

	record, ok := got["record"].(map[string]any)
	if !ok {
		t.Fatalf("expected record object, got %T", got["record"])
	}
	if record["text"] != message {
		t.Fatalf("unexpected text: %v", record["text"])
	}
	if record["createdAt"] != "2025-01-01T10:00:00Z" {
		t.Fatalf("unexpected createdAt: %v", record["createdAt"])
	}

	facets, ok := record["facets"].([]any)
	if !ok || len(facets) != 1 {
		t.Fatalf("expected one facet, got %v", record["facets"])
	}

	index := facets[0].(map[string]any)["index"].(map[string]any)
	start := int(index["byteStart"].(float64))
	end := int(index["byteEnd"].(float64))
	if message[start:end] != "https://github.com/acme/widget" {
		t.Fatalf("facet does not cover the URL: %d-%d", start, end)
	}

	embed, ok := record["embed"].(map[string]any)
	if !ok || embed["$type"] != "app.bsky.embed.external" {
		t.Fatalf("expected external embed, got %v", record["embed"])
	}
}

func TestBlueSkyTruncatesToPostLimit(t *testing.T) {
	b := NewBlueSky(config.BlueSkyConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	post := b.buildPost(strings.Repeat("x", 400), nil)
	if got := len([]rune(post.Text)); got != blueskyMaxLength {
		t.Fatalf("expected %d runes, got %d", blueskyMaxLength, got)
	}
	if post.Embed != nil {
		t.Fatalf("expected no embed without metadata")
	}
}

func TestBlueSkyRefreshesExpiredSession(t *testing.T) {
	pds := &fakePDS{expireOne: true}
	b := newTestBlueSky(t, pds, "app-pass")
	ctx := context.Background()

	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	if err := b.PostMessage(ctx, "hello", nil); err != nil {
		t.Fatalf("PostMessage returned error: %v", err)
	}

	if !pds.refreshed {
		t.Fatalf("expected session refresh")
	}
	if len(pds.records) != 1 {
		t.Fatalf("expected record after refresh, got %d", len(pds.records))
	}
}

func TestBlueSkyBadPasswordIsAuthenticationError(t *testing.T) {
	b := newTestBlueSky(t, &fakePDS{}, "wrong")

	err := b.Initialize(context.Background())
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}

	if err = b.PostMessage(context.Background(), "hello", nil); err == nil {
		t.Fatalf("expected PostMessage to fail without a session")
	}
}

func TestBlueSkyTruncationKeepsLinkFacetWhole(t *testing.T) {
	b := NewBlueSky(config.BlueSkyConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	link := "https://github.com/acme/widget-with-long-name"
	post := b.buildPost(strings.Repeat("d", 270)+" "+link, nil)

	if got := len([]rune(post.Text)); got != blueskyMaxLength {
		t.Fatalf("expected %d runes, got %d", blueskyMaxLength, got)
	}
	if !strings.HasSuffix(post.Text, "... "+link) {
		t.Fatalf("expected the link to survive truncation, got %q", post.Text)
	}
	if len(post.Facets) != 1 {
		t.Fatalf("expected one facet, got %d", len(post.Facets))
	}

	facet := post.Facets[0]
	if got := post.Text[facet.Index.ByteStart:facet.Index.ByteEnd]; got != link {
		t.Fatalf("facet covers %q", got)
	}
	if uri := facet.Features[0].RichtextFacet_Link.Uri; uri != link {
		t.Fatalf("unexpected facet uri %q", uri)
	}
}

func TestBlueSkyDropsFacetForCutLink(t *testing.T) {
	b := NewBlueSky(config.BlueSkyConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Too long to keep whole, so the post falls back to a plain cut.
	post := b.buildPost("see https://example.com/"+strings.Repeat("p", 400), nil)

	if len(post.Facets) != 0 {
		t.Fatalf("expected no facet for a cut link, got %q", post.Facets[0].Features[0].RichtextFacet_Link.Uri)
	}
}

func TestBlueSkyUnavailablePDSIsNotAuthenticationError(t *testing.T) {
	b := newTestBlueSky(t, &fakePDS{sessionStatus: http.StatusInternalServerError}, "app-pass")

	err := b.Initialize(context.Background())
	if err == nil {
		t.Fatalf("expected Initialize to fail")
	}
	if errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("server error must not be an authentication error: %v", err)
	}
	if !domain.IsRecoverable(err) {
		t.Fatalf("expected recoverable error, got %v", err)
	}
}

func TestBlueSkyRateLimitedPost(t *testing.T) {
	pds := &fakePDS{}
	b := newTestBlueSky(t, pds, "app-pass")
	ctx := context.Background()

	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	pds.mu.Lock()
	pds.postStatus = http.StatusTooManyRequests
	pds.mu.Unlock()

	err := b.PostMessage(ctx, "hello", nil)
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}
