package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"stardaemon/internal/config"
	"stardaemon/internal/domain"
	"stardaemon/internal/markdown"
	"strings"
	"sync"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	// Graphemes upstream; runes are a close, conservative stand-in.
	blueskyMaxLength = 300

	blueskyPostCollection = "app.bsky.feed.post"
	blueskyLinkFacetType  = "app.bsky.richtext.facet#link"
	blueskyExternalType   = "app.bsky.embed.external"
	blueskyExpiredToken   = "ExpiredToken"
	blueskyCardMaxLength  = 300
	blueskyClientTimeout  = 20 * time.Second
)

var errBlueSkyNotInitialized = errors.New("bluesky connector is not initialized")

// BlueSky posts to an AT Protocol PDS over XRPC with an app password.
type BlueSky struct {
	cfg        config.BlueSkyConfig
	host       string
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger

	mu   sync.Mutex
	auth *xrpc.AuthInfo
}

func NewBlueSky(cfg config.BlueSkyConfig, log *slog.Logger) *BlueSky {
	return &BlueSky{
		cfg:        cfg,
		host:       strings.TrimRight(strings.TrimSpace(cfg.PDSURL), "/"),
		httpClient: &http.Client{Timeout: blueskyClientTimeout},
		now:        time.Now,
		log:        log,
	}
}

func (b *BlueSky) Name() string {
	return "BlueSky"
}

func (b *BlueSky) Initialize(ctx context.Context) error {
	if u, err := url.Parse(b.host); err != nil || b.host == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid BlueSky PDS URL %q", domain.ErrConfiguration, b.host)
	}

	out, err := comatproto.ServerCreateSession(ctx, b.client(nil), &comatproto.ServerCreateSession_Input{
		Identifier: b.cfg.Handle,
		Password:   b.cfg.AppPassword,
	})
	if err != nil {
		return fmt.Errorf("create BlueSky session: %w", classifySessionError(err))
	}
	if out.AccessJwt == "" || out.Did == "" {
		return fmt.Errorf("%w: BlueSky session response is incomplete", domain.ErrAuthentication)
	}

	b.setAuth(&xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	})

	b.log.InfoContext(ctx, "BlueSky connector is initialized",
		"handle", out.Handle)

	return nil
}

func (b *BlueSky) TestConnection(ctx context.Context) error {
	auth, err := b.currentAuth()
	if err != nil {
		return err
	}

	profile, err := appbsky.ActorGetProfile(ctx, b.client(auth), auth.Did)
	if err != nil {
		return fmt.Errorf("get BlueSky profile: %w", classifyBlueSkyError(err))
	}

	b.log.InfoContext(ctx, "BlueSky connection test succeeded",
		"handle", profile.Handle)

	return nil
}

// PostMessage refreshes the session once when the access token has expired.
func (b *BlueSky) PostMessage(ctx context.Context, message string, meta *domain.Metadata) error {
	post := b.buildPost(message, meta)

	err := b.createRecord(ctx, post)
	if blueskyErrorCode(err) == blueskyExpiredToken {
		b.log.InfoContext(ctx, "BlueSky access token expired, refreshing session")

		if err = b.refresh(ctx); err != nil {
			return fmt.Errorf("refresh BlueSky session: %w", classifySessionError(err))
		}

		err = b.createRecord(ctx, post)
	}
	if err != nil {
		return fmt.Errorf("create BlueSky post: %w", classifyBlueSkyError(err))
	}

	return nil
}

// buildPost links only URLs that survived truncation whole.
func (b *BlueSky) buildPost(message string, meta *domain.Metadata) *appbsky.FeedPost {
	text := TruncateKeepingLinks(message, blueskyMaxLength)

	post := &appbsky.FeedPost{
		LexiconTypeID: blueskyPostCollection,
		Text:          text,
		CreatedAt:     b.now().UTC().Format(time.RFC3339),
	}

	whole := make(map[string]bool)
	for _, l := range markdown.FindLinks(message) {
		whole[l.URL] = true
	}

	for _, l := range markdown.FindLinks(text) {
		if !whole[l.URL] {
			continue
		}

		uri := l.URL
		if !strings.Contains(uri, "://") {
			uri = "https://" + uri
		}

		post.Facets = append(post.Facets, &appbsky.RichtextFacet{
			Index: &appbsky.RichtextFacet_ByteSlice{
				ByteStart: int64(l.Start),
				ByteEnd:   int64(l.End),
			},
			Features: []*appbsky.RichtextFacet_Features_Elem{{
				RichtextFacet_Link: &appbsky.RichtextFacet_Link{
					LexiconTypeID: blueskyLinkFacetType,
					Uri:           uri,
				},
			}},
		})
	}

	if meta != nil && meta.URL != "" {
		post.Embed = &appbsky.FeedPost_Embed{
			EmbedExternal: &appbsky.EmbedExternal{
				LexiconTypeID: blueskyExternalType,
				External: &appbsky.EmbedExternal_External{
					Uri:         meta.URL,
					Title:       meta.FullName,
					Description: Truncate(meta.Description, blueskyCardMaxLength),
				},
			},
		}
	}

	return post
}

func (b *BlueSky) createRecord(ctx context.Context, post *appbsky.FeedPost) error {
	auth, err := b.currentAuth()
	if err != nil {
		return err
	}

	out, err := comatproto.RepoCreateRecord(ctx, b.client(auth), &comatproto.RepoCreateRecord_Input{
		Collection: blueskyPostCollection,
		Repo:       auth.Did,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return err
	}

	b.log.InfoContext(ctx, "Posted to BlueSky",
		"uri", out.Uri)

	return nil
}

func (b *BlueSky) refresh(ctx context.Context) error {
	auth, err := b.currentAuth()
	if err != nil {
		return err
	}

	// refreshSession authenticates with the refresh token.
	out, err := comatproto.ServerRefreshSession(ctx, b.client(&xrpc.AuthInfo{
		AccessJwt:  auth.RefreshJwt,
		RefreshJwt: auth.RefreshJwt,
		Handle:     auth.Handle,
		Did:        auth.Did,
	}))
	if err != nil {
		return err
	}

	b.setAuth(&xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	})

	return nil
}

func (b *BlueSky) client(auth *xrpc.AuthInfo) *xrpc.Client {
	return &xrpc.Client{
		Client: b.httpClient,
		Host:   b.host,
		Auth:   auth,
	}
}

func (b *BlueSky) setAuth(auth *xrpc.AuthInfo) {
	b.mu.Lock()
	b.auth = auth
	b.mu.Unlock()
}

func (b *BlueSky) currentAuth() (*xrpc.AuthInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.auth == nil {
		return nil, errBlueSkyNotInitialized
	}

	auth := *b.auth

	return &auth, nil
}

func blueskyErrorCode(err error) string {
	var xrpcErr *xrpc.XRPCError
	if errors.As(err, &xrpcErr) {
		return xrpcErr.ErrStr
	}

	return ""
}

// classifySessionError reports rejected credentials as an authentication
// failure and everything else as classifyBlueSkyError does.
func classifySessionError(err error) error {
	var xrpcErr *xrpc.Error
	if errors.As(err, &xrpcErr) &&
		(xrpcErr.StatusCode == http.StatusBadRequest || xrpcErr.StatusCode == http.StatusUnauthorized) {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	}

	return classifyBlueSkyError(err)
}

// classifyBlueSkyError maps XRPC failures onto the domain error kinds.
func classifyBlueSkyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, errBlueSkyNotInitialized) {
		return err
	}

	var xrpcErr *xrpc.Error
	if !errors.As(err, &xrpcErr) {
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}

	switch status := xrpcErr.StatusCode; {
	case status == http.StatusTooManyRequests:
		var reset time.Time
		if xrpcErr.Ratelimit != nil {
			reset = xrpcErr.Ratelimit.Reset
		}

		return &domain.RateLimitError{Reset: reset, Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	default:
		return err
	}
}
