package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"stardaemon/internal/domain"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"golang.org/x/oauth2"
)

const (
	starredPerPage  = 100
	starredMaxPages = 100
	clientTimeout   = 30 * time.Second
)

// NewClient builds an authenticated GitHub client. baseURL is optional and
// points the client at GitHub Enterprise or a test server.
func NewClient(ctx context.Context, token string, baseURL string) (*gh.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(token)})
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = clientTimeout

	client := gh.NewClient(httpClient)

	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return client, nil
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub API URL: %w", err)
	}
	client.BaseURL = u

	return client, nil
}

// Poller lists the starred repositories of one account.
type Poller struct {
	client   *gh.Client
	username string
	log      *slog.Logger
}

// NewPoller returns a poller for username, or for the authenticated user
// when username is empty.
func NewPoller(client *gh.Client, username string, log *slog.Logger) *Poller {
	return &Poller{
		client:   client,
		username: strings.TrimSpace(username),
		log:      log,
	}
}

// Login resolves the account whose stars are watched.
func (p *Poller) Login(ctx context.Context) (string, error) {
	user, _, err := p.client.Users.Get(ctx, p.username)
	if err != nil {
		return "", classify(fmt.Errorf("get user: %w", err))
	}

	return user.GetLogin(), nil
}

// Fetch returns every starred repository, most recently starred first.
func (p *Poller) Fetch(ctx context.Context) ([]domain.StarredRepository, error) {
	opts := &gh.ActivityListStarredOptions{
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: starredPerPage},
	}

	var repos []domain.StarredRepository

	for page := 0; page < starredMaxPages; page++ {
		starred, resp, err := p.client.Activity.ListStarred(ctx, p.username, opts)
		if err != nil {
			return nil, classify(fmt.Errorf("list starred (page = %d): %w", opts.Page, err))
		}

		for _, s := range starred {
			repo, ok := fromStarred(s)
			if !ok {
				p.log.WarnContext(ctx, "Skipping starred entry without repository name",
					"page", opts.Page)

				continue
			}
			repos = append(repos, repo)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	p.log.DebugContext(ctx, "Starred repositories are fetched",
		"username", p.username,
		"count", len(repos))

	return repos, nil
}

func fromStarred(s *gh.StarredRepository) (domain.StarredRepository, bool) {
	r := s.GetRepository()
	if r == nil || strings.TrimSpace(r.GetFullName()) == "" {
		return domain.StarredRepository{}, false
	}

	return domain.StarredRepository{
		FullName:       strings.TrimSpace(r.GetFullName()),
		Name:           r.GetName(),
		Owner:          r.GetOwner().GetLogin(),
		OwnerAvatarURL: r.GetOwner().GetAvatarURL(),
		URL:            r.GetHTMLURL(),
		Description:    strings.TrimSpace(r.GetDescription()),
		Language:       r.GetLanguage(),
		Stars:          r.GetStargazersCount(),
		Forks:          r.GetForksCount(),
		Topics:         r.Topics,
		StarredAt:      s.GetStarredAt().Time,
	}, true
}

// classify maps go-github errors onto the domain error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var rateLimitErr *gh.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &domain.RateLimitError{Reset: rateLimitErr.Rate.Reset.Time, Err: err}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var reset time.Time
		if retryAfter := abuseErr.GetRetryAfter(); retryAfter > 0 {
			reset = time.Now().Add(retryAfter)
		}

		return &domain.RateLimitError{Reset: reset, Err: err}
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
		case code == http.StatusTooManyRequests:
			return &domain.RateLimitError{Err: err}
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
		default:
			return err
		}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	// Anything else never got a GitHub response: DNS, TLS, timeouts.
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}
