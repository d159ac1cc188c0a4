// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/stacklok/tokengate/pkg/networking"
)

// Default GitHub endpoints.
const (
	GitHubAuthURL  = "https://github.com/login/oauth/authorize"
	GitHubTokenURL = "https://github.com/login/oauth/access_token" //nolint:gosec // URL, not a credential
	GitHubAPIURL   = "https://api.github.com"
)

// maxResponseSize bounds provider API responses.
const maxResponseSize = 1 << 20

// maxTeamPages bounds how many pages of team memberships are read at login.
const maxTeamPages = 10

// githubScopes are requested from GitHub: team membership and profile data.
var githubScopes = []string{"read:org", "read:user", "user:email"}

// GitHubConfig configures the GitHub login provider.
type GitHubConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthURL, TokenURL and APIURL override the GitHub endpoints.
	AuthURL  string
	TokenURL string
	APIURL   string
}

// Validate checks that required fields are set.
func (c *GitHubConfig) Validate() error {
	if c.ClientID == "" {
		return errors.New("github client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("github client_secret is required")
	}
	if c.RedirectURL == "" {
		return errors.New("github redirect_url is required")
	}
	return nil
}

// GitHubProvider logs users in with GitHub and maps team memberships to
// groups named <org>-<team slug>.
type GitHubProvider struct {
	name         string
	oauth2Config *oauth2.Config
	apiURL       string
	httpClient   *http.Client
	rateLimiter  *rate.Limiter
}

var _ Provider = (*GitHubProvider)(nil)

// GitHubOption configures a GitHubProvider.
type GitHubOption func(*GitHubProvider)

// WithGitHubHTTPClient sets the HTTP client used for all GitHub calls.
func WithGitHubHTTPClient(client *http.Client) GitHubOption {
	return func(p *GitHubProvider) {
		p.httpClient = client
	}
}

// NewGitHubProvider creates a GitHub provider.
func NewGitHubProvider(config *GitHubConfig, opts ...GitHubOption) (*GitHubProvider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	name := config.Name
	if name == "" {
		name = string(ProviderTypeGitHub)
	}
	authURL := valueOr(config.AuthURL, GitHubAuthURL)
	tokenURL := valueOr(config.TokenURL, GitHubTokenURL)

	p := &GitHubProvider{
		name: name,
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       githubScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL: strings.TrimSuffix(valueOr(config.APIURL, GitHubAPIURL), "/"),
		// GitHub allows 5,000 requests an hour per token; the local limit
		// protects the gateway from login storms.
		rateLimiter: rate.NewLimiter(100, 200),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		client, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		p.httpClient = client
	}
	return p, nil
}

// Name returns the configured provider name.
func (p *GitHubProvider) Name() string {
	return p.name
}

// Type returns ProviderTypeGitHub.
func (*GitHubProvider) Type() ProviderType {
	return ProviderTypeGitHub
}

// BeginLogin returns the GitHub authorization URL.
func (p *GitHubProvider) BeginLogin(state string, opts ...LoginOption) (string, error) {
	if state == "" {
		return "", errors.New("state is required")
	}
	o := applyLoginOptions(opts)
	var params []oauth2.AuthCodeOption
	if o.codeVerifier != "" {
		params = append(params, oauth2.S256ChallengeOption(o.codeVerifier))
	}
	return p.oauth2Config.AuthCodeURL(state, params...), nil
}

// CompleteLogin exchanges the code and loads the user's profile, primary
// email and team memberships.
func (p *GitHubProvider) CompleteLogin(ctx context.Context, params CallbackParams) (*Identity, error) {
	if params.Error != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrDenied, params.Error, params.ErrorDescription)
	}
	if params.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrDenied)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	var exchangeOpts []oauth2.AuthCodeOption
	if params.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(params.CodeVerifier))
	}
	tok, err := p.oauth2Config.Exchange(ctx, params.Code, exchangeOpts...)
	if err != nil {
		return nil, classifyExchangeError("github code exchange", err)
	}

	var user githubUser
	if err := p.get(ctx, tok.AccessToken, "/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 || user.Login == "" {
		return nil, fmt.Errorf("%w: github user response missing id or login", ErrDenied)
	}

	var emails []githubEmail
	if err := p.get(ctx, tok.AccessToken, "/user/emails", &emails); err != nil {
		return nil, err
	}
	teams, err := p.listTeams(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		Provider: p.name,
		Subject:  strconv.FormatInt(user.ID, 10),
		Username: strings.ToLower(user.Login),
		Name:     user.Name,
		Email:    primaryEmail(emails, user.Email),
		UID:      int(user.ID),
	}
	for _, team := range teams {
		id.AddGroups(teamGroupName(team))
	}

	slog.Debug("github login successful",
		"username", id.Username,
		"groups", len(id.Groups),
	)
	return id, nil
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

type githubTeam struct {
	Slug         string `json:"slug"`
	ID           int64  `json:"id"`
	Organization struct {
		Login string `json:"login"`
	} `json:"organization"`
}

func primaryEmail(emails []githubEmail, fallback string) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return fallback
}

func teamGroupName(team githubTeam) string {
	return strings.ToLower(team.Organization.Login + "-" + team.Slug)
}

// listTeams reads every page of the user's team memberships, following
// the Link header up to maxTeamPages.
func (p *GitHubProvider) listTeams(ctx context.Context, accessToken string) ([]githubTeam, error) {
	var teams []githubTeam
	next := p.apiURL + "/user/teams?per_page=100"
	for page := 0; next != ""; page++ {
		if page == maxTeamPages {
			slog.Warn("github team list truncated", "pages", maxTeamPages, "teams", len(teams))
			break
		}
		var batch []githubTeam
		link, err := p.fetch(ctx, accessToken, next, "/user/teams", &batch)
		if err != nil {
			return nil, err
		}
		teams = append(teams, batch...)

		next = nextLink(link)
		if next != "" && !strings.HasPrefix(next, p.apiURL+"/") {
			slog.Warn("ignoring github next page outside the API", "url", next)
			break
		}
	}
	return teams, nil
}

// nextLink returns the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok || !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range strings.Split(params, ";") {
			name, value, _ := strings.Cut(strings.TrimSpace(param), "=")
			if strings.EqualFold(name, "rel") && slices.Contains(strings.Fields(strings.Trim(value, `"`)), "next") {
				return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
			}
		}
	}
	return ""
}

// get performs an authenticated GET against the GitHub API and decodes the
// JSON body into out.
func (p *GitHubProvider) get(ctx context.Context, accessToken, path string, out any) error {
	_, err := p.fetch(ctx, accessToken, p.apiURL+path, path, out)
	return err
}

// fetch GETs target, decodes the JSON body into out and returns the Link
// header. path names the endpoint in errors.
func (p *GitHubProvider) fetch(ctx context.Context, accessToken, target, path string, out any) (string, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limit wait failed: %w", ErrUnreachable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", networking.UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: github %s: %w", ErrUnreachable, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("github rate limit exceeded",
			"retry_after", resp.Header.Get("Retry-After"),
			"remaining", resp.Header.Get("X-RateLimit-Remaining"),
		)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError("github "+path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read github response: %w", ErrUnreachable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return "", fmt.Errorf("%w: failed to decode github %s response: %w", ErrDenied, path, err)
	}
	return resp.Header.Get("Link"), nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
