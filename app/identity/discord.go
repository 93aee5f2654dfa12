package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/imMORX/Gatekeeper/app/models"
)

const (
	authorizeURL = "https://discord.com/api/oauth2/authorize"
	tokenURL     = "https://discord.com/api/oauth2/token"
	apiBaseURL   = "https://discord.com/api"
)

// Exchange performs the OAuth2 authorization-code flow against Discord and
// resolves the authenticated principal's guild memberships.
type Exchange struct {
	oauth   *oauth2.Config
	apiBase string
}

func NewExchange(clientID, clientSecret, redirectURL string) *Exchange {
	return &Exchange{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"identify", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authorizeURL,
				TokenURL: tokenURL,
			},
		},
		apiBase: apiBaseURL,
	}
}

// NewExchangeWithAPIBase exists for tests pointing at a fake provider.
func NewExchangeWithAPIBase(clientID, clientSecret, redirectURL, apiBase string) *Exchange {
	e := NewExchange(clientID, clientSecret, redirectURL)
	e.oauth.Endpoint.TokenURL = apiBase + "/oauth2/token"
	e.apiBase = apiBase
	return e
}

// AuthCodeURL returns the provider page the browser is redirected to.
func (e *Exchange) AuthCodeURL(state string) string {
	return e.oauth.AuthCodeURL(state)
}

// Authenticate exchanges the callback code for an access token and fetches
// the principal. A failed exchange is fatal to the flow; a membership
// response that is not an array yields empty memberships and the flow
// continues.
func (e *Exchange) Authenticate(ctx context.Context, code string) (models.Principal, error) {
	token, err := e.oauth.Exchange(ctx, code)
	if err != nil {
		return models.Principal{}, fmt.Errorf("token exchange: %w", err)
	}

	client := e.oauth.Client(ctx, token)

	var user models.DiscordUser
	if err := e.getJSON(ctx, client, "/users/@me", &user); err != nil {
		return models.Principal{}, fmt.Errorf("fetch principal: %w", err)
	}

	principal := models.Principal{
		ID:       user.ID,
		Username: user.Username,
		Guilds:   e.fetchGuilds(ctx, client),
	}
	return principal, nil
}

// fetchGuilds is fail-open: any shape mismatch or transport error is logged
// and treated as no memberships.
func (e *Exchange) fetchGuilds(ctx context.Context, client *http.Client) []models.GuildRef {
	var raw json.RawMessage
	if err := e.getJSON(ctx, client, "/users/@me/guilds", &raw); err != nil {
		slog.Warn("Failed to fetch guild memberships", slog.Any("err", err))
		return nil
	}

	var guilds []models.DiscordGuild
	if err := json.Unmarshal(raw, &guilds); err != nil {
		slog.Warn("Guild membership response is not an array, continuing with none")
		return nil
	}

	refs := make([]models.GuildRef, 0, len(guilds))
	for _, g := range guilds {
		refs = append(refs, models.GuildRef{
			ID:      g.ID,
			Name:    g.Name,
			IconURL: IconURL(g.ID, g.Icon),
		})
	}
	return refs
}

func (e *Exchange) getJSON(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBase+path, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// IconURL maps a guild's icon hash to its CDN asset, or empty when the
// guild has no icon.
func IconURL(guildID, icon string) string {
	if icon == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/icons/%s/%s.png", guildID, icon)
}
