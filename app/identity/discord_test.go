package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imMORX/Gatekeeper/app/identity"
	"github.com/imMORX/Gatekeeper/app/models"
)

func fakeProvider(t *testing.T, guildsBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","username":"tester"}`))
	})
	mux.HandleFunc("/users/@me/guilds", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(guildsBody))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticate(t *testing.T) {
	srv := fakeProvider(t, `[
		{"id":"G1","name":"First","icon":"abc"},
		{"id":"G2","name":"Second","icon":null}
	]`)
	e := identity.NewExchangeWithAPIBase("cid", "secret", "http://localhost/auth/callback", srv.URL)

	principal, err := e.Authenticate(context.Background(), "code-1")
	require.NoError(t, err)

	assert.Equal(t, "42", principal.ID)
	assert.Equal(t, "tester", principal.Username)
	require.Len(t, principal.Guilds, 2)
	assert.Equal(t, models.GuildRef{
		ID:      "G1",
		Name:    "First",
		IconURL: "https://cdn.discordapp.com/icons/G1/abc.png",
	}, principal.Guilds[0])
	assert.Empty(t, principal.Guilds[1].IconURL)
}

// An error payload instead of a membership array must not fail the flow.
func TestAuthenticateGuildsNotArray(t *testing.T) {
	srv := fakeProvider(t, `{"message":"401: Unauthorized","code":0}`)
	e := identity.NewExchangeWithAPIBase("cid", "secret", "http://localhost/auth/callback", srv.URL)

	principal, err := e.Authenticate(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "tester", principal.Username)
	assert.Empty(t, principal.Guilds)
}

func TestAuthenticateExchangeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	e := identity.NewExchangeWithAPIBase("cid", "secret", "http://localhost/auth/callback", srv.URL)
	_, err := e.Authenticate(context.Background(), "stale-code")
	assert.Error(t, err)
}

func TestIconURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://cdn.discordapp.com/icons/G1/h.png", identity.IconURL("G1", "h"))
	assert.Empty(t, identity.IconURL("G1", ""))
}

func TestAuthCodeURL(t *testing.T) {
	t.Parallel()

	e := identity.NewExchange("cid", "secret", "http://localhost/auth/callback")
	u := e.AuthCodeURL("state-1")
	assert.Contains(t, u, "https://discord.com/api/oauth2/authorize")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "identify+guilds")
}
