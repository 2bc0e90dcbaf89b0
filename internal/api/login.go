package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"serverguard/internal/cache"
)

const identityURL = "https://discord.com/api/users/@me"

// Endpoint is the platform's OAuth2 endpoint pair.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// LoginFlow drives the website login handshake. The state nonce lives
// in the shared cache so any web worker can complete a handshake
// another worker started.
type LoginFlow struct {
	oauth  *oauth2.Config
	states *cache.Shared
	logger *zap.Logger
}

func NewLoginFlow(clientID, clientSecret, redirectURL string, states *cache.Shared, logger *zap.Logger) *LoginFlow {
	return &LoginFlow{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"identify"},
			Endpoint:     Endpoint,
		},
		states: states,
		logger: logger,
	}
}

// AuthURL mints a state nonce and returns the consent URL to redirect
// the user to.
func (f *LoginFlow) AuthURL(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := f.states.Set(ctx, "login/"+state, "pending"); err != nil {
		return "", fmt.Errorf("store login state: %w", err)
	}
	return f.oauth.AuthCodeURL(state), nil
}

// Complete validates the state, exchanges the authorization code and
// resolves the platform user id.
func (f *LoginFlow) Complete(ctx context.Context, code, state string) (string, error) {
	if _, ok := f.states.Get(ctx, "login/"+state); !ok {
		return "", errors.New("login state expired or unknown, restart login")
	}
	f.states.Remove(ctx, "login/"+state)

	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		f.logger.Warn("oauth exchange failed", zap.Error(err))
		return "", errors.New("authorization code rejected, restart login")
	}
	return f.identify(ctx, token)
}

func (f *LoginFlow) identify(ctx context.Context, token *oauth2.Token) (string, error) {
	client := f.oauth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identityURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity fetch returned %s", resp.Status)
	}

	var identity struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return "", fmt.Errorf("identity parse: %w", err)
	}
	if identity.ID == "" {
		return "", errors.New("identity response missing id")
	}
	return identity.ID, nil
}
