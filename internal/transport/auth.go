package transport

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"arenaclash/server/internal/auth"
	"arenaclash/server/internal/combat"
	"arenaclash/server/internal/match"
)

// ErrMissingToken is returned when a protected hub receives a request without credentials.
var ErrMissingToken = errors.New("missing auth token")

// Authenticator resolves the roster entry an upgrade request speaks for.
type Authenticator interface {
	Authenticate(r *http.Request) (match.Player, error)
}

// QueryAuthenticator trusts the player id and loadout supplied in the query string. It is
// meant for local play and tests.
type QueryAuthenticator struct{}

// Authenticate implements Authenticator.
func (QueryAuthenticator) Authenticate(r *http.Request) (match.Player, error) {
	query := r.URL.Query()
	player := match.Player{
		ID:         strings.TrimSpace(query.Get("player")),
		Name:       strings.TrimSpace(query.Get("name")),
		Projectile: strings.TrimSpace(query.Get("projectile")),
		Ability:    strings.TrimSpace(query.Get("ability")),
	}
	if player.ID == "" {
		return match.Player{}, match.ErrInvalidPlayerID
	}
	if raw := strings.TrimSpace(query.Get("team")); raw != "" {
		team, err := combat.ParseTeam(raw)
		if err != nil {
			return match.Player{}, err
		}
		player.Team = team
	}
	return player, nil
}

// TokenAuthenticator requires a signed player token in the auth_token query parameter or
// the X-Auth-Token header.
type TokenAuthenticator struct {
	signer *auth.Signer
}

// NewTokenAuthenticator builds an authenticator for tokens signed with secret.
func NewTokenAuthenticator(secret string) (*TokenAuthenticator, error) {
	signer, err := auth.NewSigner(secret, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &TokenAuthenticator{signer: signer}, nil
}

// Signer exposes the signer so the HTTP API can mint tokens with the same secret.
func (a *TokenAuthenticator) Signer() *auth.Signer { return a.signer }

// Authenticate implements Authenticator.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (match.Player, error) {
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return match.Player{}, ErrMissingToken
	}
	claims, err := a.signer.Verify(token)
	if err != nil {
		return match.Player{}, err
	}
	player := match.Player{
		ID:         claims.PlayerID,
		Name:       claims.Name,
		Projectile: claims.Projectile,
		Ability:    claims.Ability,
	}
	if claims.Team != "" {
		team, err := combat.ParseTeam(claims.Team)
		if err != nil {
			return match.Player{}, err
		}
		player.Team = team
	}
	return player, nil
}
