// Package auth authenticates bearer tokens for the HTTP API.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/mattjoyce/dropwatch/internal/config"
)

// Scopes understood by the API. A ":rw" scope implies its ":ro" twin.
const (
	ScopeAll      = "*"
	ScopeJobsRO   = "jobs:ro"
	ScopeJobsRW   = "jobs:rw"
	ScopeEventsRO = "events:ro"
)

var (
	ErrNoCredentials = errors.New("missing bearer token")
	ErrBadScheme     = errors.New("authorization scheme must be Bearer")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// TokensFromConfig converts the api.auth.tokens section.
func TokensFromConfig(cfg config.APIAuthConfig) []TokenConfig {
	out := make([]TokenConfig, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out = append(out, TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}

// Principal is an authenticated caller.
type Principal struct {
	Token  string
	scopes map[string]bool
}

// Can reports whether p holds any of scopes. The wildcard holds all of
// them, and asking for nothing always succeeds.
func (p Principal) Can(scopes ...string) bool {
	if len(scopes) == 0 || p.scopes[ScopeAll] {
		return true
	}
	for _, s := range scopes {
		if p.scopes[s] {
			return true
		}
	}
	return false
}

type entry struct {
	digest [sha256.Size]byte
	scopes map[string]bool
}

// Keyring resolves presented tokens to principals. Tokens are compared by
// SHA-256 digest in constant time, so lookups leak neither content nor
// length.
type Keyring struct {
	entries []entry
}

// NewKeyring builds a keyring. A non-empty apiKey grants every scope. Empty
// tokens are skipped.
func NewKeyring(apiKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if apiKey != "" {
		k.entries = append(k.entries, entry{digest: sha256.Sum256([]byte(apiKey)), scopes: map[string]bool{ScopeAll: true}})
	}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.entries = append(k.entries, entry{digest: sha256.Sum256([]byte(t.Token)), scopes: expandScopes(t.Scopes)})
	}
	return k
}

// Lookup returns the principal for presented. Every entry is compared even
// after a match.
func (k *Keyring) Lookup(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	d := sha256.Sum256([]byte(presented))

	var found *entry
	for i := range k.entries {
		if subtle.ConstantTimeCompare(d[:], k.entries[i].digest[:]) == 1 && found == nil {
			found = &k.entries[i]
		}
	}
	if found == nil {
		return Principal{}, false
	}
	return Principal{Token: presented, scopes: found.scopes}, true
}

func expandScopes(scopes []string) map[string]bool {
	out := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = true
		if base, ok := strings.CutSuffix(s, ":rw"); ok {
			out[base+":ro"] = true
		}
	}
	return out
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrBadScheme
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

type principalKey struct{}

// NewContext returns ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by NewContext.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
