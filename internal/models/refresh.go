package models

import "time"

// RefreshProvider identifies the OAuth/token provider family a refresh
// endpoint belongs to, used only to pick constant field names.
type RefreshProvider string

const (
	ProviderGoogle   RefreshProvider = "google"
	ProviderFirebase RefreshProvider = "firebase"
	ProviderGeneric  RefreshProvider = "generic"
)

// RefreshConfig is everything C6 needs to replay a token refresh call
// without re-deriving it from a captured exchange each time.
type RefreshConfig struct {
	URL              string            `json:"url"`
	Method           string            `json:"method"`
	Headers          map[string]string `json:"headers,omitempty"` // filtered to auth-relevant names
	Body             any               `json:"body,omitempty"`    // parsed object, or a raw string when unparsable
	Provider         RefreshProvider   `json:"provider"`
	ClientID         string            `json:"client_id,omitempty"`
	ClientSecret     string            `json:"client_secret,omitempty"`
	Scope            string            `json:"scope,omitempty"`
	RefreshToken     string            `json:"refresh_token,omitempty"`
	ExpiresInSeconds int64             `json:"expires_in_seconds,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	Degraded         bool              `json:"degraded"` // set true after 3 consecutive refresh failures
	FailureStreak    int               `json:"failure_streak"`
}

// TokenInfo is what detectRefreshEndpoint extracts from a refresh/grant
// response body.
type TokenInfo struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64
	TokenType    string
}

// RefreshDetection is the result of classifying one exchange as (or not as)
// a token refresh / initial grant call.
type RefreshDetection struct {
	IsRefresh      bool
	IsInitialGrant bool
	TokenInfo      *TokenInfo
}
