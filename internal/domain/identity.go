package domain

// Identity is a user's stored OAuth credential pair against GitHub.
// Both tokens are set together or both are empty.
type Identity struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// Authorized reports whether the identity carries an access token.
func (i *Identity) Authorized() bool {
	return i != nil && i.AccessToken != ""
}

// TokenResponse is the body returned by the GitHub OAuth token endpoint.
// Only the two token strings are persisted.
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	TokenType             string `json:"token_type"`
	Scope                 string `json:"scope"`

	// GitHub answers token errors with 200 and these fields set.
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}
