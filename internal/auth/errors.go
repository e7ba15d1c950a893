package auth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Messages handed to the Authorizer.
const (
	MessageUnauthenticated = "You're not authorized to access GitHub. Please authenticate first."
	MessageExpired         = "Your GitHub authorization has expired. Please authenticate again."
)

const (
	TextCodeRefreshFailed         = "TOKEN_REFRESH_FAILED"
	TextCodeAuthorizationRequired = "AUTHORIZATION_REQUIRED"
	TextCodeOAuthError            = "OAUTH_ERROR"
	TextCodeInvalidState          = "INVALID_STATE"
)

var errNoRefreshToken = errors.New("identity has no refresh token")

func refreshFailed(source error, identityID int64) *goerrors.Error {
	failure := goerrors.New("token refresh failed", goerrors.CategoryAuth).
		WithTextCode(TextCodeRefreshFailed).
		WithMetadata(map[string]any{"identity_id": identityID})
	failure.Source = source
	return failure
}

// AuthorizationRequiredError is returned once the user has been asked to
// (re-)authorize. URL is the page the prompt pointed them to, if any.
type AuthorizationRequiredError struct {
	IdentityID int64
	Message    string
	URL        string
}

func (e *AuthorizationRequiredError) Error() string {
	return fmt.Sprintf("identity %d must authorize with GitHub: %s", e.IdentityID, e.Message)
}

// IsAuthorizationRequired reports whether err means the caller should
// wait for the user to authorize rather than treat the call as failed.
func IsAuthorizationRequired(err error) bool {
	var authErr *AuthorizationRequiredError
	return errors.As(err, &authErr)
}
