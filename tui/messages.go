package tui

import (
	"time"
)

// Summary is what the final screen shows. Preview is a truncated access
// token, never the full value.
type Summary struct {
	Account   string
	Username  string
	Preview   string
	TokenType string
	ExpiresIn time.Duration
}

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ Title string }

// MsgAccountFound signals that stored credentials exist for the account.
type MsgAccountFound struct{ Account string }

// MsgNoAccount signals that no account is stored and login starts.
type MsgNoAccount struct{}

// MsgTokenValid signals that the cached access token is still valid.
type MsgTokenValid struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgReAuthRequired signals that interactive login is needed again.
type MsgReAuthRequired struct{ Err error }

// MsgAuthURLReady signals that the authorization URL must be opened.
type MsgAuthURLReady struct {
	URL      string
	Loopback bool
	Deadline time.Time
}

// MsgWaitingForRedirect signals that the redirect is awaited.
type MsgWaitingForRedirect struct{}

// MsgLoginComplete signals that tokens were obtained and stored.
type MsgLoginComplete struct{ Account string }

// MsgAPICallOK signals that an API call succeeded.
type MsgAPICallOK struct{ Username string }

// MsgAPICallFailed signals that an API call failed.
type MsgAPICallFailed struct{ Err error }

// MsgAccessTokenRejected signals that the access token was rejected (401).
type MsgAccessTokenRejected struct{}

// MsgInvalidated signals that cached tokens were dropped.
type MsgInvalidated struct{ Account string }

// MsgTokensCleared signals that every token of the account was blanked.
type MsgTokensCleared struct{ Account string }

// MsgDeleted signals that the account was removed.
type MsgDeleted struct{ Account string }

// MsgDone signals successful completion.
type MsgDone struct{ Summary Summary }

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
