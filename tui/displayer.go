package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from the account commands.
type Displayer interface {
	Banner(title string)
	AccountFound(account string)
	NoAccount()
	TokenValid()
	Refreshing()
	RefreshOK()
	ReAuthRequired(err error)
	AuthURLReady(authURL string, loopback bool, deadline time.Time)
	WaitingForRedirect()
	LoginComplete(account string)
	APICallOK(username string)
	APICallFailed(err error)
	AccessTokenRejected()
	Invalidated(account string)
	TokensCleared(account string)
	Deleted(account string)
	Done(s Summary)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stdout is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner(title string) {
	fmt.Fprintf(p.w, "=== %s ===\n", title)
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) AccountFound(account string) {
	fmt.Fprintf(p.w, "Using account %s\n", account)
}

func (p *PlainDisplayer) NoAccount() {
	fmt.Fprintln(p.w, "No account found, starting login...")
}

func (p *PlainDisplayer) TokenValid() {
	fmt.Fprintln(p.w, "Access token is still valid, using it...")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) ReAuthRequired(err error) {
	fmt.Fprintf(p.w, "Reauthorization required: %v\n", err)
	fmt.Fprintln(p.w, "Starting new login...")
}

func (p *PlainDisplayer) AuthURLReady(authURL string, loopback bool, _ time.Time) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Please open this link to authorize:\n%s\n", authURL)
	if !loopback {
		fmt.Fprintln(p.w, "\nThen paste the URL you were redirected to below.")
	}
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) WaitingForRedirect() {
	fmt.Fprintln(p.w, "Waiting for authorization...")
}

func (p *PlainDisplayer) LoginComplete(account string) {
	fmt.Fprintf(p.w, "\nAuthorization successful! Tokens stored for %s\n", account)
}

func (p *PlainDisplayer) APICallOK(username string) {
	if username != "" {
		fmt.Fprintf(p.w, "Logged in as %s\n", username)
		return
	}
	fmt.Fprintln(p.w, "API call successful!")
}

func (p *PlainDisplayer) APICallFailed(err error) {
	fmt.Fprintf(p.w, "API call failed: %v\n", err)
}

func (p *PlainDisplayer) AccessTokenRejected() {
	fmt.Fprintln(p.w, "Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) Invalidated(account string) {
	fmt.Fprintf(p.w, "Cached access token dropped for %s\n", account)
}

func (p *PlainDisplayer) TokensCleared(account string) {
	fmt.Fprintf(p.w, "All tokens cleared for %s\n", account)
}

func (p *PlainDisplayer) Deleted(account string) {
	fmt.Fprintf(p.w, "Account %s deleted\n", account)
}

func (p *PlainDisplayer) Done(s Summary) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, "Current Token Info:")
	fmt.Fprintf(p.w, "Account: %s\n", s.Account)
	if s.Username != "" {
		fmt.Fprintf(p.w, "User: %s\n", s.Username)
	}
	fmt.Fprintf(p.w, "Access Token: %s\n", s.Preview)
	fmt.Fprintf(p.w, "Token Type: %s\n", s.TokenType)
	fmt.Fprintf(p.w, "Expires In: %s\n", expiresText(s.ExpiresIn))
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

func expiresText(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	return d.Round(time.Second).String()
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_ string)                            {}
func (NoopDisplayer) AccountFound(_ string)                      {}
func (NoopDisplayer) NoAccount()                                 {}
func (NoopDisplayer) TokenValid()                                {}
func (NoopDisplayer) Refreshing()                                {}
func (NoopDisplayer) RefreshOK()                                 {}
func (NoopDisplayer) ReAuthRequired(_ error)                     {}
func (NoopDisplayer) AuthURLReady(_ string, _ bool, _ time.Time) {}
func (NoopDisplayer) WaitingForRedirect()                        {}
func (NoopDisplayer) LoginComplete(_ string)                     {}
func (NoopDisplayer) APICallOK(_ string)                         {}
func (NoopDisplayer) APICallFailed(_ error)                      {}
func (NoopDisplayer) AccessTokenRejected()                       {}
func (NoopDisplayer) Invalidated(_ string)                       {}
func (NoopDisplayer) TokensCleared(_ string)                     {}
func (NoopDisplayer) Deleted(_ string)                           {}
func (NoopDisplayer) Done(_ Summary)                             {}
func (NoopDisplayer) Fatal(_ error)                              {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(title string) {
	t.p.Send(MsgBanner{Title: title})
}

func (t *ProgramDisplayer) AccountFound(account string) {
	t.p.Send(MsgAccountFound{Account: account})
}

func (t *ProgramDisplayer) NoAccount() {
	t.p.Send(MsgNoAccount{})
}

func (t *ProgramDisplayer) TokenValid() {
	t.p.Send(MsgTokenValid{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) ReAuthRequired(err error) {
	t.p.Send(MsgReAuthRequired{Err: err})
}

func (t *ProgramDisplayer) AuthURLReady(authURL string, loopback bool, deadline time.Time) {
	t.p.Send(MsgAuthURLReady{URL: authURL, Loopback: loopback, Deadline: deadline})
}

func (t *ProgramDisplayer) WaitingForRedirect() {
	t.p.Send(MsgWaitingForRedirect{})
}

func (t *ProgramDisplayer) LoginComplete(account string) {
	t.p.Send(MsgLoginComplete{Account: account})
}

func (t *ProgramDisplayer) APICallOK(username string) {
	t.p.Send(MsgAPICallOK{Username: username})
}

func (t *ProgramDisplayer) APICallFailed(err error) {
	t.p.Send(MsgAPICallFailed{Err: err})
}

func (t *ProgramDisplayer) AccessTokenRejected() {
	t.p.Send(MsgAccessTokenRejected{})
}

func (t *ProgramDisplayer) Invalidated(account string) {
	t.p.Send(MsgInvalidated{Account: account})
}

func (t *ProgramDisplayer) TokensCleared(account string) {
	t.p.Send(MsgTokensCleared{Account: account})
}

func (t *ProgramDisplayer) Deleted(account string) {
	t.p.Send(MsgDeleted{Account: account})
}

func (t *ProgramDisplayer) Done(s Summary) {
	t.p.Send(MsgDone{Summary: s})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
