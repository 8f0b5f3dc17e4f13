// Package store persists credential records keyed by account.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-authgate/oidc-account/internal/token"
)

// ErrNotFound is returned by Get when no record exists for the account.
var ErrNotFound = errors.New("credential record not found")

// Account is the identity a record belongs to.
type Account struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ID returns the key the account is stored under.
func (a Account) ID() string {
	return a.Type + "/" + a.Name
}

// ParseID splits an account id produced by Account.ID.
func ParseID(id string) (Account, error) {
	typ, name, ok := strings.Cut(id, "/")
	if !ok || typ == "" || name == "" {
		return Account{}, fmt.Errorf("invalid account id %q", id)
	}
	return Account{Type: typ, Name: name}, nil
}

// Record associates an account with its current token set.
type Record struct {
	Account   Account   `json:"account"`
	Tokens    token.Set `json:"tokens"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is durable keyed storage for credential records.
// Put replaces the record for an account wholesale; Delete is idempotent.
type Store interface {
	Get(ctx context.Context, accountID string) (Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, accountID string) error
	List(ctx context.Context, accountType string) ([]Account, error)
}

// Error indicates a credential storage failure.
type Error struct {
	Op        string // "get", "put", "delete", "list"
	AccountID string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Op + " credentials"
	if e.AccountID != "" {
		msg += " for " + e.AccountID
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports every storage failure as token.ErrStorage.
func (e *Error) Is(target error) bool {
	return target == token.ErrStorage
}

func wrap(op, accountID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, AccountID: accountID, Err: err}
}

func validate(rec Record) error {
	if rec.Account.Type == "" || rec.Account.Name == "" {
		return errors.New("account type and name are required")
	}
	return nil
}
