package token

import (
	"time"

	"golang.org/x/oauth2"
)

// Set is the token bundle issued by a code exchange or a refresh.
// A Set is treated as a value: a new one replaces the old one wholesale.
type Set struct {
	IDToken      string    `json:"id_token,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expires_at,omitzero"`
}

// ValidAt reports whether the access token can be served at now without
// contacting the token endpoint. An unknown expiry is never valid.
func (s Set) ValidAt(now time.Time, skew time.Duration) bool {
	if s.AccessToken == "" || s.Expiry.IsZero() {
		return false
	}
	return now.Add(skew).Before(s.Expiry)
}

// HasRefreshToken reports whether a refresh grant can be attempted.
func (s Set) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// Cleared reports whether every token has been blanked out.
func (s Set) Cleared() bool {
	return s.IDToken == "" && s.AccessToken == "" && s.RefreshToken == ""
}

// WithoutAccess returns a copy with the access and id tokens dropped.
func (s Set) WithoutAccess() Set {
	s.IDToken = ""
	s.AccessToken = ""
	s.Expiry = time.Time{}
	return s
}

// OAuth2 converts the set to an oauth2.Token, carrying the ID token as extra.
func (s Set) OAuth2() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry,
	}
	if s.IDToken != "" {
		t = t.WithExtra(map[string]any{"id_token": s.IDToken})
	}
	return t
}

// FromOAuth2 builds a Set from an oauth2.Token.
func FromOAuth2(t *oauth2.Token) Set {
	if t == nil {
		return Set{}
	}
	s := Set{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		s.IDToken = idToken
	}
	return s
}

// Preview returns a short, non-secret prefix of the access token for display.
func (s Set) Preview() string {
	const n = 8
	if len(s.AccessToken) <= n {
		return "***"
	}
	return s.AccessToken[:n] + "..."
}
