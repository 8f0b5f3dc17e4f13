package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-authgate/oidc-account/internal/config"
	"github.com/go-authgate/oidc-account/internal/store"
	"github.com/go-authgate/oidc-account/internal/token"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTransport struct {
	refreshCalls  atomic.Int32
	exchangeCalls atomic.Int32
	cleared       atomic.Int32

	gate    chan struct{}
	refresh func(refreshToken string) (token.Set, error)
}

func (f *fakeTransport) ExchangeCode(context.Context, string, config.ClientConfig) (token.Set, error) {
	f.exchangeCalls.Add(1)
	return token.Set{}, errors.New("unexpected exchange")
}

func (f *fakeTransport) Refresh(ctx context.Context, refreshToken string, _ config.ClientConfig) (token.Set, error) {
	f.refreshCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if err := ctx.Err(); err != nil {
		return token.Set{}, fmt.Errorf("%w: %w", token.ErrNetwork, err)
	}
	return f.refresh(refreshToken)
}

func (f *fakeTransport) ClearSession() { f.cleared.Add(1) }

// failingStore rejects every Put.
type failingStore struct {
	store.Store
}

func (s failingStore) Put(_ context.Context, rec store.Record) error {
	return &store.Error{Op: "put", AccountID: rec.Account.ID(), Err: errors.New("disk full")}
}

var account = store.Account{Type: "oidc", Name: "alice"}

func seed(t *testing.T, s store.Store, set token.Set) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), store.Record{Account: account, Tokens: set, UpdatedAt: epoch}))
}

func stored(t *testing.T, s store.Store) token.Set {
	t.Helper()
	rec, err := s.Get(context.Background(), account.ID())
	require.NoError(t, err)
	return rec.Tokens
}

func newManager(s store.Store, tr Transport, clock *fakeClock) *Manager {
	return New(s, tr, WithClock(clock.Now))
}

func rotating(clock *fakeClock) func(string) (token.Set, error) {
	return func(string) (token.Set, error) {
		return token.Set{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			TokenType:    "Bearer",
			Expiry:       clock.Now().Add(time.Hour),
		}, nil
	}
}

func TestGetValidAccessToken_FastPath(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	tr := &fakeTransport{refresh: rotating(clock)}
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(time.Hour)})
	m := newManager(s, tr, clock)

	for range 5 {
		got, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
		require.NoError(t, err)
		assert.Equal(t, "access-1", got)
	}
	assert.Equal(t, int32(0), tr.refreshCalls.Load())
}

func TestCachedAccessToken(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	tr := &fakeTransport{refresh: rotating(clock)}
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(time.Hour)})
	m := newManager(s, tr, clock)
	ctx := context.Background()

	got, ok, err := m.CachedAccessToken(ctx, account.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "access-1", got)

	// Expiry is judged by the manager's clock, skew included.
	clock.Advance(time.Hour - DefaultSkew + time.Second)
	got, ok, err = m.CachedAccessToken(ctx, account.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), tr.refreshCalls.Load())

	_, _, err = m.CachedAccessToken(ctx, "oidc/nobody")
	assert.ErrorIs(t, err, token.ErrNoAccount)
}

func TestGetValidAccessToken_SkewMargin(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	tr := &fakeTransport{refresh: rotating(clock)}
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(20 * time.Second)})
	m := newManager(s, tr, clock)

	got, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, "access-2", got)
	assert.Equal(t, int32(1), tr.refreshCalls.Load())

	m = New(s, tr, WithClock(clock.Now), WithSkew(0))
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(20 * time.Second)})
	got, err = m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, "access-1", got)
}

func TestGetValidAccessToken_RefreshesAndPersists(t *testing.T) {
	tests := []struct {
		name   string
		seeded token.Set
	}{
		{"expired", token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", IDToken: "id-1", Expiry: epoch.Add(-time.Minute)}},
		{"unknown expiry", token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", IDToken: "id-1"}},
		{"invalidated", token.Set{RefreshToken: "refresh-1", IDToken: "id-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			s := store.NewMemoryStore()
			tr := &fakeTransport{refresh: rotating(clock)}
			seed(t, s, tt.seeded)
			m := newManager(s, tr, clock)

			got, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
			require.NoError(t, err)
			assert.Equal(t, "access-2", got)
			assert.Equal(t, int32(1), tr.refreshCalls.Load())

			persisted := stored(t, s)
			assert.Equal(t, "access-2", persisted.AccessToken)
			assert.Equal(t, "refresh-2", persisted.RefreshToken)
			assert.Equal(t, "id-1", persisted.IDToken, "id token kept when refresh omits it")
		})
	}
}

func TestGetValidAccessToken_NoAccount(t *testing.T) {
	tr := &fakeTransport{}
	m := newManager(store.NewMemoryStore(), tr, newFakeClock())

	_, err := m.GetValidAccessToken(context.Background(), "oidc/nobody", config.ClientConfig{})
	assert.ErrorIs(t, err, token.ErrNoAccount)
	assert.Equal(t, int32(0), tr.refreshCalls.Load())
}

func TestGetValidAccessToken_NoRefreshToken(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	tr := &fakeTransport{refresh: rotating(clock)}
	seed(t, s, token.Set{AccessToken: "access-1", Expiry: epoch.Add(-time.Minute)})
	m := newManager(s, tr, clock)

	_, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	assert.ErrorIs(t, err, token.ErrReauthorizationRequired)
	assert.Equal(t, int32(0), tr.refreshCalls.Load())
}

func TestGetValidAccessToken_InvalidGrantDeletesRecord(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	tr := &fakeTransport{refresh: func(string) (token.Set, error) {
		return token.Set{}, &token.OAuthError{Code: "invalid_grant", StatusCode: 400}
	}}
	seed(t, s, token.Set{AccessToken: "stale", RefreshToken: "revoked", Expiry: epoch.Add(-time.Minute)})
	m := newManager(s, tr, clock)

	got, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	assert.ErrorIs(t, err, token.ErrReauthorizationRequired)
	assert.Empty(t, got)

	_, err = s.Get(context.Background(), account.ID())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	assert.ErrorIs(t, err, token.ErrNoAccount)
}

func TestGetValidAccessToken_FailuresLeaveStoreUntouched(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr []error
	}{
		{"network", errors.Join(token.ErrNetwork, errors.New("connection reset")), []error{token.ErrTransient, token.ErrNetwork}},
		{"server error", &token.OAuthError{Code: "temporarily_unavailable", StatusCode: 503}, []error{token.ErrProtocol}},
		{"malformed", errors.Join(token.ErrProtocol, errors.New("bad json")), []error{token.ErrProtocol}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			s := store.NewMemoryStore()
			tr := &fakeTransport{refresh: func(string) (token.Set, error) { return token.Set{}, tt.err }}
			seeded := token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(-time.Minute)}
			seed(t, s, seeded)
			m := newManager(s, tr, clock)

			_, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, seeded, stored(t, s))
			assert.True(t, token.Retryable(err) == errors.Is(err, token.ErrTransient))
		})
	}
}

func TestGetValidAccessToken_StorageFailure(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemoryStore()
	seed(t, mem, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(-time.Minute)})
	tr := &fakeTransport{refresh: rotating(clock)}
	m := newManager(failingStore{Store: mem}, tr, clock)

	got, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	assert.ErrorIs(t, err, token.ErrStorage)
	assert.Empty(t, got)
	assert.Equal(t, "access-1", stored(t, mem).AccessToken)
}

func TestGetValidAccessToken_CoalescesConcurrentRefreshes(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(-time.Minute)})
	tr := &fakeTransport{refresh: rotating(clock), gate: make(chan struct{})}
	m := newManager(s, tr, clock)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Go(func() {
			results[i], errs[i] = m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(tr.gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", results[i])
	}
	assert.Equal(t, int32(1), tr.refreshCalls.Load())
}

func TestGetValidAccessToken_CancelledCallerDoesNotAbortSharedRefresh(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(-time.Minute)})
	tr := &fakeTransport{refresh: rotating(clock), gate: make(chan struct{})}
	m := newManager(s, tr, clock)

	ctx, cancel := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := m.GetValidAccessToken(ctx, account.ID(), config.ClientConfig{})
		starterErr <- err
	}()
	require.Eventually(t, func() bool { return tr.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	joined := make(chan string, 1)
	go func() {
		got, _ := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
		joined <- got
	}()

	cancel()
	assert.ErrorIs(t, <-starterErr, token.ErrCancelled)

	close(tr.gate)
	select {
	case got := <-joined:
		assert.Equal(t, "access-2", got)
	case <-time.After(time.Second):
		t.Fatal("joined caller never returned")
	}
	assert.Equal(t, int32(1), tr.refreshCalls.Load())
	assert.Equal(t, "access-2", stored(t, s).AccessToken)
}

func TestInvalidate(t *testing.T) {
	t.Run("forces refresh", func(t *testing.T) {
		clock := newFakeClock()
		s := store.NewMemoryStore()
		tr := &fakeTransport{refresh: rotating(clock)}
		seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", IDToken: "id-1", Expiry: epoch.Add(time.Hour)})
		m := newManager(s, tr, clock)

		require.NoError(t, m.Invalidate(context.Background(), account.ID()))
		assert.Equal(t, int32(1), tr.cleared.Load())

		persisted := stored(t, s)
		assert.Empty(t, persisted.AccessToken)
		assert.Empty(t, persisted.IDToken)
		assert.Equal(t, "refresh-1", persisted.RefreshToken)

		got, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
		require.NoError(t, err)
		assert.Equal(t, "access-2", got)
		assert.Equal(t, int32(1), tr.refreshCalls.Load())
	})

	t.Run("without refresh token", func(t *testing.T) {
		clock := newFakeClock()
		s := store.NewMemoryStore()
		tr := &fakeTransport{refresh: rotating(clock)}
		seed(t, s, token.Set{AccessToken: "access-1", Expiry: epoch.Add(time.Hour)})
		m := newManager(s, tr, clock)

		require.NoError(t, m.Invalidate(context.Background(), account.ID()))
		_, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
		assert.ErrorIs(t, err, token.ErrReauthorizationRequired)
		assert.Equal(t, int32(0), tr.refreshCalls.Load())
	})

	t.Run("unknown account", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newManager(store.NewMemoryStore(), tr, newFakeClock())
		err := m.Invalidate(context.Background(), "oidc/ghost")
		assert.ErrorIs(t, err, token.ErrNoAccount)
		assert.Equal(t, int32(1), tr.cleared.Load())
	})
}

func TestReset_KeepsIdentity(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	tr := &fakeTransport{refresh: rotating(clock)}
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", IDToken: "id-1", Expiry: epoch.Add(time.Hour)})
	m := newManager(s, tr, clock)

	require.NoError(t, m.Reset(context.Background(), account.ID()))
	assert.True(t, stored(t, s).Cleared())

	accounts, err := m.Accounts(context.Background(), config.ClientConfig{AccountType: "oidc"})
	require.NoError(t, err)
	assert.Equal(t, []store.Account{account}, accounts)

	_, err = m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	assert.ErrorIs(t, err, token.ErrReauthorizationRequired)
	assert.Equal(t, int32(0), tr.refreshCalls.Load())
}

func TestDeleteAccount(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	tr := &fakeTransport{refresh: rotating(clock)}
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(time.Hour)})
	m := newManager(s, tr, clock)

	require.NoError(t, m.DeleteAccount(context.Background(), account.ID()))
	require.NoError(t, m.DeleteAccount(context.Background(), account.ID()), "delete is idempotent")
	assert.Equal(t, int32(2), tr.cleared.Load())

	_, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	assert.ErrorIs(t, err, token.ErrNoAccount)

	accounts, err := m.Accounts(context.Background(), config.ClientConfig{AccountType: "oidc"})
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestWithSessionClearer_Overrides(t *testing.T) {
	tr := &fakeTransport{}
	other := &fakeTransport{}
	m := New(store.NewMemoryStore(), tr, WithSessionClearer(other))

	require.NoError(t, m.DeleteAccount(context.Background(), "oidc/x"))
	assert.Equal(t, int32(0), tr.cleared.Load())
	assert.Equal(t, int32(1), other.cleared.Load())
}

func TestRefreshMetrics(t *testing.T) {
	clock := newFakeClock()
	s := store.NewMemoryStore()
	seed(t, s, token.Set{AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: epoch.Add(-time.Minute)})
	m := newManager(s, &fakeTransport{refresh: rotating(clock)}, clock)

	ok := testutil.ToFloat64(refreshTotal.WithLabelValues(resultOK))
	_, err := m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	require.NoError(t, err)
	assert.InDelta(t, ok+1, testutil.ToFloat64(refreshTotal.WithLabelValues(resultOK)), 0)

	seed(t, s, token.Set{AccessToken: "access-1", Expiry: epoch.Add(-time.Minute)})
	missing := testutil.ToFloat64(refreshTotal.WithLabelValues(resultNoRefreshToken))
	_, err = m.GetValidAccessToken(context.Background(), account.ID(), config.ClientConfig{})
	require.Error(t, err)
	assert.InDelta(t, missing+1, testutil.ToFloat64(refreshTotal.WithLabelValues(resultNoRefreshToken)), 0)
}
