package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresher_EnsureValidReturnsTokenUnchangedWhenStillFresh(t *testing.T) {
	r := NewRefresher(PKCEConfig{TokenURL: "http://unreachable.invalid"})
	tok := Token{AccessToken: "still-good", ExpiresAt: time.Now().Add(time.Hour)}
	got, err := r.EnsureValid(context.Background(), "p1", tok)
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, got.AccessToken)
}

func TestRefresher_EnsureValidRefreshesWhenExpired(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	r := NewRefresher(PKCEConfig{TokenURL: srv.URL})
	tok := Token{AccessToken: "stale", RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute)}
	got, err := r.EnsureValid(context.Background(), "p1", tok)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", got.AccessToken)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRefresher_ConcurrentRefreshesForSameProviderAreDeduplicated(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	r := NewRefresher(PKCEConfig{TokenURL: srv.URL})
	tok := Token{AccessToken: "stale", RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute)}

	var wg sync.WaitGroup
	results := make([]Token, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			got, err := r.EnsureValid(context.Background(), "shared-provider", tok)
			require.NoError(t, err)
			results[idx] = got
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent refreshes for the same provider id must share one in-flight call")
	for _, got := range results {
		assert.Equal(t, "refreshed", got.AccessToken)
	}
}

func TestRefresher_DifferentProviderIDsRefreshIndependently(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	r := NewRefresher(PKCEConfig{TokenURL: srv.URL})
	tok := Token{RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute)}
	_, err := r.EnsureValid(context.Background(), "provider-a", tok)
	require.NoError(t, err)
	_, err = r.EnsureValid(context.Background(), "provider-b", tok)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
