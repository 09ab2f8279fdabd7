package email

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postroom/internal/common"
	"postroom/internal/config"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	t.Run("direct send", func(t *testing.T) {
		t.Parallel()

		p, err := NewProvider(config.ProviderConfig{
			Kind:       config.ProviderDirectSend,
			DirectSend: config.DirectSendConfig{SMTPServer: "localhost", SMTPPort: 2525},
		})
		require.NoError(t, err)
		defer p.Close()

		assert.IsType(t, &DirectSendProvider{}, p)
		assert.Equal(t, config.ProviderDirectSend, p.Name())
	})

	t.Run("hosted api", func(t *testing.T) {
		t.Parallel()

		p, err := NewProvider(config.ProviderConfig{
			Kind: config.ProviderHostedAPI,
			HostedAPI: config.HostedAPIConfig{
				BaseURL:  "https://graph.example.com/v1.0",
				TokenURL: "https://login.example.com/token",
				ClientID: "client",
			},
		})
		require.NoError(t, err)
		defer p.Close()

		assert.IsType(t, &HostedAPIProvider{}, p)
		assert.Equal(t, config.ProviderHostedAPI, p.Name())
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()

		p, err := NewProvider(config.ProviderConfig{Kind: "fax"})
		assert.Nil(t, p)

		var unknown *common.UnknownProviderTypeError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "fax", unknown.Kind)
	})
}

func TestClientCredentialsTokenProvider(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = r.ParseForm()
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	tp := NewClientCredentialsTokenProvider(config.HostedAPIConfig{
		TokenURL:         srv.URL,
		ClientID:         "client",
		ClientCredential: "secret",
		Scopes:           []string{"https://graph.example.com/.default"},
	}, srv.Client())

	for range 3 {
		tok, err := tp.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)
	}
	assert.Equal(t, int32(1), fetches.Load(), "token must be cached")

	tp.Invalidate()
	_, err := tp.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestClientCredentialsTokenProvider_WaiterHonoursContext(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		arrived <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"slow","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()
	defer close(release)

	tp := NewClientCredentialsTokenProvider(config.HostedAPIConfig{
		TokenURL:         srv.URL,
		ClientID:         "client",
		ClientCredential: "secret",
	}, srv.Client())

	type result struct {
		tok string
		err error
	}
	first := make(chan result, 1)
	go func() {
		tok, err := tp.Token(context.Background())
		first <- result{tok, err}
	}()
	<-arrived

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := tp.Token(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, common.IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)

	cached := make(chan struct{})
	go func() {
		// Invalidate takes only the cache lock.
		tp.Invalidate()
		close(cached)
	}()
	select {
	case <-cached:
	case <-time.After(time.Second):
		t.Fatal("Invalidate blocked behind the token fetch")
	}

	release <- struct{}{}
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, "slow", res.tok)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestClientCredentialsTokenProvider_RejectedCredentialsArePermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	tp := NewClientCredentialsTokenProvider(config.HostedAPIConfig{
		TokenURL:         srv.URL,
		ClientID:         "client",
		ClientCredential: "wrong",
	}, srv.Client())

	_, err := tp.Token(context.Background())
	require.Error(t, err)
	assert.False(t, common.IsRetryable(err))
}

func TestClientCredentialsTokenProvider_ServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tp := NewClientCredentialsTokenProvider(config.HostedAPIConfig{
		TokenURL:         srv.URL,
		ClientID:         "client",
		ClientCredential: "secret",
	}, srv.Client())

	_, err := tp.Token(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsRetryable(err))
}
