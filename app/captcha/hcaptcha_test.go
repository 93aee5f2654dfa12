package captcha_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imMORX/Gatekeeper/app/captcha"
)

func fakeSiteverify(t *testing.T, body string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "shh", r.PostFormValue("secret"))
		assert.NotEmpty(t, r.PostFormValue("response"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyEmptyTokenSkipsUpstream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := fakeSiteverify(t, `{"success":true}`, &calls)
	v := captcha.NewVerifierWithEndpoint("shh", srv.URL, srv.Client())

	ok, err := v.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, calls.Load())
}

func TestVerifyAccepted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := fakeSiteverify(t, `{"success":true}`, &calls)
	v := captcha.NewVerifierWithEndpoint("shh", srv.URL, srv.Client())

	ok, err := v.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), calls.Load())
}

func TestVerifyRejected(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := fakeSiteverify(t, `{"success":false,"error-codes":["invalid-input-response"]}`, &calls)
	v := captcha.NewVerifierWithEndpoint("shh", srv.URL, srv.Client())

	ok, err := v.Verify(context.Background(), "bad-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	v := captcha.NewVerifierWithEndpoint("shh", srv.URL, http.DefaultClient)

	_, err := v.Verify(context.Background(), "token")
	assert.Error(t, err)
}
