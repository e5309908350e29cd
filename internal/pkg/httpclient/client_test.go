package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func newTestClient() *Client {
	return NewClient(noop.NewTracerProvider().Tracer("test"), WithRetryConfig(fastRetry(3)), WithTimeout(time.Second))
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"paid"}`))
	}))
	defer srv.Close()

	var out struct {
		Status string `json:"status"`
	}
	err := newTestClient().GetJSON(context.Background(), "stripe", srv.URL, http.Header{"Authorization": {"Bearer k"}}, &out)
	require.NoError(t, err)
	require.Equal(t, "paid", out.Status)
	require.EqualValues(t, 2, calls.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing field", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestClient().PostJSON(context.Background(), "lob", srv.URL, nil, map[string]string{"a": "b"}, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	require.Equal(t, "lob", statusErr.Service)
	require.EqualValues(t, 1, calls.Load())
}

func TestPostFormResendsBody(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		bodies = append(bodies, r.PostForm.Get("amount"))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	data, err := newTestClient().PostForm(context.Background(), "stripe", srv.URL, url.Values{"amount": {"299"}}, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(data))
	require.Equal(t, []string{"299", "299"}, bodies)
}

func TestStatusErrorTruncatesBody(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	err := &StatusError{Service: "openai", StatusCode: 500, Body: string(long)}
	require.Less(t, len(err.Error()), 300)
}

func TestTransportErrorHidesQueryCredentials(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := newTestClient().GetJSON(context.Background(), "geocodio", addr+"/geocode?api_key=SECRET-KEY&q=Nashville", nil, nil)
	require.Error(t, err)
	require.NotContains(t, err.Error(), "SECRET-KEY")
	require.Contains(t, err.Error(), "api_key=xxxxx")

	var uerr *url.Error
	require.ErrorAs(t, err, &uerr)
	require.NotContains(t, uerr.URL, "SECRET-KEY")
}

func TestRedactURL(t *testing.T) {
	u, err := url.Parse("https://user:pw@api.example/v1?q=Main+St&API_KEY=abc&token=t1")
	require.NoError(t, err)

	redacted := RedactURL(u)
	require.False(t, strings.Contains(redacted, "abc") || strings.Contains(redacted, "t1") || strings.Contains(redacted, ":pw@"))
	require.Contains(t, redacted, "q=Main+St")
	require.Equal(t, "abc", u.Query().Get("API_KEY"))

	plain, err := url.Parse("https://api.example/v1?q=x")
	require.NoError(t, err)
	require.Equal(t, "https://api.example/v1?q=x", RedactURL(plain))
	require.Empty(t, RedactURL(nil))
}
