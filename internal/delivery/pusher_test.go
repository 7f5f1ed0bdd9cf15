package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coffeeshop/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPusherSendsBodyAndHeaders(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewHTTPPusher(time.Second, "1.2.3")
	sub := &models.Subscriber{ID: 9, Channel: 3, Resource: srv.URL + "/hook"}
	msg := &models.Message{ID: "01MSG", Channel: 3, ContentType: "application/json", Body: []byte(`{"a":1}`)}

	code, err := p.Push(context.Background(), sub, msg, "d-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, code)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/hook", got.URL.Path)
	assert.Equal(t, `{"a":1}`, string(body))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "coffeeshop/1.2.3", got.Header.Get("User-Agent"))
	assert.Equal(t, "d-1", got.Header.Get(HeaderDelivery))
	assert.Equal(t, "01MSG", got.Header.Get(HeaderMessage))
	assert.Equal(t, "3", got.Header.Get(HeaderChannel))
}

func TestHTTPPusherDoesNotFollowRedirect(t *testing.T) {
	var followed bool
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	})
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, _ *http.Request) {
		followed = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHTTPPusher(time.Second, "")
	code, err := p.Push(context.Background(), &models.Subscriber{Resource: srv.URL + "/hook"}, &models.Message{Body: []byte("x")}, "d")

	assert.Equal(t, http.StatusFound, code)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, followed)
}

func TestHTTPPusherNon2xxIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPPusher(time.Second, "")
	code, err := p.Push(context.Background(), &models.Subscriber{Resource: srv.URL}, &models.Message{}, "d")

	assert.Equal(t, http.StatusInternalServerError, code)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
}

func TestHTTPPusherTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPPusher(50*time.Millisecond, "")
	code, err := p.Push(context.Background(), &models.Subscriber{Resource: srv.URL}, &models.Message{}, "d")

	assert.Zero(t, code)
	assert.True(t, IsTransient(err))
}

func TestHTTPPusherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewHTTPPusher(time.Second, "")
	_, err := p.Push(context.Background(), &models.Subscriber{Resource: url}, &models.Message{}, "d")
	assert.True(t, IsTransient(err))
}
