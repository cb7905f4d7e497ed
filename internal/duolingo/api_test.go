package duolingo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newProfileServer(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/amy" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL+"/", nil)
}

func TestGetDataSumsLanguages(t *testing.T) {
	c := newProfileServer(t, http.StatusOK, `{"languages":[{"points":120,"language":"es"},{"points":23},{"language":"fr"}]}`)

	resp := c.GetData(context.Background(), "amy")
	assert.Empty(t, resp.Error)
	assert.Equal(t, 143, resp.TotalPoints)
}

func TestGetDataUserNotFound(t *testing.T) {
	c := newProfileServer(t, http.StatusOK, `{}`)

	resp := c.GetData(context.Background(), "bob")
	assert.Equal(t, ErrUserNotFound, resp.Error)
	assert.Equal(t, -1, resp.TotalPoints)
}

func TestGetDataServerError(t *testing.T) {
	c := newProfileServer(t, http.StatusBadGateway, `oops`)

	resp := c.GetData(context.Background(), "amy")
	assert.Equal(t, "Bad Gateway", resp.Error)
	assert.Equal(t, -1, resp.TotalPoints)
}

func TestGetDataMissingLanguages(t *testing.T) {
	for _, body := range []string{`{}`, `{"languages":null}`, `{"languages":"nope"}`} {
		c := newProfileServer(t, http.StatusOK, body)

		resp := c.GetData(context.Background(), "amy")
		assert.Empty(t, resp.Error, body)
		assert.Equal(t, 0, resp.TotalPoints, body)
	}
}

func TestGetDataUnparseable(t *testing.T) {
	c := newProfileServer(t, http.StatusOK, `<html>`)

	resp := c.GetData(context.Background(), "amy")
	assert.Contains(t, resp.Error, "parsererror")
	assert.Equal(t, -1, resp.TotalPoints)
}

func TestGetDataNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	resp := NewClient(nil, url, nil).GetData(context.Background(), "amy")
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, -1, resp.TotalPoints)
}

func TestEndpointEscapesUsername(t *testing.T) {
	c := NewClient(nil, "https://www.duolingo.com", nil)
	assert.Equal(t, "https://www.duolingo.com/users/amy%2Fx", c.Endpoint("amy/x"))
}
