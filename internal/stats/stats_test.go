package stats

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countStub struct {
	n     int
	err   error
	calls int
}

func (c *countStub) Count(context.Context) (int, error) {
	c.calls++
	return c.n, c.err
}

func TestParticipantsWithoutCache(t *testing.T) {
	store := &countStub{n: 7}
	svc := NewService(store, nil, 0, nil)

	n, err := svc.Participants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	svc.Invalidate(context.Background())

	_, err = svc.Participants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestParticipantsHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	store := &countStub{n: 3}
	r.GET("/stats/participants", NewHandler(NewService(store, nil, 0, nil), nil).Participants)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats/participants", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"participants":3}}`, rec.Body.String())

	store.err = errors.New("down")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats/participants", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type feedSpy struct{ published []int }

func (f *feedSpy) PublishParticipants(_ context.Context, n int) { f.published = append(f.published, n) }

func TestInvalidatePublishesToFeed(t *testing.T) {
	store := &countStub{n: 4}
	feed := &feedSpy{}
	svc := NewService(store, nil, 0, nil).WithFeed(feed)

	svc.Invalidate(context.Background())
	store.n = 5
	svc.Invalidate(context.Background())
	assert.Equal(t, []int{4, 5}, feed.published)

	store.err = errors.New("down")
	svc.Invalidate(context.Background())
	assert.Len(t, feed.published, 2)
}
