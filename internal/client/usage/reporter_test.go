package usage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"qrypub/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageCall struct {
	counter   int64
	timestamp string
}

type mapCall struct {
	table    protocol.UsageStatsTable
	from, to string
}

type recordingSink struct {
	mu       sync.Mutex
	fail     error
	counters []usageCall
	maps     []mapCall
}

func (s *recordingSink) PublishApiUsageMap(table protocol.UsageStatsTable, fromTs, toTs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.maps = append(s.maps, mapCall{table, fromTs, toTs})
	return nil
}

func (s *recordingSink) PublishApiUsage(counter int64, timestamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.counters = append(s.counters, usageCall{counter, timestamp})
	return nil
}

func TestReporter_Flush(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newWithClock(func() time.Time { return now })
	sink := &recordingSink{}
	r := NewReporter(c, sink, time.Minute, nil)

	c.Record("/v1/chain", 200)
	c.Record("/v1/chain", 500)
	now = now.Add(time.Minute)
	r.Flush()

	require.Len(t, sink.maps, 1)
	assert.Equal(t, protocol.UsageStatsTable{"/v1/chain": {200: 1, 500: 1}}, sink.maps[0].table)
	assert.Equal(t, "2024-01-01T00:00:00Z", sink.maps[0].from)
	assert.Equal(t, "2024-01-01T00:01:00Z", sink.maps[0].to)
	require.Len(t, sink.counters, 1)
	assert.Equal(t, usageCall{2, "2024-01-01T00:01:00Z"}, sink.counters[0])

	// An idle window only reports the counter.
	r.Flush()
	assert.Len(t, sink.maps, 1)
	require.Len(t, sink.counters, 2)
	assert.EqualValues(t, 0, sink.counters[1].counter)
}

func TestReporter_FailureRestoresWindow(t *testing.T) {
	c := New()
	sink := &recordingSink{fail: errors.New("not connected")}
	r := NewReporter(c, sink, time.Minute, nil)

	c.Record("/a", 200)
	r.Flush()
	assert.EqualValues(t, 1, c.Snapshot().Requests)

	sink.fail = nil
	c.Record("/a", 200)
	r.Flush()
	require.Len(t, sink.maps, 1)
	assert.EqualValues(t, 2, sink.maps[0].table["/a"][200])
}

func TestReporter_RunFlushesOnCancel(t *testing.T) {
	c := New()
	sink := &recordingSink{}
	r := NewReporter(c, sink, time.Hour, nil)

	c.Record("/a", 200)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sink.maps, 1)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := New()

	router := gin.New()
	router.Use(Middleware(c))
	router.GET("/v1/chain/:method", func(ctx *gin.Context) {
		if ctx.Param("method") == "fail" {
			ctx.Status(http.StatusInternalServerError)
			return
		}
		ctx.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/v1/chain/get_info", "/v1/chain/get_block", "/v1/chain/fail", "/nope"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	snap := c.Snapshot()
	assert.EqualValues(t, 4, snap.Requests)
	assert.EqualValues(t, 2, snap.Table["/v1/chain/:method"][http.StatusOK])
	assert.EqualValues(t, 1, snap.Table["/v1/chain/:method"][http.StatusInternalServerError])
	assert.EqualValues(t, 1, snap.Table[UnmatchedEndpoint][http.StatusNotFound])
}
