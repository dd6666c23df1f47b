package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/hackgods/consul-visit-booker/internal/audit"
	"github.com/hackgods/consul-visit-booker/internal/control"
	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/metrics"
	"github.com/hackgods/consul-visit-booker/internal/queue"
	"github.com/hackgods/consul-visit-booker/internal/scheduler"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

type activity struct{}

func (activity) Active() string { return "alice" }
func (activity) Finished() int  { return 3 }

type RouterSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	gate    *scheduler.Gate
	stopped bool
	slots   *slots.Memory
	events  *audit.Memory
	handler http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.rdb = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.gate = &scheduler.Gate{}
	s.stopped = false
	s.slots = slots.NewMemory()
	s.events = audit.NewMemory(10)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetQueueLength(2)

	q := queue.New(&identity.Identity{Alias: "bob"}, &identity.Identity{Alias: "carol"})
	s.handler = NewRouter(RouterConfig{
		Queue:    q,
		Activity: activity{},
		Slots:    s.slots,
		Events:   s.events,
		Control:  control.NewController(s.gate, func() { s.stopped = true }, zerolog.Nop()),
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Redis:    s.rdb,
		Log:      zerolog.Nop(),
		Env:      "test",
		Version:  "v0",
	})
}

func (s *RouterSuite) TearDownTest() {
	_ = s.rdb.Close()
}

func (s *RouterSuite) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().Equal("application/json", rec.Header().Get("Content-Type"))
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v))
}

func (s *RouterSuite) TestLiveness() {
	rec := s.do(http.MethodGet, "/health/live")
	s.Equal(http.StatusOK, rec.Code)
	s.NotEmpty(rec.Header().Get("X-Request-ID"))

	var resp LivenessResponse
	s.decode(rec, &resp)
	s.Equal(LivenessResponse{Status: "ok", Version: "v0", Env: "test"}, resp)
}

func (s *RouterSuite) TestReadinessDegradesWithoutRedis() {
	var resp ReadinessResponse
	rec := s.do(http.MethodGet, "/health/ready")
	s.Equal(http.StatusOK, rec.Code)
	s.decode(rec, &resp)
	s.Equal("ok", resp.Status)
	s.Equal(map[string]string{"postgres": "disabled", "redis": "ok"}, resp.Dependencies)

	s.mr.Close()
	rec = s.do(http.MethodGet, "/health/ready")
	s.Equal(http.StatusOK, rec.Code)
	s.decode(rec, &resp)
	s.Equal("degraded", resp.Status)
	s.Equal("down", resp.Dependencies["redis"])
}

func (s *RouterSuite) TestQueue() {
	s.gate.Pause()

	var resp QueueResponse
	rec := s.do(http.MethodGet, "/queue")
	s.Equal(http.StatusOK, rec.Code)
	s.decode(rec, &resp)
	s.Equal(QueueResponse{
		State:    control.Paused,
		Active:   "alice",
		Finished: 3,
		Length:   2,
		Aliases:  []string{"bob", "carol"},
	}, resp)
}

func (s *RouterSuite) TestSlots() {
	s.Require().NoError(s.slots.Add(context.Background(), "Польща", "Варшава", "Паспорт", "30.06.2025"))

	var resp SlotsResponse
	rec := s.do(http.MethodGet, "/slots")
	s.Equal(http.StatusOK, rec.Code)
	s.decode(rec, &resp)
	s.Equal([]string{"30.06.2025"}, resp.Slots["Польща"]["Варшава"]["Паспорт"])
}

func (s *RouterSuite) TestEventsNewestFirst() {
	hooks := audit.NewHooks(s.events, zerolog.Nop())
	ctx := context.Background()
	hooks.NextIdentity(ctx, "alice")
	hooks.SlotFound(ctx, audit.Slot{Alias: "alice", Date: "01.07.2025", Time: "10:30"}, "found.png")
	hooks.SlotBooked(ctx, audit.Slot{Alias: "alice", Date: "01.07.2025", Time: "10:30"}, "")

	var resp []EventResponse
	rec := s.do(http.MethodGet, "/events?limit=2")
	s.Equal(http.StatusOK, rec.Code)
	s.decode(rec, &resp)
	s.Require().Len(resp, 2)
	s.Equal(audit.KindSlotBooked, resp[0].Kind)
	s.Equal(audit.KindSlotFound, resp[1].Kind)
	s.Equal("found.png", resp[1].Screenshot)
	s.Equal("10:30", resp[1].Slot.Time)

	rec = s.do(http.MethodGet, "/events?limit=zero")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestControl() {
	var resp ControlResponse
	rec := s.do(http.MethodPost, "/control/pause")
	s.Equal(http.StatusOK, rec.Code)
	s.decode(rec, &resp)
	s.Equal(ControlResponse{Command: "pause", Reply: control.Paused}, resp)
	s.True(s.gate.Paused())

	rec = s.do(http.MethodPost, "/control/resume")
	s.Equal(http.StatusOK, rec.Code)
	s.False(s.gate.Paused())

	rec = s.do(http.MethodPost, "/control/stop")
	s.Equal(http.StatusOK, rec.Code)
	s.True(s.stopped)

	rec = s.do(http.MethodPost, "/control/dance")
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/control/pause")
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func (s *RouterSuite) TestMetrics() {
	rec := s.do(http.MethodGet, "/metrics")
	s.Equal(http.StatusOK, rec.Code)
	s.True(strings.Contains(rec.Body.String(), "booker_queue_length 2"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
