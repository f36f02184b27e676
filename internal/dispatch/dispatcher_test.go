package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink 는 시도별 응답 코드를 스크립트할 수 있는 sink 이다.
type fakeSink struct {
	mu        sync.Mutex
	codes     []int // 시도별 응답 코드, 소진되면 마지막 값 반복
	bodies    [][]byte
	attemptAt []time.Time
}

func (s *fakeSink) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		body, _ := io.ReadAll(r.Body)
		s.bodies = append(s.bodies, body)
		s.attemptAt = append(s.attemptAt, time.Now())

		i := len(s.bodies) - 1
		if i >= len(s.codes) {
			i = len(s.codes) - 1
		}
		code := s.codes[i]
		w.WriteHeader(code)
		if code >= 400 {
			w.Write([]byte("sink exploded"))
		}
	}
}

func (s *fakeSink) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func newTestDispatcher(t *testing.T, sinkURL string, backoff time.Duration) *Dispatcher {
	t.Helper()
	cfg := config.Dispatch{
		SinkURL:     sinkURL,
		MaxAttempts: 3,
		BackoffUnit: backoff,
	}
	return NewDispatcher(cfg, &http.Client{Timeout: time.Second}, metrics.New())
}

func msgs(bodies ...string) [][]byte {
	out := make([][]byte, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, []byte(b))
	}
	return out
}

func TestDispatchPostsSingleJSONArray(t *testing.T) {
	sink := &fakeSink{codes: []int{200}}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	err := newTestDispatcher(t, srv.URL, time.Millisecond).Dispatch(context.Background(),
		msgs(`{"sensorId":"s-1"}`, `{"sensorId":"s-2"}`))
	require.NoError(t, err)

	require.Equal(t, 1, sink.attempts())

	var posted []map[string]any
	require.NoError(t, json.Unmarshal(sink.bodies[0], &posted))
	require.Len(t, posted, 2)
	assert.Equal(t, "s-1", posted[0]["sensorId"])
	assert.Equal(t, "s-2", posted[1]["sensorId"])
}

func TestDispatchDropsUndecodableMessages(t *testing.T) {
	sink := &fakeSink{codes: []int{200}}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	// 10개 중 4번째(인덱스 3)만 깨진 JSON
	bodies := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		if i == 3 {
			bodies = append(bodies, []byte(`{"broken`))
			continue
		}
		bodies = append(bodies, []byte(`{"sensorId":"s"}`))
	}

	err := newTestDispatcher(t, srv.URL, time.Millisecond).Dispatch(context.Background(), bodies)
	require.NoError(t, err)

	var posted []json.RawMessage
	require.NoError(t, json.Unmarshal(sink.bodies[0], &posted))
	assert.Len(t, posted, 9, "invalid message must be dropped, not abort the batch")
}

func TestDispatchAllUndecodableSkipsNetworkCall(t *testing.T) {
	sink := &fakeSink{codes: []int{200}}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	err := newTestDispatcher(t, srv.URL, time.Millisecond).Dispatch(context.Background(),
		msgs(`{`, `not json`, ``))
	require.NoError(t, err, "empty decoded batch is not an error")
	assert.Zero(t, sink.attempts(), "no POST for an empty batch")
}

func TestDispatchEmptyBatch(t *testing.T) {
	sink := &fakeSink{codes: []int{200}}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	err := newTestDispatcher(t, srv.URL, time.Millisecond).Dispatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, sink.attempts())
}

func TestDispatchRetriesWithLinearBackoff(t *testing.T) {
	sink := &fakeSink{codes: []int{500, 502, 200}}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	unit := 20 * time.Millisecond
	err := newTestDispatcher(t, srv.URL, unit).Dispatch(context.Background(),
		msgs(`{"sensorId":"s-1"}`))
	require.NoError(t, err, "third attempt succeeds")
	require.Equal(t, 3, sink.attempts())

	// 대기는 attempt × unit: 1×unit 후 2번째, 2×unit 후 3번째
	gap1 := sink.attemptAt[1].Sub(sink.attemptAt[0])
	gap2 := sink.attemptAt[2].Sub(sink.attemptAt[1])
	assert.GreaterOrEqual(t, gap1, unit)
	assert.GreaterOrEqual(t, gap2, 2*unit)
}

func TestDispatchExhaustionPropagatesError(t *testing.T) {
	sink := &fakeSink{codes: []int{503}}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	err := newTestDispatcher(t, srv.URL, time.Millisecond).Dispatch(context.Background(),
		msgs(`{"sensorId":"s-1"}`))
	require.Error(t, err, "final failure must surface for queue redelivery")

	assert.Equal(t, 3, sink.attempts(), "exactly 3 attempts, no more")
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "sink exploded", "response body captured into the error")
}

func TestDispatchTransportErrorRetries(t *testing.T) {
	// 아무도 listen 하지 않는 주소 → transport 오류도 시도 실패로 취급
	d := newTestDispatcher(t, "http://127.0.0.1:1", time.Millisecond)

	err := d.Dispatch(context.Background(), msgs(`{"a":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestDispatchContextCancelDuringBackoff(t *testing.T) {
	sink := &fakeSink{codes: []int{500}}
	srv := httptest.NewServer(sink.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := newTestDispatcher(t, srv.URL, 5*time.Second)

	done := make(chan error, 1)
	go func() { done <- d.Dispatch(ctx, msgs(`{"a":1}`)) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not stop on cancellation")
	}
}
