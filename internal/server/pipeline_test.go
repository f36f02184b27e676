package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/dispatch"
	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/model"
	"thermo-pipeline/internal/publish"
	"thermo-pipeline/internal/query"
	"thermo-pipeline/internal/worker"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureWriter 는 저장된 object 를 기억하는 storage.Writer 이다.
type captureWriter struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
	done   chan struct{}
}

func (c *captureWriter) Put(_ context.Context, key string, body []byte, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	c.keys = append(c.keys, key)
	c.bodies = append(c.bodies, cp)
	select {
	case c.done <- struct{}{}:
	default:
	}
	return nil
}

func (c *captureWriter) PutFile(_ context.Context, _ string, _ io.ReadSeeker, _ int64) error {
	return nil
}

// stubEngine 은 저장된 object 내용을 기반으로 쿼리 결과를 돌려준다.
type stubEngine struct {
	rows [][]string
}

func (s *stubEngine) Submit(_ context.Context, _ string) (string, error) { return "exec-1", nil }
func (s *stubEngine) Poll(_ context.Context, _ string) (query.Status, error) {
	return query.Status{State: query.StateSucceeded}, nil
}
func (s *stubEngine) Fetch(_ context.Context, _ string) ([][]string, error) { return s.rows, nil }

type memQueue struct {
	bodies [][]byte
}

func (q *memQueue) Enqueue(_ context.Context, body []byte) error {
	q.bodies = append(q.bodies, body)
	return nil
}

// 수집 → 저장 → 조회 → 게시 → 전송 전체 경로를 관통한다.
// 쿼리 엔진만 stub 이고 나머지 단계는 실제 구현이다.
func TestPipelineEndToEnd(t *testing.T) {
	m := metrics.New()

	// --- 1단계: 수집 서버가 2개 레코드를 1개 파티션 object 로 저장 ---
	cfg := config.Ingest{
		Common:          config.Common{InstanceID: "e2e"},
		RawPrefix:       "raw",
		DLQPrefix:       "dlq",
		MaxBodySize:     1 << 20,
		ChannelSize:     16,
		UploadQueue:     4,
		BatchSize:       2,
		FlushInterval:   time.Hour,
		DLQDir:          t.TempDir(),
		DLQMaxSizeBytes: 1 << 20,
	}
	cw := &captureWriter{done: make(chan struct{}, 1)}
	mgr := worker.NewManager(cfg, m, cw)
	mgr.Start()

	h := NewHandler(cfg, m, mgr)
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(
		`[{"sensorId":"s-1","rawTemperature":70.7,"rawHumidity":40.0,"timestamp":"2025-02-10T12:00:00Z"},
		  {"sensorId":"s-2","rawTemperature":212.0,"rawHumidity":41.5,"timestamp":"2025-02-10T12:05:00Z"}]`))
	rr := httptest.NewRecorder()
	h.HandleIngest(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	select {
	case <-cw.done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never stored")
	}
	mgr.Shutdown()

	require.Len(t, cw.keys, 1, "one batch, one object")
	objectKey := cw.keys[0]
	assert.True(t, strings.HasPrefix(objectKey, "raw/year=2025/month=02/day=10/"))

	lines := bytes.Split(bytes.TrimSpace(cw.bodies[0]), []byte("\n"))
	require.Len(t, lines, 2)

	// --- 2단계: 저장된 레코드로 쿼리 결과를 구성하고 lifecycle 실행 ---
	engineRows := [][]string{
		{"sensorid", "temperature_celsius", "rawhumidity", "timestamp", "objectkey"},
	}
	for _, line := range lines {
		var rec model.SensorRecord
		require.NoError(t, json.Unmarshal(line, &rec))
		celsius := (rec.RawTemperature - 32) * 5.0 / 9.0
		engineRows = append(engineRows, []string{
			rec.SensorID,
			fmt.Sprintf("%.2f", celsius),
			fmt.Sprintf("%g", rec.RawHumidity),
			rec.Timestamp,
			rec.ObjectKey,
		})
	}

	orch := query.NewOrchestrator(&stubEngine{rows: engineRows}, m, time.Millisecond, time.Second)
	rows, err := orch.Run(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "21.50", rows[0].TemperatureCelsius)
	assert.Equal(t, "100.00", rows[1].TemperatureCelsius)
	assert.Equal(t, objectKey, rows[0].ObjectKey, "provenance key survives the query stage")

	// --- 3단계: 행 단위 게시 후 배치로 sink 전송 ---
	q := &memQueue{}
	sent, total := publish.NewPublisher(q, m).PublishAll(context.Background(), rows)
	require.Equal(t, 2, sent)
	require.Equal(t, 2, total)

	var sinkBodies [][]byte
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sinkBodies = append(sinkBodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	d := dispatch.NewDispatcher(config.Dispatch{
		SinkURL:     sink.URL,
		MaxAttempts: 3,
		BackoffUnit: time.Millisecond,
	}, &http.Client{Timeout: time.Second}, m)

	require.NoError(t, d.Dispatch(context.Background(), q.bodies))

	require.Len(t, sinkBodies, 1, "one queue batch, one sink call")
	var delivered []model.ResultRow
	require.NoError(t, json.Unmarshal(sinkBodies[0], &delivered))
	require.Len(t, delivered, 2)
	assert.Equal(t, "s-1", delivered[0].SensorID)
	assert.Equal(t, "21.50", delivered[0].TemperatureCelsius)
	assert.Equal(t, objectKey, delivered[0].ObjectKey)
	assert.Equal(t, "s-2", delivered[1].SensorID)
}
