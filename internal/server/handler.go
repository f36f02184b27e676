package server

import (
	"bytes"
	"io"
	"net/http"
	"sync/atomic"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/model"
	"thermo-pipeline/internal/pool"
	"thermo-pipeline/internal/worker"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	cfg     config.Ingest
	metrics *metrics.Metrics
	worker  *worker.Manager
}

func NewHandler(cfg config.Ingest, m *metrics.Metrics, w *worker.Manager) *Handler {
	return &Handler{
		cfg:     cfg,
		metrics: m,
		worker:  w,
	}
}

// HandleIngest
//
// 센서 측정값 수집 엔드포인트.
// body 는 SensorRecord JSON object 1개 또는 object 배열이다.
//
// 공통 동작:
//  1. 요청 길이 제한(MaxBodySize)
//  2. BodyPool / RecordPool 기반 메모리 재사용
//  3. payload 형식 검증 — object 도 array-of-objects 도 아니면 400.
//     partition deriver 는 여기서 거절된 payload 를 절대 보지 못한다.
//  4. ingestion queue(RecordCh)에 push (full이면 503)
//  5. metrics 증가
//
// 운영 상 의미:
//   - 이 함수는 수집 서버의 "가장 뜨거운 경로(hot path)"로,
//     서버 성능은 이 함수의 효율성에 큰 영향을 받는다.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {

	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	// 허용 메서드 검사
	if r.Method != http.MethodPost &&
		r.Method != http.MethodOptions {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// OPTIONS 요청은 CORS preflight 로 가정 → 즉시 204
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// --------------------------------------------------------------------
	// 요청 Body 최대 크기 강제 제한
	// Body가 커서 메모리가 과도하게 사용되는 것을 방지
	// --------------------------------------------------------------------
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, h.cfg.MaxBodySize*2)

	// io.Copy 는 매우 빠르고 GC-free. BodyPool 버퍼로 직접 복사.
	if _, err := io.Copy(buf, r.Body); err != nil {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBodyTooLargeTotal, 1)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	// --------------------------------------------------------------------
	// payload 파싱. object 1개 / object 배열 모두 허용.
	// 형식이 깨진 payload 는 파이프라인에 진입하기 전에 400 으로 거절.
	// --------------------------------------------------------------------
	records, ok := h.parseRecords(buf.Bytes())
	if !ok {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedMalformedTotal, 1)
		log.Warn().Str("client", clientIP(r)).Msg("malformed ingest payload rejected")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// --------------------------------------------------------------------
	// 레코드를 ingestion queue(RecordCh)에 push
	// Queue가 가득 찬 경우 → 503 (backpressure)
	// 배치 중간에 가득 차면 이미 들어간 레코드는 그대로 처리된다 —
	// 수집은 at-least-once 가 아니라 best-effort 이므로 허용.
	// --------------------------------------------------------------------
	for i, rec := range records {
		select {
		case h.worker.RecordCh <- rec:

		default:
			// Queue Full → 남은 레코드는 재사용 풀로 반환
			for _, rest := range records[i:] {
				pool.ResetRecord(rest)
				pool.RecordPool.Put(rest)
			}
			atomic.AddInt64(&h.metrics.HTTPRequestsRejectedQueueFullTotal, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}

	atomic.AddInt64(&h.metrics.HTTPRequestsAcceptedTotal, 1)
	w.WriteHeader(http.StatusOK)
}

// parseRecords 는 body 를 RecordPool 기반 레코드 slice 로 변환한다.
// 두 번째 반환값이 false 면 payload 전체를 거절해야 한다 —
// 배열 일부만 깨진 경우에도 전체 거절 (부분 수집은 클라이언트
// 입장에서 디버깅이 불가능해진다).
func (h *Handler) parseRecords(body []byte) ([]*model.SensorRecord, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false
	}

	var raws []json.RawMessage

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, false
		}
	case '{':
		raws = []json.RawMessage{json.RawMessage(trimmed)}
	default:
		// 숫자/문자열 등 최상위가 object/array 가 아닌 JSON 도 거절
		return nil, false
	}

	records := make([]*model.SensorRecord, 0, len(raws))

	for _, raw := range raws {
		rec := pool.RecordPool.Get().(*model.SensorRecord)
		pool.ResetRecord(rec)

		if err := json.Unmarshal(raw, rec); err != nil {
			pool.RecordPool.Put(rec)
			for _, r := range records {
				pool.ResetRecord(r)
				pool.RecordPool.Put(r)
			}
			return nil, false
		}

		records = append(records, rec)
	}

	return records, true
}

// HandleMetrics
//
// 수집 서버 상태를 나타내는 카운터 값들을 출력한다.
// Prometheus pull 방식으로도 쉽게 전환 가능.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}
