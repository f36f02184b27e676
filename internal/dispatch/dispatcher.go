// internal/dispatch/dispatcher.go
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// dispatcher.go
// ------------------------------------------------------------
// queue 가 넘겨준 bounded 배치를 sink 로 전달하는 컴포넌트.
// 배치 크기와 누적 시간 제한은 queue 소비 정책(runner/인프라)의 설정이며
// 여기에는 로직이 없다.
//
// 실패 의미론:
//   - 개별 메시지 decode 실패 → drop + 로그 ("best effort, skip bad apples")
//     배치를 중단시키지도, 재전달 대상으로 돌려보내지도 않는다.
//   - 전체 decode 실패(보낼 것 없음) → 네트워크 호출 없이 정상 종료.
//   - POST 실패(transport 오류 또는 non-2xx) → 배치 "전체"를 재시도.
//   - 최종 시도까지 실패 → 에러를 caller 로 전파해서 queue 가
//     원래 배치를 통째로 재전달하게 한다 (at-least-once).
//
// sink 는 중복 전달을 스스로 감내해야 한다 — 이 컴포넌트는
// 멱등성에 무관심(idempotency-agnostic)하다.
// ------------------------------------------------------------

// Dispatcher 는 메시지 배치 1개를 단일 POST 로 전달한다.
// http.Client 주입으로 테스트에서 가짜 sink 를 붙일 수 있다.
type Dispatcher struct {
	cfg     config.Dispatch
	client  *http.Client
	metrics *metrics.Metrics
}

func NewDispatcher(cfg config.Dispatch, client *http.Client, m *metrics.Metrics) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.SinkTimeout}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	return &Dispatcher{cfg: cfg, client: client, metrics: m}
}

// Dispatch 는 메시지 body 배치를 decode → 단일 JSON 배열 POST 로 전달한다.
// 반환 에러 != nil 이면 caller 는 배치 전체를 미처리로 간주해야 한다.
func (d *Dispatcher) Dispatch(ctx context.Context, bodies [][]byte) error {

	// --- 1) 메시지별 JSON decode. 깨진 메시지는 배치에서 제외 ---
	decoded := make([]json.RawMessage, 0, len(bodies))
	for i, b := range bodies {
		if !json.Valid(b) {
			atomic.AddInt64(&d.metrics.DispatchMessagesDroppedTotal, 1)
			log.Warn().Int("message", i).Msg("undecodable message body, dropping from batch")
			continue
		}
		decoded = append(decoded, json.RawMessage(b))
	}

	// --- 2) 보낼 것이 없으면 네트워크 호출 없이 성공 ---
	if len(decoded) == 0 {
		log.Info().Int("received", len(bodies)).Msg("no decodable messages, skipping dispatch")
		return nil
	}

	payload, err := json.Marshal(decoded)
	if err != nil {
		// RawMessage 배열 marshal 은 사실상 실패하지 않지만 계약상 전파
		return fmt.Errorf("marshal batch payload: %w", err)
	}

	// --- 3) 배치 전체를 재시도 단위로 POST ---
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		atomic.AddInt64(&d.metrics.DispatchAttemptsTotal, 1)

		if err := d.post(ctx, payload); err == nil {
			atomic.AddInt64(&d.metrics.DispatchBatchesTotal, 1)
			log.Info().
				Int("messages", len(decoded)).
				Int("attempt", attempt).
				Msg("batch delivered to sink")
			return nil
		} else {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("sink delivery attempt failed")
		}

		// 마지막 시도 이후에는 대기하지 않는다.
		// 선형 backoff: attempt × BackoffUnit (1s, 2s, ...)
		if attempt < d.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * d.cfg.BackoffUnit):
			}
		}
	}

	// --- 4) 재시도 소진 → queue 재전달이 걸리도록 반드시 전파 ---
	atomic.AddInt64(&d.metrics.DispatchFailuresTotal, 1)
	return fmt.Errorf("dispatch failed after %d attempts: %w", d.cfg.MaxAttempts, lastErr)
}

// post 는 sink 로의 1회 POST 시도이다.
// 성공 판정은 순수하게 2xx 여부 — 응답 body 는 해석하지 않고
// 로그(성공 시)나 에러 메시지(실패 시)에만 담는다.
func (d *Dispatcher) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.SinkURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 응답 body 는 advisory — 크기 상한을 두고 읽는다.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink returned %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Int("status", resp.StatusCode).Str("body", string(body)).Msg("sink response")
	return nil
}
