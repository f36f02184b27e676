// internal/query/orchestrator.go
package query

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/model"

	"github.com/rs/zerolog/log"
)

// orchestrator.go
// ------------------------------------------------------------
// 비동기 long-running 쿼리 서비스에 대한 lifecycle 오케스트레이터.
// 한 번의 Run() 호출 = 정확히 하나의 query 실행이다:
//
//	Submit 1회 → Poll N회(N ≥ 1) → 종결 상태 → Fetch 최대 1회
//
// 이전 실행을 캐싱하거나 실행 id 를 재사용하지 않는다.
// FAILED/CANCELLED 에 대한 재시도 정책은 caller 의 결정이다 —
// 이 컴포넌트는 절대 자동으로 재시도하지 않는다.
// ------------------------------------------------------------

// State 는 쿼리 실행의 lifecycle 상태이다.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"

	// StateTimedOut 은 엔진 상태가 아니라 이 레이어가 추가한 안전 상한이다.
	// MaxWait 초과 시 FAILED 와 동급의 종결 상태로 취급한다.
	StateTimedOut State = "TIMED_OUT"
)

// Status 는 poll 1회의 결과.
// Reason 은 종결 실패 상태에서만 의미가 있다 (엔진의 state change reason).
type Status struct {
	State  State
	Reason string
}

// Service 는 쿼리 엔진의 세 가지 primitive 에 대한 계약이다.
// 운영에서는 Athena 구현(athena.go)을 쓰고, 테스트에서는
// 시나리오를 스크립트한 가짜 구현으로 치환한다.
type Service interface {
	// Submit 은 쿼리를 제출하고 실행 id 를 반환한다.
	Submit(ctx context.Context, sql string) (string, error)

	// Poll 은 실행의 현재 상태를 조회한다.
	Poll(ctx context.Context, executionID string) (Status, error)

	// Fetch 는 결과를 행 단위로 반환한다.
	// 첫 번째 행은 컬럼명 헤더이며 셀은 전부 텍스트(null → 빈 문자열)이다.
	Fetch(ctx context.Context, executionID string) ([][]string, error)
}

// LifecycleError 는 쿼리가 성공 외의 종결 상태로 끝났음을 나타낸다.
// caller 는 errors.As 로 상태별 분기가 가능하다 — 예외 전파가 아니라
// 태그가 있는 결과로 실패를 다루기 위한 구조이다.
type LifecycleError struct {
	ExecutionID string
	State       State
	Reason      string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("query execution %s %s: %s",
		e.ExecutionID, strings.ToLower(string(e.State)), e.Reason)
}

// resultColumns 는 고정 projection 의 컬럼 수.
// row → ResultRow 매핑은 엄격하게 위치 기반이다.
const resultColumns = 5

// Orchestrator 는 하나의 쿼리 lifecycle 을 완주시키고 결과 행을 추출한다.
// 모든 collaborator 는 생성자 주입 — 전역 client 상태 없음.
type Orchestrator struct {
	svc     Service
	metrics *metrics.Metrics

	pollInterval time.Duration // poll 간 대기 (설정값, 테스트에서 near-zero)
	maxWait      time.Duration // lifecycle 전체 wall-clock 상한 (0 = 무제한)
}

func NewOrchestrator(svc Service, m *metrics.Metrics, pollInterval, maxWait time.Duration) *Orchestrator {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Orchestrator{
		svc:          svc,
		metrics:      m,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// Run 은 쿼리 lifecycle 을 완주한다.
//
//	제출 → 종결 상태까지 poll → SUCCEEDED 면 fetch → 헤더 제거 → 행 매핑
//
// 실패 종결(FAILED/CANCELLED)은 엔진의 reason 을 담은 *LifecycleError 로
// 반환되며 fetch 는 수행하지 않는다.
// MaxWait 초과는 StateTimedOut 인 *LifecycleError 로 반환된다.
func (o *Orchestrator) Run(ctx context.Context, sql string) ([]model.ResultRow, error) {

	// lifecycle 전체에 wall-clock 상한을 건다.
	// 외부 invocation timeout 보다 먼저 끊어서 무한 blocking 을 막는다.
	if o.maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.maxWait)
		defer cancel()
	}

	execID, err := o.svc.Submit(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}

	log.Info().Str("execution_id", execID).Msg("query submitted")

	if err := o.pollUntilDone(ctx, execID); err != nil {
		return nil, err
	}

	rows, err := o.svc.Fetch(ctx, execID)
	if err != nil {
		return nil, fmt.Errorf("fetch results %s: %w", execID, err)
	}

	return o.mapRows(execID, rows), nil
}

// pollUntilDone 은 종결 상태가 나올 때까지 fixed-delay poll 을 반복한다.
// 대기는 cancellable timer 이며 ctx 만료 시 즉시 깨어난다.
func (o *Orchestrator) pollUntilDone(ctx context.Context, execID string) error {
	timer := time.NewTimer(0) // 첫 poll 은 즉시
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.deadlineError(ctx, execID)
		case <-timer.C:
		}

		st, err := o.svc.Poll(ctx, execID)
		if err != nil {
			if ctx.Err() != nil {
				return o.deadlineError(ctx, execID)
			}
			return fmt.Errorf("poll execution %s: %w", execID, err)
		}
		atomic.AddInt64(&o.metrics.QueryPollsTotal, 1)

		switch st.State {
		case StateSucceeded:
			return nil

		case StateFailed, StateCancelled:
			// 실패 종결 → fetch 없이 즉시 중단. 재시도는 caller 몫.
			log.Error().
				Str("execution_id", execID).
				Str("state", string(st.State)).
				Str("reason", st.Reason).
				Msg("query reached failure state")
			return &LifecycleError{ExecutionID: execID, State: st.State, Reason: st.Reason}

		default:
			// QUEUED / RUNNING (또는 엔진이 추가한 중간 상태) → 계속 poll
			log.Debug().
				Str("execution_id", execID).
				Str("state", string(st.State)).
				Msg("query still in flight")
			timer.Reset(o.pollInterval)
		}
	}
}

// deadlineError 는 ctx 만료를 lifecycle 실패로 변환한다.
// MaxWait 초과(DeadlineExceeded)는 TIMED_OUT, 그 외 취소는 그대로 전파.
func (o *Orchestrator) deadlineError(ctx context.Context, execID string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &LifecycleError{
			ExecutionID: execID,
			State:       StateTimedOut,
			Reason:      fmt.Sprintf("lifecycle exceeded max wait %s", o.maxWait),
		}
	}
	return ctx.Err()
}

// mapRows 는 fetch 결과를 ResultRow slice 로 변환한다.
//
//   - 첫 행은 내용과 무관하게 "무조건" 헤더로 버린다.
//     결과가 빈 경우 헤더 제거 후 데이터 행이 0개가 되며 downstream 은
//     자연스럽게 아무것도 게시하지 않는다.
//   - 매핑은 엄격한 위치 기반 5컬럼.
//   - 기대보다 짧은 행은 에러가 아니라 데이터 품질 경고다:
//     빈 필드로 보정하고 WARN 로그 + 카운터만 남긴다.
func (o *Orchestrator) mapRows(execID string, rows [][]string) []model.ResultRow {
	if len(rows) == 0 {
		return nil
	}

	data := rows[1:] // 헤더 제거
	out := make([]model.ResultRow, 0, len(data))

	for i, cells := range data {
		if len(cells) < resultColumns {
			atomic.AddInt64(&o.metrics.QueryShortRowsTotal, 1)
			log.Warn().
				Str("execution_id", execID).
				Int("row", i).
				Int("columns", len(cells)).
				Msg("short result row, padding missing fields")
		}

		out = append(out, model.ResultRow{
			SensorID:           cell(cells, 0),
			TemperatureCelsius: cell(cells, 1),
			RawHumidity:        cell(cells, 2),
			Timestamp:          cell(cells, 3),
			ObjectKey:          cell(cells, 4),
		})
	}

	atomic.AddInt64(&o.metrics.QueryRowsFetchedTotal, int64(len(out)))
	return out
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}
