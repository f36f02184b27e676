// internal/publish/publisher.go
package publish

import (
	"context"
	"sync/atomic"

	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/model"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Queue 는 durable queue 에 대한 최소 계약이다.
// at-least-once 전달이며 메시지 간 순서는 보장되지 않는다.
// 전달 보증/재전달은 전부 queue 쪽 책임 — 이 레이어는 행당 1회
// enqueue 시도만 한다.
type Queue interface {
	Enqueue(ctx context.Context, body []byte) error
}

// Publisher 는 쿼리 결과 행을 메시지로 변환해 게시한다.
// 행당 메시지 1개 (배치당 1개가 아님). dispatcher 쪽 배치 묶음은
// queue 소비 정책이 담당한다.
type Publisher struct {
	queue   Queue
	metrics *metrics.Metrics
}

func NewPublisher(q Queue, m *metrics.Metrics) *Publisher {
	return &Publisher{queue: q, metrics: m}
}

// PublishAll 은 모든 행을 개별적으로 게시하고 (성공 수, 전체 수)를 반환한다.
// 개별 행의 직렬화/enqueue 실패는 나머지 행 처리를 중단시키지 않는다 —
// 실패는 로그와 카운터로만 남긴다.
func (p *Publisher) PublishAll(ctx context.Context, rows []model.ResultRow) (sent, total int) {
	total = len(rows)

	for i := range rows {
		body, err := json.Marshal(&rows[i])
		if err != nil {
			atomic.AddInt64(&p.metrics.EnqueueErrorsTotal, 1)
			log.Error().Err(err).Int("row", i).Msg("result row marshal failed, skipping")
			continue
		}

		if err := p.queue.Enqueue(ctx, body); err != nil {
			atomic.AddInt64(&p.metrics.EnqueueErrorsTotal, 1)
			log.Error().Err(err).Int("row", i).Msg("enqueue failed, skipping row")
			continue
		}

		sent++
		atomic.AddInt64(&p.metrics.RowsEnqueuedTotal, 1)
	}

	log.Info().Int("sent", sent).Int("total", total).Msg("result rows published")
	return sent, total
}
