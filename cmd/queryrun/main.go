package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/logger"
	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/partition"
	"thermo-pipeline/internal/publish"
	"thermo-pipeline/internal/query"

	"github.com/rs/zerolog/log"
)

// queryrun
// ------------------------------------------------------------
// 스케줄 트리거(EventBridge 등)로 실행되는 one-shot 바이너리.
// 실행 1회 = 쿼리 lifecycle 1회:
//
//	파티션 스캔 쿼리 조립 → 제출/poll/fetch → 결과 행을 queue 에 게시
//
// 재시도 정책은 스케줄러(다음 실행)에 맡긴다 — 프로세스 안에서
// lifecycle 을 다시 돌리지 않는다.
// ------------------------------------------------------------
func main() {
	cfg := config.LoadQuery()
	logger.Init(cfg.Common)
	m := metrics.New()

	// 외부 트리거의 invocation timeout 에 대응하는 시그널 처리.
	// poll 대기는 cancellable 이므로 SIGTERM 시 즉시 중단된다.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 파티션 선택자: 전부 지정되어 있으면 그대로, 아니면 오늘(UTC).
	pk := partition.Key{Year: cfg.ScanYear, Month: cfg.ScanMonth, Day: cfg.ScanDay}
	if pk.Year == "" || pk.Month == "" || pk.Day == "" {
		pk = partition.FromTime(time.Now())
	}

	sqlText, err := query.BuildScanQuery(cfg.Database, cfg.Table, pk, cfg.MinTemperatureF)
	if err != nil {
		log.Fatal().Err(err).Msg("scan query build failed")
	}

	log.Info().
		Str("year", pk.Year).Str("month", pk.Month).Str("day", pk.Day).
		Msg("starting query lifecycle")

	orch := query.NewOrchestrator(query.NewAthenaService(cfg), m, cfg.PollInterval, cfg.MaxWait)

	rows, err := orch.Run(ctx, sqlText)
	if err != nil {
		// lifecycle 실패는 엔진 reason 까지 구조화해서 남긴다.
		// caller(스케줄러/운영자)가 보는 실패 payload 가 이 로그다.
		var lc *query.LifecycleError
		if errors.As(err, &lc) {
			log.Error().
				Str("execution_id", lc.ExecutionID).
				Str("state", string(lc.State)).
				Str("reason", lc.Reason).
				Msg("query lifecycle failed")
		} else {
			log.Error().Err(err).Msg("query lifecycle failed")
		}
		os.Exit(1)
	}

	q := publish.NewSQSQueue(cfg.AWSRegion, cfg.QueueURL)
	sent, total := publish.NewPublisher(q, m).PublishAll(ctx, rows)

	log.Info().
		Int("rows", total).
		Int("published", sent).
		Msg("queryrun complete")

	// 종료 요약 (server 는 /metrics 로 노출하지만 one-shot 은 로그로)
	log.Info().Str("metrics", m.String()).Msg("final counters")

	if total > 0 && sent == 0 {
		// 행이 있는데 하나도 게시하지 못했다면 실행 실패로 취급
		os.Exit(1)
	}
}
