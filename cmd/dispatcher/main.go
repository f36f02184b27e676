package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/dispatch"
	"thermo-pipeline/internal/logger"
	"thermo-pipeline/internal/metrics"

	"github.com/rs/zerolog/log"
)

// dispatcher
// ------------------------------------------------------------
// queue 를 long-poll 로 소비해서 bounded 배치를 sink 로 전달하는
// 상주 프로세스. 전달 실패 배치는 삭제하지 않으므로 visibility
// timeout 후 queue 가 통째로 재전달한다 (at-least-once).
// ------------------------------------------------------------
func main() {
	cfg := config.LoadDispatch()
	logger.Init(cfg.Common)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	d := dispatch.NewDispatcher(cfg, &http.Client{Timeout: cfg.SinkTimeout}, m)
	runner := dispatch.NewRunner(cfg, d)

	log.Info().Str("sink", cfg.SinkURL).Msg("dispatcher consuming queue")

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("dispatcher terminated")
	}

	log.Info().Str("metrics", m.String()).Msg("dispatcher stopped")
}
