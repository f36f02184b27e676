package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/logger"
	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/server"
	"thermo-pipeline/internal/storage"
	"thermo-pipeline/internal/worker"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// CPU 설정 (Fargate vCPU 특성 대응)
	// ====================================================================
	//
	// Fargate는 vCPU 단위로 CPU share가 제한된다.
	// Go 런타임은 기본적으로 모든 CPU 코어를 GOMAXPROCS로 사용하려고
	// 하지만, 0.25 vCPU Task에서 default로 두면 busy-loop scheduling이
	// 발생해 오히려 성능이 떨어진다.
	//
	// Fargate Task Definition 환경변수에서 GOMAXPROCS=1 지정 권장.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1) // default: 1 logical CPU
	}

	// ====================================================================
	// Config & Logger & Metrics 초기화
	// ====================================================================
	cfg := config.LoadIngest()
	logger.Init(cfg.Common)
	m := metrics.New()

	// ====================================================================
	// Manager 생성 (S3Writer + DLQManager + Encoder 포함)
	// ====================================================================
	//
	// Manager는 수집 서버의 핵심 비동기 처리 엔진.
	//
	// 구성 요소:
	//  - S3Writer: AWS SDK timeout + 앱 레벨 retry 적용된 업로드
	//  - DLQManager: S3 업로드 실패 시 로컬에 저장 후 재업로드
	//  - RecordCh: /ingest 요청 처리 후 레코드 전달 (백프레셔 핵심)
	//  - writeCh: 배치가 flush된 후 업로드 요청 전달
	//
	// 모든 비동기 goroutine은 Manager 아래에서 관리됨 —
	// ECS/Fargate가 SIGTERM 보낼 때 graceful 종료가 가능해야 한다.
	// ====================================================================
	writer := storage.NewS3Writer(cfg, m)
	mgr := worker.NewManager(cfg, m, writer)
	mgr.Start()

	// ====================================================================
	// HTTP 라우팅
	// ====================================================================
	//
	// 엔드포인트:
	//  - /ingest  : 센서 레코드 수집 (핵심)
	//  - /metrics : 운영 지표 확인
	//  - /health  : ALB Target Group Health check용
	//
	// RecoveryHandler 는 handler panic 이 프로세스를 죽이는 대신
	// 500 으로 끝나게 한다 — ALB 가 5xx 를 보고 교체 판단을 한다.
	// ====================================================================
	h := server.NewHandler(cfg, m, mgr)

	r := mux.NewRouter()
	r.HandleFunc("/ingest", h.HandleIngest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/metrics", h.HandleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		// ALB는 단순 문자열로도 health 판단 가능
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// ====================================================================
	// HTTP 서버 설정 (Timeout 매우 중요)
	// ====================================================================
	//
	// ReadTimeout / WriteTimeout:
	//  - 게이트웨이에서 오는 요청은 짧은 JSON payload.
	//  - Timeout을 짧게 잡아야 비정상 커넥션의 리소스 점유를 방지.
	//
	// IdleTimeout:
	//  - ALB → ECS keep-alive 연결 관리 목적
	// ====================================================================
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handlers.RecoveryHandler()(r),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ====================================================================
	// Graceful Shutdown (ECS/Fargate scale-in 대응)
	// ====================================================================
	//
	// SIGTERM 수신 시:
	//   - HTTP 서버 먼저 멈추고 (더 이상 요청 받지 않음)
	//   - 내부 Manager 취소 (goroutine 안전 종료, 잔여 배치 flush)
	//
	// 업로드 중인 S3 요청이나 DLQ 작업 도중 중단으로 인한
	// 데이터 유실을 방지한다.
	// ====================================================================
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		// 1) HTTP 서버 종료
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
		cancel()

		// 2) 내부 worker 종료 (DLQ flush 포함)
		log.Info().Msg("stopping worker manager...")
		mgr.Shutdown()
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("ingest server listening")

	// ListenAndServe는 blocking 함수 → 종료되면 에러 확인
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server terminated")
	}

	// Manager가 이미 종료되어 있더라도 다시 호출해도 safe
	mgr.Shutdown()
	log.Info().Msg("shutdown complete")
}
