// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"thermo-pipeline/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번만 호출되는 로거 초기화 함수.
// 세 단계(server / queryrun / dispatcher)가 동일한 Common 설정을 공유하므로
// 어느 바이너리에서든 같은 방식으로 호출한다.
//
// [주요 기능]
//
//  1. 로그 포맷 자동 전환:
//     - 개발 환경 (LOG_PRETTY=true): ConsoleWriter 텍스트 출력 (가독성 위주)
//     - 운영 환경 (LOG_PRETTY=false): JSON 포맷 (CloudWatch 검색/분석 위주)
//
//  2. 공통 필드 자동 추가:
//     - 모든 로그에 "service", "instance" 정보가 자동으로 붙는다.
//     - 파이프라인 단계가 여러 개라서 어느 프로세스의 로그인지
//       즉시 식별 가능한 것이 특히 중요하다.
//
//  3. 로그 샘플링 (비용 절감):
//     - Debug/Info 레벨은 설정에 따라 일부만 기록한다 (예: 1/100만 기록).
//     - Warn/Error(장애 상황)는 절대 버리지 않고 100% 기록한다.
//
// 사용 예:
//
//	logger.Init(cfg.Common)
//	log.Info().Msg("queryrun started")
func Init(cfg config.Common) {

	// 1) 로그 레벨 결정 (최소 출력 기준)
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}

	zerolog.SetGlobalLevel(level)

	// 2) 출력 방식 결정 (사람 vs 기계)
	var w io.Writer

	if cfg.LogPretty {
		// [Local 개발 환경] 색상/정렬 적용 텍스트
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05", // 개발 중엔 날짜 없이 시간만 보여도 충분함
		}
	} else {
		// [Prod 운영 환경] 표준 JSON 을 os.Stdout 으로 그대로 출력
		w = os.Stdout
	}

	// 3) 기본 Logger 생성 (공통 태그 부착)
	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	// 4) 샘플링 설정 (로그 홍수 방지 & 비용 절감)
	logger := base

	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			// Debug/Info: N개 중 1개만 기록
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},

			// Warn/Error: 샘플링하지 않음 (nil).
		})
	}

	// 5) 전역 Logger 교체
	zlog.Logger = logger

	// 표준 라이브러리 log 를 쓰는 코드도 zerolog 설정을 따르도록 연결
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
