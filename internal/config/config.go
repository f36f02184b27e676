// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"time"
)

// 파이프라인은 세 개의 독립 실행 단계(server / queryrun / dispatcher)로
// 배포되므로, 설정도 단계별 구조체로 나눈다.
// 모든 값은 프로세스 시작 시점에 Load*() 에 의해 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.

// Common
//
// 모든 단계가 공유하는 기반 설정 (AWS 환경 + 로깅).
type Common struct {
	AWSRegion   string // AWS 리전 (예: ap-northeast-2)
	ServiceName string // 로그 공통 필드용 서비스명
	InstanceID  string // 프로세스 고유 ID (호스트명 기반, 실패 시 랜덤 hex)

	LogLevel   string // zerolog 최소 레벨 (기본 "info")
	LogPretty  bool   // true → ConsoleWriter (개발용)
	LogSampleN uint32 // Debug/Info 샘플링 비율 (1 = 샘플링 없음)
}

// Ingest
//
// 수집 서버(cmd/server) 설정.
type Ingest struct {
	Common

	RawBucket string // 수집 데이터가 저장될 S3 버킷 이름
	RawPrefix string // RAW 파티션 저장 prefix (예: raw)
	DLQPrefix string // DLQ 재업로드 prefix (예: dlq)

	HTTPAddr string // HTTP 서버 bind 주소 (예: ":8080")

	MaxBodySize   int64         // 단일 HTTP 요청 body 최대 크기 (바이트)
	ChannelSize   int           // RecordCh 버퍼 크기
	UploadQueue   int           // writeCh 버퍼 크기
	BatchSize     int           // 배치 크기 (N개 모이면 S3로 기록)
	FlushInterval time.Duration // 배치 flush 주기 (시간 기반 flush)

	// Retry 정책 단일화
	// --------------------------------------------
	// AWS SDK v2 기본 retry 와 코드 레벨 retry 가 겹치면
	// 예측 불가능한 처리 지연이 발생한다.
	// → SDK Retry 는 코드에서 0으로 고정하고
	//   "재시도 횟수"는 애플리케이션 레벨(S3AppRetries)만 사용한다.
	S3Timeout    time.Duration // 각 S3 PutObject 시도당 timeout
	S3AppRetries int           // S3 업로드 재시도 횟수 (SDK retry는 항상 0)

	DLQDir          string        // 로컬 DLQ 디렉토리 경로
	DLQMaxAge       time.Duration // DLQ 파일 TTL (초과 시 삭제)
	DLQMaxSizeBytes int64         // DLQ 전체 허용 용량 (바이트)
}

// Query
//
// 쿼리 실행기(cmd/queryrun) 설정.
// 한 번 실행될 때마다 정확히 하나의 query lifecycle 을 수행한다.
type Query struct {
	Common

	Database       string // Athena/Glue 데이터베이스명
	Table          string // 대상 테이블명
	Workgroup      string // Athena workgroup (비어있으면 기본 workgroup)
	OutputLocation string // 쿼리 결과 저장 위치 (s3://... URI)

	QueueURL string // 결과 row 를 게시할 SQS queue URL

	// 파티션 선택자. 비어있으면 실행 시점의 UTC 날짜를 사용한다.
	ScanYear  string // "YYYY"
	ScanMonth string // "MM"
	ScanDay   string // "DD"

	MinTemperatureF string // 필터 임계값(화씨, 텍스트). 비어있으면 필터 없음

	PollInterval time.Duration // poll 간격 (기본 2s, 테스트에서 near-zero 가능)
	MaxWait      time.Duration // lifecycle 전체 wall-clock 상한
}

// Dispatch
//
// 배치 전송기(cmd/dispatcher) 설정.
type Dispatch struct {
	Common

	QueueURL string // 소비할 SQS queue URL
	SinkURL  string // 외부 sink 엔드포인트 (POST 대상)

	SinkTimeout time.Duration // POST 1회당 timeout
	MaxAttempts int           // 배치당 총 시도 횟수 (기본 3)
	BackoffUnit time.Duration // 선형 backoff 단위 (기본 1s, attempt × unit 대기)

	ReceiveMax  int32         // 1회 수신 최대 메시지 수 (SQS 상한 10)
	ReceiveWait time.Duration // long-poll 대기 시간
}

// LoadIngest / LoadQuery / LoadDispatch
//
// 환경 변수 기반으로 단계별 설정을 초기화한다.
// 필수 env 가 비어있으면 즉시 프로세스를 종료(fail-fast).
// 기본값이 있는 항목만 opt* 헬퍼를 사용한다.

func LoadIngest() Ingest {
	return Ingest{
		Common: loadCommon("thermo-ingest"),

		RawBucket: must("RAW_BUCKET"),
		RawPrefix: must("RAW_PREFIX"),
		DLQPrefix: must("DLQ_PREFIX"),

		HTTPAddr: must("HTTP_ADDR"),

		MaxBodySize:   mustInt64("MAX_BODY_SIZE"),
		ChannelSize:   mustInt("CHANNEL_SIZE"),
		UploadQueue:   mustInt("UPLOAD_QUEUE"),
		BatchSize:     mustInt("BATCH_SIZE"),
		FlushInterval: mustDur("FLUSH_INTERVAL"),

		S3Timeout:    mustDur("S3_TIMEOUT"),
		S3AppRetries: mustInt("S3_APP_RETRIES"),

		DLQDir:          must("DLQ_DIR"),
		DLQMaxAge:       mustDur("DLQ_MAX_AGE"),
		DLQMaxSizeBytes: mustInt64("DLQ_MAX_SIZE_BYTES"),
	}
}

func LoadQuery() Query {
	return Query{
		Common: loadCommon("thermo-queryrun"),

		Database:       must("ATHENA_DATABASE"),
		Table:          must("ATHENA_TABLE"),
		Workgroup:      os.Getenv("ATHENA_WORKGROUP"),
		OutputLocation: must("QUERY_OUTPUT_LOCATION"),

		QueueURL: must("QUEUE_URL"),

		ScanYear:  os.Getenv("SCAN_YEAR"),
		ScanMonth: os.Getenv("SCAN_MONTH"),
		ScanDay:   os.Getenv("SCAN_DAY"),

		MinTemperatureF: os.Getenv("MIN_TEMPERATURE_F"),

		PollInterval: optDur("POLL_INTERVAL", 2*time.Second),
		MaxWait:      optDur("QUERY_MAX_WAIT", 10*time.Minute),
	}
}

func LoadDispatch() Dispatch {
	return Dispatch{
		Common: loadCommon("thermo-dispatcher"),

		QueueURL: must("QUEUE_URL"),
		SinkURL:  must("SINK_URL"),

		SinkTimeout: optDur("SINK_TIMEOUT", 10*time.Second),
		MaxAttempts: optInt("DISPATCH_MAX_ATTEMPTS", 3),
		BackoffUnit: optDur("DISPATCH_BACKOFF_UNIT", time.Second),

		ReceiveMax:  int32(optInt("RECEIVE_MAX_MESSAGES", 10)),
		ReceiveWait: optDur("RECEIVE_WAIT_TIME", 20*time.Second),
	}
}

func loadCommon(defaultService string) Common {
	return Common{
		AWSRegion:   must("AWS_REGION"),
		ServiceName: opt("SERVICE_NAME", defaultService),
		InstanceID:  fallbackInstanceID(),

		LogLevel:   opt("LOG_LEVEL", "info"),
		LogPretty:  os.Getenv("LOG_PRETTY") == "true",
		LogSampleN: uint32(optInt("LOG_SAMPLE_N", 1)),
	}
}

// must / mustInt / mustInt64 / mustDur
//
// 공통 패턴.
// 필수 환경변수가 없거나 형식이 잘못되면 즉시 로그 출력 후 종료(fail-fast).
// 런타임 중 설정 오류를 겪지 않도록 하기 위한 보호 전략.
func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func mustInt(key string) int {
	v := must(key)
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func mustInt64(key string) int64 {
	v := must(key)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid int64 env %s=%q: %v", key, v, err)
	}
	return n
}

func mustDur(key string) time.Duration {
	v := must(key)
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// opt / optInt / optDur
//
// 기본값이 있는 선택 env. 형식이 잘못된 경우에는 must 계열과 동일하게
// fail-fast 한다 (조용히 기본값으로 덮지 않는다).
func opt(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func optInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func optDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// fallbackInstanceID
//
// 이 프로세스 인스턴스를 식별하는 고유 값.
//   - 기본: hostname (ECS/Fargate에서는 task-id 형태로 고유)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	// 랜덤 6바이트 → 12자리 hex
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
