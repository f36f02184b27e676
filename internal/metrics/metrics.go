package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 파이프라인 상태를 나타내는 카운터 모음이다.
// 세 단계가 같은 구조체를 공유하되 각자 해당 그룹만 증가시킨다.
// server 는 /metrics 로 노출하고, queryrun/dispatcher 는 종료 시점에
// 한 줄 요약으로 로그에 남긴다.
type Metrics struct {
	// ======================
	// HTTP 수집 지표 (server)
	// ======================

	// HTTPRequestsTotal
	// - /ingest 로 들어온 "모든" HTTP 요청 수 (시도 기준).
	// - 성공/실패/400/413/503 여부와 관계없이 진입마다 1씩 증가.
	HTTPRequestsTotal int64

	// HTTPRequestsAcceptedTotal
	// - RecordCh(수집 파이프라인)로 성공적으로 enqueue 된 요청 수.
	// - Total 과의 차이로 "수집에 실패한 요청" 규모를 파악할 수 있다.
	HTTPRequestsAcceptedTotal int64

	// HTTPRequestsRejectedMalformedTotal
	// - body 가 JSON object 도 array-of-objects 도 아니어서
	//   400 으로 거절된 요청 수. deriver 가 호출되기 전에 걸러진다.
	HTTPRequestsRejectedMalformedTotal int64

	// HTTPRequestsRejectedBodyTooLargeTotal
	// - 요청 Body 가 MaxBodySize 를 초과해서 거절된(413 반환) 요청 수.
	HTTPRequestsRejectedBodyTooLargeTotal int64

	// HTTPRequestsRejectedQueueFullTotal
	// - RecordCh 가 가득 차서 즉시 503 을 반환한 요청 수.
	// - 이 값이 지속 증가하면 S3 기록 단계가 밀리고 있다는 신호.
	HTTPRequestsRejectedQueueFullTotal int64

	// ======================
	// S3 기록 지표 (server)
	// ======================

	// S3RecordsStoredTotal
	// - RAW 파티션에 "성공 저장된 레코드 개수" (배치 수가 아님).
	//   예: 100개 레코드 배치 1개 업로드 성공 → +100.
	S3RecordsStoredTotal int64

	// S3ObjectsStoredTotal
	// - RAW 파티션에 성공 저장된 object(배치) 개수.
	S3ObjectsStoredTotal int64

	// S3PutErrorsTotal
	// - S3 PutObject 호출이 실패한 "시도(attempt)" 횟수.
	//   재시도가 있다면 한 번의 업로드 작업에서도 여러 번 증가할 수 있다.
	S3PutErrorsTotal int64

	// ======================
	// 로컬 DLQ 지표 (server)
	// ======================

	// DLQRecordsEnqueuedTotal
	// - S3 업로드 실패로 로컬 DLQ 에 들어간 레코드 수 누적 합.
	DLQRecordsEnqueuedTotal int64

	// DLQRecordsReuploadedTotal
	// - DLQ 에서 S3 로 재업로드에 성공한 레코드 수.
	DLQRecordsReuploadedTotal int64

	// DLQRecordsDroppedTotal
	// - DLQ 용량 제한(DLQMaxSizeBytes) 때문에 버린 레코드 수.
	// - 0 이 아니면 이미 데이터를 영구적으로 잃기 시작했다는 강한 신호.
	DLQRecordsDroppedTotal int64

	// DLQFilesExpiredTotal
	// - TTL(DLQMaxAge) 또는 용량 제한에 의해 삭제된 DLQ 파일 수.
	DLQFilesExpiredTotal int64

	// DLQFilesCurrent
	// - 현재 로컬 DLQ 디렉토리에 존재하는 파일 개수 (gauge).
	DLQFilesCurrent int64

	// DLQSizeBytes
	// - 현재 로컬 DLQ 디렉토리의 전체 용량 (gauge, bytes).
	DLQSizeBytes int64

	// ======================
	// Query lifecycle 지표 (queryrun)
	// ======================

	// QueryPollsTotal
	// - 실행 상태 poll 호출 횟수. lifecycle 당 N ≥ 1.
	QueryPollsTotal int64

	// QueryRowsFetchedTotal
	// - 헤더 행 제거 후 실제로 얻은 데이터 행 수.
	QueryRowsFetchedTotal int64

	// QueryShortRowsTotal
	// - 기대 컬럼 수(5)보다 짧아서 빈 필드로 보정된 행 수.
	// - 지속 증가하면 upstream 스키마 드리프트를 의심해야 한다.
	QueryShortRowsTotal int64

	// ======================
	// 게시(enqueue) 지표 (queryrun)
	// ======================

	// RowsEnqueuedTotal
	// - queue 로 게시에 성공한 행 수.
	RowsEnqueuedTotal int64

	// EnqueueErrorsTotal
	// - 행 단위 게시 실패 횟수. 실패해도 나머지 행 처리는 계속된다.
	EnqueueErrorsTotal int64

	// ======================
	// 배치 전송 지표 (dispatcher)
	// ======================

	// DispatchBatchesTotal
	// - sink 전송에 최종 성공한 배치 수.
	DispatchBatchesTotal int64

	// DispatchAttemptsTotal
	// - sink POST "시도" 횟수. 배치당 최대 MaxAttempts 회 증가.
	DispatchAttemptsTotal int64

	// DispatchMessagesDroppedTotal
	// - JSON decode 실패로 배치에서 제외(drop)된 메시지 수.
	DispatchMessagesDroppedTotal int64

	// DispatchFailuresTotal
	// - 재시도 소진 후 최종 실패한 배치 수 (queue 재전달 대상).
	DispatchFailuresTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "http_requests_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsTotal))
	fmt.Fprintf(&sb, "http_requests_accepted_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsAcceptedTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_malformed_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedMalformedTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_body_too_large_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedBodyTooLargeTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_queue_full_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedQueueFullTotal))

	fmt.Fprintf(&sb, "s3_records_stored_total=%d\n", atomic.LoadInt64(&m.S3RecordsStoredTotal))
	fmt.Fprintf(&sb, "s3_objects_stored_total=%d\n", atomic.LoadInt64(&m.S3ObjectsStoredTotal))
	fmt.Fprintf(&sb, "s3_put_errors_total=%d\n", atomic.LoadInt64(&m.S3PutErrorsTotal))

	fmt.Fprintf(&sb, "dlq_records_enqueued_total=%d\n", atomic.LoadInt64(&m.DLQRecordsEnqueuedTotal))
	fmt.Fprintf(&sb, "dlq_records_reuploaded_total=%d\n", atomic.LoadInt64(&m.DLQRecordsReuploadedTotal))
	fmt.Fprintf(&sb, "dlq_records_dropped_total=%d\n", atomic.LoadInt64(&m.DLQRecordsDroppedTotal))
	fmt.Fprintf(&sb, "dlq_files_expired_total=%d\n", atomic.LoadInt64(&m.DLQFilesExpiredTotal))
	fmt.Fprintf(&sb, "dlq_files_current=%d\n", atomic.LoadInt64(&m.DLQFilesCurrent))
	fmt.Fprintf(&sb, "dlq_size_bytes=%d\n", atomic.LoadInt64(&m.DLQSizeBytes))

	fmt.Fprintf(&sb, "query_polls_total=%d\n", atomic.LoadInt64(&m.QueryPollsTotal))
	fmt.Fprintf(&sb, "query_rows_fetched_total=%d\n", atomic.LoadInt64(&m.QueryRowsFetchedTotal))
	fmt.Fprintf(&sb, "query_short_rows_total=%d\n", atomic.LoadInt64(&m.QueryShortRowsTotal))

	fmt.Fprintf(&sb, "rows_enqueued_total=%d\n", atomic.LoadInt64(&m.RowsEnqueuedTotal))
	fmt.Fprintf(&sb, "enqueue_errors_total=%d\n", atomic.LoadInt64(&m.EnqueueErrorsTotal))

	fmt.Fprintf(&sb, "dispatch_batches_total=%d\n", atomic.LoadInt64(&m.DispatchBatchesTotal))
	fmt.Fprintf(&sb, "dispatch_attempts_total=%d\n", atomic.LoadInt64(&m.DispatchAttemptsTotal))
	fmt.Fprintf(&sb, "dispatch_messages_dropped_total=%d\n", atomic.LoadInt64(&m.DispatchMessagesDroppedTotal))
	fmt.Fprintf(&sb, "dispatch_failures_total=%d\n", atomic.LoadInt64(&m.DispatchFailuresTotal))

	return sb.String()
}
