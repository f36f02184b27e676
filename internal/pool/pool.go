package pool

import (
	"bytes"
	"sync"

	"thermo-pipeline/internal/model"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 수집 서버는 초당 수천~수만 요청을 처리하며,
// 매 요청마다 body 읽기, 레코드 객체 생성, 인코딩 버퍼 생성 등
// 메모리 할당이 매우 빈번하게 발생한다.
//
// 아래 Pool들은 "GC 줄이기, 메모리 재사용, 성능 안정화" 목적.
// ---------------------------------------------------------------

var (
	// RecordPool:
	//   - SensorRecord 객체 재사용
	//   - 매 레코드마다 new(model.SensorRecord) 하지 않도록 함
	RecordPool = sync.Pool{
		New: func() any { return new(model.SensorRecord) },
	}

	// BodyPool:
	//   - POST body를 임시 저장하는 버퍼
	//   - 초기 용량 4KB (대부분의 small POST는 여기에 수용됨)
	//   - 너무 큰 버퍼는 caller(maxCap 조건)에서 재사용하지 않음
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// BufferPool:
	//   - JSONL 인코딩 결과를 담는 임시 버퍼
	//   - 초기 용량 256KB (일반적인 배치 사이즈에 최적화)
	//   - 1MB 초과 버퍼는 메모리 폭주 방지를 위해 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (로컬 DLQ 스필 파일 압축 전용)
	//   - RAW 파티션 object 는 압축하지 않는다 — 쿼리 엔진이
	//     plain JSONL 을 줄 단위로 읽기 때문.
	//   - BestSpeed 옵션: 속도 우선 전략
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 위임해
// 메모리 폭발을 예방.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// ResetRecord:
//   - SensorRecord 구조체를 재사용할 수 있도록 zeroing.
func ResetRecord(r *model.SensorRecord) {
	*r = model.SensorRecord{}
}

// PutBody:
//   - BodyPool에 buf를 반환할지 결정.
//   - maxCap(보통 MaxBodySize*2)보다 크면 버려서 GC로.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
	// 그 외는 반환하지 않고 자연스럽게 GC 처리
}

// PutBuffer:
//   - 인코딩 결과 버퍼 반환
//   - 1MB 이하이면 풀에 재사용
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
