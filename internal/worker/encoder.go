package worker

import (
	"bytes"

	"thermo-pipeline/internal/model"
	"thermo-pipeline/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Encoder 는 레코드 배치를 JSONL 로 직렬화하는 컴포넌트.
//
// RAW 파티션 object 는 "반드시" 압축 없는 newline-delimited JSON 이어야 한다 —
// 쿼리 엔진이 object 를 줄 단위로 파싱하기 때문에 multi-record JSON 배열을
// 만들면 절대 안 된다. gzip 은 로컬 DLQ 스필 파일에만 적용한다.
//
// 특징:
//   - 고성능 goccy/json 기반 JSON 인코딩
//   - bytes.Buffer / gzip.Writer 재사용(pool 기반)
//   - 결과는 최종적으로 새로운 []byte 로 복사해 호출자에게 소유권을 넘김
//     (pool 버퍼를 그대로 반환하면 데이터 corruption 위험)
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeBatchJSONL 은 배치를 한 줄에 레코드 하나씩 인코딩해 반환한다.
// 이 바이트가 그대로 RAW 파티션 object 의 내용이 된다.
func (e *Encoder) EncodeBatchJSONL(records []*model.SensorRecord) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	enc := json.NewEncoder(buf)

	// json.Encoder.Encode 는 줄 끝에 '\n' 을 붙이므로 그 자체가 JSONL 이다.
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			pool.PutBuffer(buf)
			return nil, err
		}
	}

	// buf.Bytes() 를 caller가 소유하는 새로운 slice로 복사
	// (pool 버퍼는 재사용되므로 그대로 반환하면 안 됨)
	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)

	pool.PutBuffer(buf)
	return data, nil
}

// GzipBytes 는 DLQ 스필용으로 JSONL 바이트를 gzip 압축한다.
func (e *Encoder) GzipBytes(data []byte) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}

	// Close() 시 압축 스트림이 완성됨.
	if err := gz.Close(); err != nil {
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, err
	}
	pool.GzipPool.Put(gz)

	raw := buf.Bytes()
	out := make([]byte, len(raw))
	copy(out, raw)

	pool.PutBuffer(buf)
	return out, nil
}

// RecycleRecords 는 배치 내 개별 레코드 객체를 초기화 후 풀에 반환한다.
// 구조체 재사용으로 GC pressure 를 줄인다.
func (e *Encoder) RecycleRecords(records []*model.SensorRecord) {
	for _, rec := range records {
		pool.ResetRecord(rec)
		pool.RecordPool.Put(rec)
	}
}
