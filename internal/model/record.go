// internal/model/record.go
package model

// SensorRecord
// ------------------------------------------------------------
// 클라이언트(센서 게이트웨이)로부터 수집된 단일 측정값 구조체.
// ingestion 파이프라인에서 모든 데이터의 "기본 단위"가 된다.
// Handler → Manager → JSONL 인코딩 → S3 업로드까지 그대로 전달된다.
//
// ObjectKey 필드는 수집 시점에는 비어 있으며,
// 배치가 S3 object 로 기록되는 순간 partition deriver 가 주입한다.
// 이후 단계(query, dispatch)에서는 절대 재계산하지 않는다 —
// "이 레코드가 어느 object 에서 왔는가"의 유일한 출처이다.
type SensorRecord struct {
	SensorID       string  `json:"sensorId"`       // 센서 고유 ID
	RawTemperature float64 `json:"rawTemperature"` // 원시 온도 (화씨)
	RawHumidity    float64 `json:"rawHumidity"`    // 원시 습도 (%)
	Timestamp      string  `json:"timestamp"`      // 측정 시각 (ISO-8601)
	ObjectKey      string  `json:"objectKey"`      // 기록 시점에 주입되는 S3 object key
}

// WriteJob
// ------------------------------------------------------------
// 레코드 배치 단위로 업로드할 때 Manager 내부에서 사용되는 구조체.
// partition key 파생 → JSONL 인코딩 → S3 업로드로 전달된다.
// 한 WriteJob 은 정확히 하나의 S3 object 가 된다.
type WriteJob struct {
	Records []*SensorRecord // 한 번에 기록되는 N개의 레코드
}

// ResultRow
// ------------------------------------------------------------
// 쿼리 결과의 고정 5-컬럼 projection.
// 쿼리 엔진이 반환하는 셀은 전부 텍스트이므로 이 레이어에서는
// 숫자 파싱/검증 없이 opaque string 으로만 다룬다.
// (숫자 해석은 최종 sink 의 책임이다.)
type ResultRow struct {
	SensorID           string `json:"sensorId"`
	TemperatureCelsius string `json:"temperatureCelsius"`
	RawHumidity        string `json:"rawHumidity"`
	Timestamp          string `json:"timestamp"`
	ObjectKey          string `json:"objectKey"`
}
