// internal/partition/partition.go
package partition

import (
	"fmt"
	"time"

	"thermo-pipeline/internal/model"

	"github.com/google/uuid"
)

// partition.go
// ------------------------------------------------------------
// S3 object key 의 날짜 파티션(year/month/day)과 배치 고유 ID 를
// 파생하는 모듈. 순수 문자열 계산만 수행하며 side effect 가 없다.
//
// key 규칙:
//
//	<prefix>/year=<YYYY>/month=<MM>/day=<DD>/<batchId>.json
//
// 예:
//
//	raw/year=2025/month=02/day=10/7f9c0e7a-....json
//
// Athena / Glue 파티션 pruning 이 이 구조에 의존하므로
// zero-padding 을 포함해 형식을 절대 바꾸면 안 된다.
// ------------------------------------------------------------

// Key 는 하나의 배치가 속하는 날짜 파티션이다.
// month/day 는 항상 2자리 zero-padded 문자열.
type Key struct {
	Year  string
	Month string
	Day   string
}

// FromTime 은 UTC 달력 날짜 기준으로 파티션을 계산한다.
func FromTime(t time.Time) Key {
	t = t.UTC()
	return Key{
		Year:  fmt.Sprintf("%04d", t.Year()),
		Month: fmt.Sprintf("%02d", int(t.Month())),
		Day:   fmt.Sprintf("%02d", t.Day()),
	}
}

// ObjectKey 는 표준화된 S3 key 를 생성한다.
// prefix 는 RAW_PREFIX 설정값(보통 "raw")이며 caller 가 전달한다.
func ObjectKey(prefix string, k Key, batchID string) string {
	return fmt.Sprintf("%s/year=%s/month=%s/day=%s/%s.json",
		prefix, k.Year, k.Month, k.Day, batchID)
}

// Deriver 는 레코드 배치 → (파티션, 배치 ID) 파생기.
// now 를 주입받아 테스트에서 현재 시각을 고정할 수 있다.
type Deriver struct {
	now func() time.Time
}

func NewDeriver() *Deriver {
	return &Deriver{now: time.Now}
}

// NewDeriverWithClock 은 테스트용 생성자. now 가 nil 이면 time.Now 사용.
func NewDeriverWithClock(now func() time.Time) *Deriver {
	if now == nil {
		now = time.Now
	}
	return &Deriver{now: now}
}

// Derive 는 배치 하나의 파티션 Key 와 배치 ID 를 결정한다.
//
// 정책 (의도된 단순화 — "고치지" 말 것):
//   - 타임스탬프 출처는 배치의 "첫 번째" 레코드이다.
//     2..N 번 레코드의 날짜가 달라도 파티션에 영향을 주지 않는다.
//     downstream 파티션 pruning 이 object 당 단일 파티션을 전제하기 때문.
//   - 첫 레코드가 없거나 타임스탬프 파싱에 실패하면
//     현재 처리 시각(UTC)으로 대체한다.
//
// 배치 ID 는 충돌 저항성이 있는 UUID v4. 같은 입력이라도 호출마다 다르다.
func (d *Deriver) Derive(records []*model.SensorRecord) (Key, string) {
	ts := d.now().UTC()

	if len(records) > 0 && records[0] != nil && records[0].Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, records[0].Timestamp); err == nil {
			ts = t
		}
	}

	return FromTime(ts), uuid.NewString()
}
