// internal/worker/timecache.go
package worker

import (
	"sync/atomic"
	"time"
)

//
// timecache.go
// ------------------------------------------------------------
// 매초(time.Now 호출 비용을 줄이기 위해) 현재 UTC epoch seconds 를
// 캐싱하는 모듈.
//
// 수집 서버는 초당 수천~수만 개의 레코드를 처리하므로,
// 매번 time.Now() 호출하면 불필요한 시스템 콜 증가.
// 따라서 1초 ticker로 캐싱 후 초단위 정밀도만 유지한다.
//
// 사용처:
//   - DLQ 파일명 prefix (TTL 판단 기준)
//
// 파티션 날짜는 여기서 계산하지 않는다 — 레코드 타임스탬프 기반의
// partition.Deriver 가 배치 단위로 파생한다.
// ------------------------------------------------------------

var unixSec atomic.Int64

func init() {
	unixSec.Store(time.Now().Unix())

	// 1초마다 갱신
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for range ticker.C {
			unixSec.Store(time.Now().Unix())
		}
	}()
}

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}
