// internal/query/sql.go
package query

import (
	"fmt"
	"strconv"
	"strings"

	"thermo-pipeline/internal/partition"
)

// sql.go
// ------------------------------------------------------------
// 하루치 파티션에 대한 스캔 쿼리 조립.
// projection 은 고정 5컬럼이며 순서가 곧 계약이다 —
// orchestrator 의 위치 기반 매핑이 이 순서에 의존한다:
//
//	1. sensorid
//	2. temperature_celsius  (화씨 → 섭씨 변환, 소수점 2자리)
//	3. rawhumidity
//	4. timestamp
//	5. objectkey
//
// WHERE 절의 year/month/day 등식이 파티션 pruning 을 일으켜
// 해당 날짜의 object 만 스캔된다.
// ------------------------------------------------------------

// BuildScanQuery 는 파티션 1개를 스캔하는 SELECT 문을 조립한다.
// minTempF 가 비어있지 않으면 원시 온도(화씨) 하한 필터를 추가한다.
// 식별자는 상수이고 파티션 값/임계값은 숫자 검증을 거치므로
// 문자열 조립으로 충분하다.
func BuildScanQuery(database, table string, k partition.Key, minTempF string) (string, error) {
	if err := validatePartition(k); err != nil {
		return "", err
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, `SELECT sensorid,
       CAST(ROUND((rawtemperature - 32) * 5.0 / 9.0, 2) AS VARCHAR) AS temperature_celsius,
       CAST(rawhumidity AS VARCHAR) AS rawhumidity,
       "timestamp",
       objectkey
FROM "%s"."%s"
WHERE year = '%s' AND month = '%s' AND day = '%s'`,
		database, table, k.Year, k.Month, k.Day)

	if minTempF != "" {
		v, err := strconv.ParseFloat(minTempF, 64)
		if err != nil {
			return "", fmt.Errorf("invalid min temperature %q: %w", minTempF, err)
		}
		fmt.Fprintf(&sb, "\n  AND rawtemperature >= %g", v)
	}

	return sb.String(), nil
}

// validatePartition 은 파티션 선택자가 숫자이고 자릿수가 맞는지 확인한다.
// 쿼리 문자열에 들어가는 값이므로 형식을 벗어나면 조립 자체를 거부한다.
func validatePartition(k partition.Key) error {
	for _, p := range []struct {
		name  string
		value string
		width int
	}{
		{"year", k.Year, 4},
		{"month", k.Month, 2},
		{"day", k.Day, 2},
	} {
		if len(p.value) != p.width {
			return fmt.Errorf("partition %s %q: want %d digits", p.name, p.value, p.width)
		}
		if _, err := strconv.Atoi(p.value); err != nil {
			return fmt.Errorf("partition %s %q: not numeric", p.name, p.value)
		}
	}
	return nil
}
