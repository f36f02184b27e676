package partition

import (
	"strings"
	"testing"
	"time"

	"thermo-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDeriveUsesFirstRecordTimestamp(t *testing.T) {
	d := NewDeriver()

	records := []*model.SensorRecord{
		{SensorID: "s-1", Timestamp: "2025-02-10T12:00:00Z"},
		// 두 번째 레코드의 날짜는 파티션에 영향을 주지 않는다.
		{SensorID: "s-2", Timestamp: "2025-03-31T23:59:59Z"},
	}

	key, batchID := d.Derive(records)

	assert.Equal(t, Key{Year: "2025", Month: "02", Day: "10"}, key)
	assert.NotEmpty(t, batchID)
}

func TestDeriveUsesUTCCalendarDate(t *testing.T) {
	d := NewDeriver()

	// +09:00 기준 자정 직후 → UTC 로는 전날
	records := []*model.SensorRecord{
		{SensorID: "s-1", Timestamp: "2025-02-10T00:30:00+09:00"},
	}

	key, _ := d.Derive(records)
	assert.Equal(t, Key{Year: "2025", Month: "02", Day: "09"}, key)
}

func TestDeriveFallsBackToClock(t *testing.T) {
	now := time.Date(2024, 7, 3, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		records []*model.SensorRecord
	}{
		{name: "empty batch", records: nil},
		{name: "missing timestamp", records: []*model.SensorRecord{{SensorID: "s-1"}}},
		{name: "unparsable timestamp", records: []*model.SensorRecord{{SensorID: "s-1", Timestamp: "yesterday"}}},
		{name: "nil first record", records: []*model.SensorRecord{nil}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDeriverWithClock(fixedClock(now))

			key, batchID := d.Derive(tc.records)

			assert.Equal(t, Key{Year: "2024", Month: "07", Day: "03"}, key)
			assert.NotEmpty(t, batchID)
		})
	}
}

func TestDerivePartitionIsStableButBatchIDIsNot(t *testing.T) {
	d := NewDeriver()
	records := []*model.SensorRecord{{Timestamp: "2025-02-10T12:00:00Z"}}

	k1, id1 := d.Derive(records)
	k2, id2 := d.Derive(records)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, id1, id2)
}

func TestObjectKeyFormat(t *testing.T) {
	key := ObjectKey("raw", Key{Year: "2025", Month: "02", Day: "10"}, "batch-1")
	assert.Equal(t, "raw/year=2025/month=02/day=10/batch-1.json", key)
}

func TestObjectKeyZeroPadding(t *testing.T) {
	k := FromTime(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	require.Equal(t, "01", k.Month)
	require.Equal(t, "05", k.Day)

	key := ObjectKey("raw", k, "b")
	assert.True(t, strings.HasPrefix(key, "raw/year=2025/month=01/day=05/"))
}
