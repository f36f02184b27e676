package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"thermo-pipeline/internal/metrics"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJSONL = `{"sensorId":"s-1","objectKey":"raw/year=2025/month=02/day=10/b.json"}
{"sensorId":"s-2","objectKey":"raw/year=2025/month=02/day=10/b.json"}
`

func newTestDLQ(t *testing.T, fw *fakeWriter) *DLQManager {
	t.Helper()
	cfg := testIngestConfig(t)
	return NewDLQManager(cfg, metrics.New(), fw)
}

func TestDLQReuploadRestoresPlainJSONLToOriginalKey(t *testing.T) {
	fw := newFakeWriter()
	d := newTestDLQ(t, fw)

	enc := NewEncoder()
	gz, err := enc.GzipBytes([]byte(testJSONL))
	require.NoError(t, err)

	key := "raw/year=2025/month=02/day=10/b.json"
	require.NoError(t, d.Save(gz, 2, key))

	d.ProcessOneCtx(context.Background())

	require.Len(t, fw.puts, 1)
	assert.Equal(t, key, fw.puts[0].key, "restored to the original raw key")
	assert.Equal(t, "application/json", fw.puts[0].contentType)
	assert.Equal(t, testJSONL, string(fw.puts[0].body), "payload decompressed back to plain JSONL")

	// 성공한 파일은 디렉토리에서 제거된다
	entries, err := os.ReadDir(d.cfg.DLQDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDLQReuploadKeepsFileOnFailure(t *testing.T) {
	fw := newFakeWriter()
	d := newTestDLQ(t, fw)

	enc := NewEncoder()
	gz, err := enc.GzipBytes([]byte(testJSONL))
	require.NoError(t, err)
	require.NoError(t, d.Save(gz, 2, "raw/year=2025/month=02/day=10/b.json"))

	fw.failAll = true
	d.ProcessOneCtx(context.Background())

	entries, err := os.ReadDir(d.cfg.DLQDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "data and meta files survive a failed reupload")
}

func TestDLQExpiredFileIsDeletedWithoutUpload(t *testing.T) {
	fw := newFakeWriter()
	cfg := testIngestConfig(t)
	cfg.DLQMaxAge = time.Second
	d := NewDLQManager(cfg, metrics.New(), fw)

	// 파일명 prefix 의 Unix timestamp 가 TTL 판단 기준이다
	old := time.Now().Add(-time.Hour).Unix()
	name := fmt.Sprintf("%d_test-1_000001.jsonl.gz", old)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DLQDir, name), []byte("stale"), 0o600))

	d.ProcessOneCtx(context.Background())

	assert.Empty(t, fw.puts, "expired file must not be uploaded")
	entries, err := os.ReadDir(cfg.DLQDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDLQMissingMetaFallsBackToGzipUpload(t *testing.T) {
	fw := newFakeWriter()
	d := newTestDLQ(t, fw)

	enc := NewEncoder()
	gz, err := enc.GzipBytes([]byte(testJSONL))
	require.NoError(t, err)

	name := NewFilename("test-1")
	require.NoError(t, os.WriteFile(filepath.Join(d.cfg.DLQDir, name), gz, 0o600))

	d.ProcessOneCtx(context.Background())

	// 원래 key 를 모르면 gzip 그대로 dlq prefix 로 보관
	require.Len(t, fw.puts, 1)
	assert.Equal(t, DLQKey(d.cfg.DLQPrefix, name), fw.puts[0].key)
	assert.Equal(t, gz, fw.puts[0].body)
}

func TestDLQCapacityEvictsOldestFirst(t *testing.T) {
	fw := newFakeWriter()
	cfg := testIngestConfig(t)
	cfg.DLQMaxSizeBytes = 220
	d := NewDLQManager(cfg, metrics.New(), fw)

	// 파일명의 counter suffix 가 같은 초 안에서도 정렬 순서를 보장한다
	payload := make([]byte, 100)
	require.NoError(t, d.Save(payload, 1, "raw/a.json"))
	require.NoError(t, d.Save(payload, 1, "raw/b.json"))
	require.NoError(t, d.Save(payload, 1, "raw/c.json"))

	// 3번째 저장이 1번째를 밀어냈는지 확인
	var keys []string
	entries, err := os.ReadDir(cfg.DLQDir)
	require.NoError(t, err)
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(cfg.DLQDir, e.Name()))
		require.NoError(t, err)
		var m struct {
			ObjectKey string `json:"object_key"`
		}
		require.NoError(t, json.Unmarshal(raw, &m))
		keys = append(keys, m.ObjectKey)
	}

	assert.Len(t, keys, 2)
	assert.NotContains(t, keys, "raw/a.json")
	assert.Contains(t, keys, "raw/b.json")
	assert.Contains(t, keys, "raw/c.json")
}
