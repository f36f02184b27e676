// internal/worker/dlq.go
package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/storage"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// DLQManager 는 S3 업로드 실패 배치를 로컬 디스크에 저장하고,
// 이후 재업로드를 담당한다.
//
// 저장 형식: gzip 압축된 JSONL data 파일 + .meta.json 메타 파일.
// 메타에는 배치 레코드 수와 "원래 기록했어야 할 object key" 를 남긴다.
// 재업로드 시 압축을 풀어 원래 key 에 plain JSONL 로 올린다 —
// 파티션 경로와 objectKey 필드의 일관성이 유지되고,
// overwrite 가 멱등이므로 중복 복구도 안전하다.
//
// TTL 판단은 "파일명 prefix 의 Unix timestamp" 기준으로 한다.
type DLQManager struct {
	cfg     config.Ingest
	metrics *metrics.Metrics
	writer  storage.Writer

	// 현재 DLQ 디렉토리에 저장된 data 파일 총 바이트 수
	dlqSizeBytes int64
}

type dlqMeta struct {
	NumRecords int64  `json:"num_records"`
	ObjectKey  string `json:"object_key"`
}

// NewDLQManager 는 DLQ 디렉토리를 초기화하고, 기존 파일을 스캔하여
// DLQSizeBytes / DLQFilesCurrent 를 복원한다.
// 이때 meta orphan (data 없이 .meta.json 만 남은 경우) 도 정리한다.
func NewDLQManager(cfg config.Ingest, m *metrics.Metrics, writer storage.Writer) *DLQManager {
	_ = os.MkdirAll(cfg.DLQDir, 0o755)

	d := &DLQManager{
		cfg:     cfg,
		metrics: m,
		writer:  writer,
	}

	var total int64
	var count int64

	entries, err := os.ReadDir(cfg.DLQDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}

			name := e.Name()
			full := filepath.Join(cfg.DLQDir, name)

			// meta orphan 제거: *.meta.json 이고, 같은 이름의 data 파일이 없으면 삭제
			if strings.HasSuffix(name, ".meta.json") {
				dataName := strings.TrimSuffix(name, ".meta.json")
				if _, err := os.Stat(filepath.Join(cfg.DLQDir, dataName)); os.IsNotExist(err) {
					_ = os.Remove(full)
				}
				continue
			}

			// data 파일만 카운트
			info, err := e.Info()
			if err == nil {
				total += info.Size()
				count++
			}
		}
	}

	atomic.StoreInt64(&d.dlqSizeBytes, total)
	if total > 0 {
		atomic.AddInt64(&m.DLQSizeBytes, total)
	}
	if count > 0 {
		atomic.AddInt64(&m.DLQFilesCurrent, count)
	}

	return d
}

// Save 는 S3 업로드 실패한 배치(gzip 압축본)를 로컬 DLQ 에 저장한다.
// objectKey 는 원래 기록 대상이었던 key 이며 메타 파일에 남긴다.
//
// TTL 판단은 파일명 prefix 의 Unix timestamp 기반이므로
// 별도로 mtime 을 조정할 필요는 없다.
func (d *DLQManager) Save(data []byte, numRecords int, objectKey string) error {
	if len(data) == 0 || numRecords <= 0 {
		return nil
	}

	size := int64(len(data))
	if !d.ensureCapacity(size) {
		// 용량 부족: 가장 오래된 파일들 정리했지만 여전히 공간 부족 → drop
		log.Printf("[ERROR] DLQ full → drop bytes=%d records=%d", size, numRecords)
		atomic.AddInt64(&d.metrics.DLQRecordsDroppedTotal, int64(numRecords))
		return nil
	}

	filename := NewFilename(d.cfg.InstanceID)         // "<unix>_<instance>_<counter>.jsonl.gz"
	dataPath := filepath.Join(d.cfg.DLQDir, filename) // data 파일
	metaPath := dataPath + ".meta.json"               // 메타 파일

	// data 파일 저장
	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		return err
	}

	// 메타 파일 저장
	meta, _ := json.Marshal(dlqMeta{NumRecords: int64(numRecords), ObjectKey: objectKey})
	_ = os.WriteFile(metaPath, meta, 0o600)

	// metrics
	atomic.AddInt64(&d.dlqSizeBytes, size)
	atomic.AddInt64(&d.metrics.DLQSizeBytes, size)
	atomic.AddInt64(&d.metrics.DLQFilesCurrent, 1)
	atomic.AddInt64(&d.metrics.DLQRecordsEnqueuedTotal, int64(numRecords))

	return nil
}

// ensureCapacity 는 DLQMaxSizeBytes 를 초과하지 않도록
// 가장 오래된 data/meta 파일부터 삭제한다.
// data 파일이 더 이상 없으면 false 를 반환한다.
func (d *DLQManager) ensureCapacity(incoming int64) bool {
	max := d.cfg.DLQMaxSizeBytes
	if max <= 0 {
		return true
	}

	for {
		curr := atomic.LoadInt64(&d.dlqSizeBytes)
		if curr+incoming <= max {
			return true
		}

		oldest := d.pickOldest()
		if oldest == "" {
			return false
		}

		dataPath := filepath.Join(d.cfg.DLQDir, oldest)
		metaPath := dataPath + ".meta.json"

		info, err := os.Stat(dataPath)
		if err == nil {
			atomic.AddInt64(&d.dlqSizeBytes, -info.Size())
			atomic.AddInt64(&d.metrics.DLQSizeBytes, -info.Size())
		}

		_ = os.Remove(dataPath)
		_ = os.Remove(metaPath)

		atomic.AddInt64(&d.metrics.DLQFilesCurrent, -1)
		atomic.AddInt64(&d.metrics.DLQFilesExpiredTotal, 1)

		log.Printf("[WARN] DLQ capacity → removed=%s", oldest)
	}
}

// ProcessOneCtx 는 가장 오래된 data/meta 파일 1개를 재업로드한다.
// TTL 판단도 여기에서 수행한다.
//
//   - 메타에 object key 가 있고 압축 해제에 성공하면
//     plain JSONL 을 원래 RAW key 로 복구 업로드.
//   - 그렇지 못하면 gzip 파일을 그대로 DLQ prefix 로 올려
//     수동 복구 대상으로 남긴다.
func (d *DLQManager) ProcessOneCtx(ctx context.Context) {
	// shutdown 신호 체크
	select {
	case <-ctx.Done():
		return
	default:
	}

	name := d.pickOldest()
	if name == "" {
		return
	}

	dataPath := filepath.Join(d.cfg.DLQDir, name)
	metaPath := dataPath + ".meta.json"

	info, err := os.Stat(dataPath)
	if err != nil {
		// 파일이 사라진 경우 정리만 수행
		_ = os.Remove(dataPath)
		_ = os.Remove(metaPath)
		atomic.AddInt64(&d.metrics.DLQFilesCurrent, -1)
		return
	}

	size := info.Size()

	// --- TTL 판단: 파일명 prefix 의 Unix timestamp 기반 ---
	if d.cfg.DLQMaxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok && sec > 0 {
			nowSec := Unix() // worker timecache (epoch seconds)
			age := time.Duration(nowSec-sec) * time.Second
			if age > d.cfg.DLQMaxAge {
				// TTL 초과 → 삭제
				_ = os.Remove(dataPath)
				_ = os.Remove(metaPath)

				atomic.AddInt64(&d.dlqSizeBytes, -size)
				atomic.AddInt64(&d.metrics.DLQSizeBytes, -size)
				atomic.AddInt64(&d.metrics.DLQFilesCurrent, -1)
				atomic.AddInt64(&d.metrics.DLQFilesExpiredTotal, 1)

				log.Printf("[INFO] DLQ TTL expired → deleted=%s age=%s", name, age.String())
				return
			}
		}
		// filename 에서 unix 를 읽지 못하면 TTL 판단은 skip 하고 계속 진행
	}

	// shutdown 다시 체크
	select {
	case <-ctx.Done():
		return
	default:
	}

	// meta 읽기 (없거나 깨져 있으면 records=1, key 없음 fallback)
	meta := dlqMeta{NumRecords: 1}
	if raw, err := os.ReadFile(metaPath); err == nil {
		var v dlqMeta
		if json.Unmarshal(raw, &v) == nil {
			if v.NumRecords > 0 {
				meta.NumRecords = v.NumRecords
			}
			meta.ObjectKey = v.ObjectKey
		}
	}

	if err := d.reupload(ctx, dataPath, size, meta); err != nil {
		log.Printf("[WARN] DLQ reupload failed: %s err=%v", name, err)
		return
	}

	// 업로드 성공 → 로컬 파일 제거
	_ = os.Remove(dataPath)
	_ = os.Remove(metaPath)

	atomic.AddInt64(&d.dlqSizeBytes, -size)
	atomic.AddInt64(&d.metrics.DLQSizeBytes, -size)
	atomic.AddInt64(&d.metrics.DLQFilesCurrent, -1)
	atomic.AddInt64(&d.metrics.DLQRecordsReuploadedTotal, meta.NumRecords)

	log.Printf("[INFO] DLQ reuploaded: %s records=%d", name, meta.NumRecords)
}

// reupload 는 DLQ 파일 1개를 S3 로 되돌린다.
func (d *DLQManager) reupload(ctx context.Context, dataPath string, size int64, meta dlqMeta) error {
	f, err := os.Open(dataPath)
	if err != nil {
		return err
	}
	defer f.Close()

	// 원래 key 를 알고 있으면 압축을 풀어 RAW 파티션으로 복구한다.
	// RAW object 는 plain JSONL 이어야 하므로 gzip 그대로 올리면 안 된다.
	if meta.ObjectKey != "" {
		if plain, err := gunzip(f); err == nil {
			return d.writer.Put(ctx, meta.ObjectKey, plain, "application/json")
		}
		// 압축이 깨진 경우 → 아래 수동 복구 경로로
		log.Printf("[WARN] DLQ gunzip failed, falling back to dlq prefix: %s", dataPath)
	}

	// key 를 모르거나 내용이 손상된 경우: gzip 파일 그대로 DLQ prefix 보관
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	key := DLQKey(d.cfg.DLQPrefix, filepath.Base(dataPath))
	return d.writer.PutFile(ctx, key, f, size)
}

func gunzip(f *os.File) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty dlq payload")
	}
	return data, nil
}

// pickOldest는 DLQ 디렉토리에 있는 data 파일 중
// 파일명 기준(=timestamp 기준)으로 가장 오래된 파일을 반환한다.
//
// 주의:
//   - 파일 시스템은 엔트리 목록을 정렬해주지 않는다.
//   - 따라서 ReadDir() 결과는 임의 순서이며 반드시 정렬이 필요하다.
//   - DLQ 파일명은 <unix>_<instance>_<counter>.jsonl.gz 이므로
//     문자열 정렬 = 시간 정렬 = 처리 순서 보장이 가능하다.
func (d *DLQManager) pickOldest() string {
	entries, err := os.ReadDir(d.cfg.DLQDir)
	if err != nil {
		return ""
	}

	// data 파일명만 수집 (meta 제외)
	files := make([]string, 0, len(entries))

	for _, e := range entries {
		name := e.Name()

		// meta 파일은 제외
		if strings.HasSuffix(name, ".meta.json") {
			continue
		}

		// 숨김 파일, 비정상 파일 제외
		if name == "" || name[0] == '.' {
			continue
		}

		files = append(files, name)
	}

	if len(files) == 0 {
		return ""
	}

	// lexicographical sort → timestamp 순 정렬
	sort.Strings(files)

	return files[0] // 가장 오래된 파일
}

// extractUnixFromFilename 은 DLQ 파일명 prefix 에서 Unix seconds 를 파싱한다.
// 파일명 형식: "<unix>_<instance>_<counter>.jsonl.gz"
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
