// internal/worker/manager.go
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"thermo-pipeline/internal/config"
	"thermo-pipeline/internal/metrics"
	"thermo-pipeline/internal/model"
	"thermo-pipeline/internal/partition"
	"thermo-pipeline/internal/storage"
)

// Manager는 수집 서버의 핵심 파이프라인이다.
// HTTP 요청으로 들어온 레코드(RecordCh)를 모아서(batch)
//   - 파티션 key + 배치 ID 파생, objectKey 주입
//   - JSONL 인코딩 (압축 없음 — 쿼리 엔진 입력)
//   - S3 업로드 (실패 시 gzip 으로 로컬 DLQ 저장)
//
// 하는 전체 흐름을 제어한다.
//
// 주요 구성:
//   - RecordCh: HTTP → Manager로 레코드 전달
//   - collectLoop: 레코드를 배치 사이즈 또는 FlushInterval마다 묶어서 writeCh에 전달
//   - writeCh: 인코딩 및 S3 업로드 작업 큐
//   - writeLoop: 실제 업로드 및 DLQ 처리 담당
//
// 한 배치 = 한 object = 한 파티션. 파티션 날짜는 배치 첫 레코드의
// 타임스탬프가 결정한다 (deriver 정책 참고).
//
// Manager는 graceful shutdown을 지원하며,
// 모든 배치 처리가 끝나야 종료된다.
type Manager struct {
	cfg     config.Ingest
	metrics *metrics.Metrics
	writer  storage.Writer
	deriver *partition.Deriver
	dlq     *DLQManager
	encoder *Encoder

	RecordCh chan *model.SensorRecord // HTTP 수집기가 push
	writeCh  chan model.WriteJob      // 인코딩/업로드 작업 큐

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager는 DLQManager · Encoder 를 초기화하고
// 레코드 처리 채널을 구성한다.
// writer 는 주입받는다 — 운영은 S3Writer, 테스트는 가짜 구현.
func NewManager(cfg config.Ingest, m *metrics.Metrics, writer storage.Writer) *Manager {
	return &Manager{
		cfg:      cfg,
		metrics:  m,
		writer:   writer,
		deriver:  partition.NewDeriver(),
		dlq:      NewDLQManager(cfg, m, writer),
		encoder:  NewEncoder(),
		RecordCh: make(chan *model.SensorRecord, cfg.ChannelSize),
		writeCh:  make(chan model.WriteJob, cfg.UploadQueue),
	}
}

// Start는 두 개의 주요 goroutine을 실행한다.
//   - collectLoop: 레코드를 batch로 모아서 writeCh로 전달
//   - writeLoop: batch 인코딩 + S3 업로드 + DLQ 처리
func (m *Manager) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(2)
	go m.collectLoop()
	go m.writeLoop()
}

// Shutdown은 graceful shutdown을 수행한다.
// RecordCh를 닫으면 collectLoop가 남은 batch까지 flush 후 writeCh를 닫고,
// writeLoop는 writeCh를 모두 비운 뒤 종료된다.
// context cancel은 모든 goroutine 종료 후에 수행한다 —
// 먼저 cancel 하면 종료 중인 업로드가 중단되어 배치가 유실된다.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.RecordCh)
	})
	m.wg.Wait()
	m.cancel()
}

// collectLoop는 RecordCh에서 레코드를 읽어 batch로 묶는다.
// BatchSize 도달 또는 FlushInterval 타이머 만료 시 writeCh에 전달한다.
//
// flush()는 항상 새로운 batch slice를 생성하여
// 재사용으로 인한 데이터 오염을 방지한다.
func (m *Manager) collectLoop() {
	defer m.wg.Done()
	defer close(m.writeCh)

	batch := make([]*model.SensorRecord, 0, m.cfg.BatchSize)
	timer := time.NewTimer(m.cfg.FlushInterval)
	defer timer.Stop()

	reset := func() {
		// 타이머가 이미 만료된 상태면 drain
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.cfg.FlushInterval)
	}

	flush := func() {
		if len(batch) > 0 {
			select {
			case m.writeCh <- model.WriteJob{Records: batch}:
			case <-m.ctx.Done():
				return
			}
			// 새로운 slice로 교체(기존 slice 재사용 금지)
			batch = make([]*model.SensorRecord, 0, m.cfg.BatchSize)
			reset()
		}
	}

	for {
		select {
		case rec, ok := <-m.RecordCh:
			if !ok {
				// 레코드 채널 종료 → 남은 batch 처리 후 종료
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= m.cfg.BatchSize {
				flush()
			}

		case <-timer.C:
			// FlushInterval 도달 → batch 업로드
			flush()
		}
	}
}

// writeLoop는 writeCh에서 batch를 받아
//  1. 파티션 key 파생 + JSONL 인코딩
//  2. S3 업로드 (실패 시 DLQ 저장)
//  3. DLQ 재업로드 3회 (starvation 방지)
//
// 를 수행한다.
//
// writeCh가 닫히면 모든 작업을 마치고 종료된다.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case job, ok := <-m.writeCh:
			if !ok {
				log.Println("[INFO] writer exiting")
				return
			}

			// 레코드 배치 처리
			m.processWriteCtx(m.ctx, job)

			// DLQ starvation 방지 — 최소 3건씩 처리
			for i := 0; i < 3; i++ {
				m.dlq.ProcessOneCtx(m.ctx)
			}

		default:
			// idle 시에도 DLQ 재업로드 진행
			for i := 0; i < 3; i++ {
				m.dlq.ProcessOneCtx(m.ctx)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// processWriteCtx는 하나의 레코드 배치를 처리한다.
//  1. 파티션 key + 배치 ID 파생, 모든 레코드에 objectKey 주입
//  2. JSONL 인코딩 실패 → 로그 후 drop (구조체 인코딩 실패는 사실상 없음)
//  3. S3 업로드 실패 → gzip 압축 후 로컬 DLQ 저장
//  4. 성공 시 metrics 업데이트
//  5. 레코드 객체는 풀에 반환(Recycle)
func (m *Manager) processWriteCtx(ctx context.Context, job model.WriteJob) {
	if len(job.Records) == 0 {
		return
	}

	// --- 1) 파티션 key 파생 + objectKey 주입 ---
	// key 는 여기서 단 한 번 계산되고 이후 어느 단계에서도 재계산하지 않는다.
	pk, batchID := m.deriver.Derive(job.Records)
	key := partition.ObjectKey(m.cfg.RawPrefix, pk, batchID)

	for _, rec := range job.Records {
		rec.ObjectKey = key
	}

	// --- 2) JSONL 인코딩 ---
	data, err := m.encoder.EncodeBatchJSONL(job.Records)
	if err != nil {
		log.Printf("[ERROR] batch encode failed, dropping %d records: %v", len(job.Records), err)
		atomic.AddInt64(&m.metrics.DLQRecordsDroppedTotal, int64(len(job.Records)))
		m.encoder.RecycleRecords(job.Records)
		return
	}

	// --- 3) S3 업로드, 실패 시 로컬 DLQ ---
	if err := m.writer.Put(ctx, key, data, "application/json"); err != nil {
		gz, gzErr := m.encoder.GzipBytes(data)
		if gzErr != nil {
			// 압축 실패 시 원본 그대로 저장 (공간은 더 쓰지만 유실은 없음)
			gz = data
		}
		if err2 := m.dlq.Save(gz, len(job.Records), key); err2 != nil {
			log.Printf("[ERROR] local DLQ save failed: %v", err2)
		}
	} else {
		// 업로드 성공
		atomic.AddInt64(&m.metrics.S3RecordsStoredTotal, int64(len(job.Records)))
		atomic.AddInt64(&m.metrics.S3ObjectsStoredTotal, 1)
	}

	// --- 4) 레코드 객체 재사용 가능하도록 반환 ---
	m.encoder.RecycleRecords(job.Records)
}
