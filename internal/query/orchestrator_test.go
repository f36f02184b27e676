package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"thermo-pipeline/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedService 는 poll 시나리오를 순서대로 재생하는 가짜 엔진이다.
// 마지막 상태는 이후 poll 에서도 계속 반환된다.
type scriptedService struct {
	states []Status
	rows   [][]string

	submitErr error
	fetchErr  error

	submitCalls int
	pollCalls   int
	fetchCalls  int
}

func (s *scriptedService) Submit(_ context.Context, _ string) (string, error) {
	s.submitCalls++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "exec-1", nil
}

func (s *scriptedService) Poll(_ context.Context, _ string) (Status, error) {
	i := s.pollCalls
	s.pollCalls++
	if i >= len(s.states) {
		i = len(s.states) - 1
	}
	return s.states[i], nil
}

func (s *scriptedService) Fetch(_ context.Context, _ string) ([][]string, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.rows, nil
}

func newTestOrchestrator(svc Service) *Orchestrator {
	return NewOrchestrator(svc, metrics.New(), time.Millisecond, time.Second)
}

func TestRunPollsUntilSucceededAndDropsHeader(t *testing.T) {
	svc := &scriptedService{
		states: []Status{
			{State: StateQueued},
			{State: StateRunning},
			{State: StateSucceeded},
		},
		rows: [][]string{
			{"sensorid", "temperature_celsius", "rawhumidity", "timestamp", "objectkey"},
			{"s-1", "21.50", "40.0", "2025-02-10T12:00:00Z", "raw/year=2025/month=02/day=10/b.json"},
			{"s-2", "23.00", "41.5", "2025-02-10T12:00:00Z", "raw/year=2025/month=02/day=10/b.json"},
		},
	}

	rows, err := newTestOrchestrator(svc).Run(context.Background(), "SELECT 1")
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "s-1", rows[0].SensorID)
	assert.Equal(t, "21.50", rows[0].TemperatureCelsius)
	assert.Equal(t, "s-2", rows[1].SensorID)

	assert.Equal(t, 1, svc.submitCalls)
	assert.Equal(t, 3, svc.pollCalls)
	assert.Equal(t, 1, svc.fetchCalls)

	// 헤더 셀 내용은 어떤 필드에도 나타나지 않는다
	for _, r := range rows {
		assert.NotEqual(t, "sensorid", r.SensorID)
		assert.NotEqual(t, "temperature_celsius", r.TemperatureCelsius)
	}
}

func TestRunHeaderDroppedEvenWithArbitraryContent(t *testing.T) {
	// 헤더 행은 내용과 무관하게 무조건 버려진다
	svc := &scriptedService{
		states: []Status{{State: StateSucceeded}},
		rows: [][]string{
			{"s-99", "99.9", "99", "2025-01-01T00:00:00Z", "looks-like-data"},
		},
	}

	rows, err := newTestOrchestrator(svc).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunEmptyResultSet(t *testing.T) {
	svc := &scriptedService{
		states: []Status{{State: StateSucceeded}},
		rows:   nil,
	}

	rows, err := newTestOrchestrator(svc).Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunFailureStateSkipsFetch(t *testing.T) {
	svc := &scriptedService{
		states: []Status{
			{State: StateRunning},
			{State: StateFailed, Reason: "SYNTAX_ERROR: line 1:8"},
		},
	}

	rows, err := newTestOrchestrator(svc).Run(context.Background(), "q")
	require.Error(t, err)
	assert.Nil(t, rows)

	var lc *LifecycleError
	require.True(t, errors.As(err, &lc))
	assert.Equal(t, StateFailed, lc.State)
	assert.Equal(t, "SYNTAX_ERROR: line 1:8", lc.Reason)
	assert.Contains(t, err.Error(), "SYNTAX_ERROR: line 1:8")

	assert.Equal(t, 2, svc.pollCalls)
	assert.Equal(t, 0, svc.fetchCalls, "failure state must never fetch")
}

func TestRunCancelledStateIsTerminal(t *testing.T) {
	svc := &scriptedService{
		states: []Status{{State: StateCancelled, Reason: "cancelled by user"}},
	}

	_, err := newTestOrchestrator(svc).Run(context.Background(), "q")

	var lc *LifecycleError
	require.True(t, errors.As(err, &lc))
	assert.Equal(t, StateCancelled, lc.State)
	assert.Equal(t, 0, svc.fetchCalls)
}

func TestRunSubmitErrorPropagates(t *testing.T) {
	svc := &scriptedService{submitErr: errors.New("throttled")}

	_, err := newTestOrchestrator(svc).Run(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Equal(t, 0, svc.pollCalls)
}

func TestRunMaxWaitExpiryIsFailureEquivalent(t *testing.T) {
	svc := &scriptedService{
		states: []Status{{State: StateRunning}}, // 영원히 RUNNING
	}

	orch := NewOrchestrator(svc, metrics.New(), time.Millisecond, 25*time.Millisecond)

	_, err := orch.Run(context.Background(), "q")
	require.Error(t, err)

	var lc *LifecycleError
	require.True(t, errors.As(err, &lc))
	assert.Equal(t, StateTimedOut, lc.State)
	assert.Equal(t, 0, svc.fetchCalls)
	assert.GreaterOrEqual(t, svc.pollCalls, 1)
}

func TestRunShortRowsArePaddedNotFatal(t *testing.T) {
	svc := &scriptedService{
		states: []Status{{State: StateSucceeded}},
		rows: [][]string{
			{"h1", "h2", "h3", "h4", "h5"},
			{"s-1", "20.00"}, // 3개 컬럼 누락
			{"s-2", "21.00", "40", "2025-02-10T12:00:00Z", "k"},
		},
	}

	rows, err := newTestOrchestrator(svc).Run(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "s-1", rows[0].SensorID)
	assert.Equal(t, "20.00", rows[0].TemperatureCelsius)
	assert.Empty(t, rows[0].RawHumidity)
	assert.Empty(t, rows[0].Timestamp)
	assert.Empty(t, rows[0].ObjectKey)

	assert.Equal(t, "k", rows[1].ObjectKey)
}

func TestRunContextCancellationStopsPolling(t *testing.T) {
	svc := &scriptedService{
		states: []Status{{State: StateRunning}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	orch := NewOrchestrator(svc, metrics.New(), 50*time.Millisecond, 0)

	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(ctx, "q")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop on cancellation")
	}
}
