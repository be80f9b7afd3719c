package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProcessor struct {
	calls atomic.Int32
	err   error
}

func (p *countingProcessor) ProcessJobs(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

func TestWorker_ProcessesOnInterval(t *testing.T) {
	processor := &countingProcessor{}
	worker := NewWorker("test", processor, 10*time.Millisecond)

	go worker.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	worker.Stop()

	assert.GreaterOrEqual(t, processor.calls.Load(), int32(2))
}

func TestWorker_KeepsRunningAfterProcessorError(t *testing.T) {
	processor := &countingProcessor{err: errors.New("transient")}
	worker := NewWorker("test", processor, 10*time.Millisecond)

	go worker.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	worker.Stop()

	assert.GreaterOrEqual(t, processor.calls.Load(), int32(2), "errors must not stop the loop")
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	processor := &countingProcessor{}
	worker := NewWorker("test", processor, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type stubReembedder struct {
	healed    int
	err       error
	lastBatch int
}

func (s *stubReembedder) ReembedMissing(ctx context.Context, batchSize int) (int, error) {
	s.lastBatch = batchSize
	return s.healed, s.err
}

func TestReembedProcessor_PassesBatchSize(t *testing.T) {
	knowledge := &stubReembedder{healed: 3}
	processor := NewReembedProcessor(knowledge, 25)

	require.NoError(t, processor.ProcessJobs(context.Background()))
	assert.Equal(t, 25, knowledge.lastBatch)
}

func TestReembedProcessor_DefaultBatchSize(t *testing.T) {
	knowledge := &stubReembedder{}
	processor := NewReembedProcessor(knowledge, 0)

	require.NoError(t, processor.ProcessJobs(context.Background()))
	assert.Equal(t, 10, knowledge.lastBatch)
}

func TestReembedProcessor_PropagatesError(t *testing.T) {
	knowledge := &stubReembedder{err: errors.New("db down")}
	processor := NewReembedProcessor(knowledge, 5)

	assert.Error(t, processor.ProcessJobs(context.Background()))
}
