package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"airnode/models"

	"go.uber.org/zap"
)

// ErrBatcherStopped is returned by Publish after the batcher has shut down
var ErrBatcherStopped = errors.New("reading batcher stopped")

// BatchSink receives flushed batches
type BatchSink interface {
	PublishBatch(ctx context.Context, readings []*models.SensorReading) error
}

// ReadingBatcher buffers accepted readings on the collector and flushes them to a
// BatchSink when the batch is full or the batch timeout passes
type ReadingBatcher struct {
	sink         BatchSink
	logger       *zap.Logger
	maxBatchSize int
	batchTimeout time.Duration

	in           chan *models.SensorReading
	buffer       []*models.SensorReading
	bufferMutex  sync.Mutex
	shutdownChan chan struct{}
	stopped      chan struct{}
	stopOnce     sync.Once
}

// NewReadingBatcher creates a batcher; call Start to run it
func NewReadingBatcher(sink BatchSink, maxBatchSize int, batchTimeout time.Duration, logger *zap.Logger) *ReadingBatcher {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	return &ReadingBatcher{
		sink:         sink,
		logger:       logger.Named("batcher"),
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		in:           make(chan *models.SensorReading, maxBatchSize*4),
		buffer:       make([]*models.SensorReading, 0, maxBatchSize),
		shutdownChan: make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Publish queues a reading. It blocks while the queue is full.
func (bw *ReadingBatcher) Publish(reading *models.SensorReading) error {
	select {
	case <-bw.stopped:
		return ErrBatcherStopped
	default:
	}
	select {
	case bw.in <- reading:
		return nil
	case <-bw.stopped:
		return ErrBatcherStopped
	}
}

// Start runs the batcher until ctx is done, then flushes what is buffered
func (bw *ReadingBatcher) Start(ctx context.Context) {
	bw.logger.Info("Starting reading batcher",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	flushTimer := time.NewTimer(bw.batchTimeout)
	defer flushTimer.Stop()
	defer close(bw.shutdownChan)

	for {
		select {
		case <-ctx.Done():
			bw.stopOnce.Do(func() { close(bw.stopped) })
			bw.drain()
			// the context is gone, the final flush gets its own deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			bw.flushBuffer(flushCtx)
			cancel()
			return

		case reading := <-bw.in:
			bw.bufferMutex.Lock()
			bw.buffer = append(bw.buffer, reading)
			currentSize := len(bw.buffer)
			bw.bufferMutex.Unlock()

			if currentSize >= bw.maxBatchSize {
				if !flushTimer.Stop() {
					select {
					case <-flushTimer.C:
					default:
					}
				}
				bw.flushBuffer(ctx)
				flushTimer.Reset(bw.batchTimeout)
			}

		case <-flushTimer.C:
			bw.flushBuffer(ctx)
			flushTimer.Reset(bw.batchTimeout)
		}
	}
}

func (bw *ReadingBatcher) drain() {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	for {
		select {
		case reading := <-bw.in:
			bw.buffer = append(bw.buffer, reading)
		default:
			return
		}
	}
}

// flushBuffer hands the buffered readings to the sink, retrying a failed batch
func (bw *ReadingBatcher) flushBuffer(ctx context.Context) {
	bw.bufferMutex.Lock()
	if len(bw.buffer) == 0 {
		bw.bufferMutex.Unlock()
		return
	}
	batch := make([]*models.SensorReading, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]
	bw.bufferMutex.Unlock()

	maxRetries := 3
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.sink.PublishBatch(ctx, batch)
		if err == nil {
			bw.logger.Debug("Flushed batch", zap.Int("batch_size", len(batch)))
			return
		}

		bw.logger.Error("Failed to flush batch",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
			}
		}
	}

	bw.logger.Error("Failed to flush batch after all retries, readings dropped",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

// WaitForShutdown waits for Start to return
func (bw *ReadingBatcher) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetBufferSize returns the number of buffered readings not yet flushed
func (bw *ReadingBatcher) GetBufferSize() int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	return len(bw.buffer) + len(bw.in)
}
