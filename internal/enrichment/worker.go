package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/yojigen/ai-secretary/pkg/logging"
)

// Worker drains the enrichment queue with a pool of goroutines.
type Worker struct {
	processor *Processor
	queue     queueClient
	logger    *logging.Logger

	workerCount      int
	receiveBatchSize int
	receiveWaitSecs  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithWorkerCount sets the number of concurrent consumers.
func WithWorkerCount(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workerCount = n
		}
	}
}

func NewWorker(processor *Processor, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("enrichment: processor cannot be nil")
	}
	if queue == nil {
		panic("enrichment: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		processor:        processor,
		queue:            queue,
		logger:           logger,
		workerCount:      2,
		receiveBatchSize: 5,
		receiveWaitSecs:  20,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the consumer goroutines. Call Wait after canceling
// ctx to block until they drain.
func (w *Worker) Start(ctx context.Context) {
	w.once.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		w.ctx, w.cancel = context.WithCancel(ctx)
		for i := 0; i < w.workerCount; i++ {
			w.wg.Add(1)
			go w.run(i)
		}
	})
}

// Wait blocks until all consumers have stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Stop cancels the consumers and waits for them.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.Wait()
}

func (w *Worker) run(workerID int) {
	defer w.wg.Done()
	w.logger.Debug("enrichment worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("enrichment worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(w.ctx, w.receiveBatchSize, w.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive enrichment tasks", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handle(msg)
		}
	}
}

func (w *Worker) handle(msg queueMessage) {
	var task Task
	if err := json.Unmarshal([]byte(msg.Body), &task); err != nil {
		w.logger.Error("failed to decode enrichment task", "error", err)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	if err := w.processor.Process(w.ctx, &task); err != nil {
		// Leave the message for redelivery.
		w.logger.Error("enrichment task failed", "order_id", task.OrderID, "error", err)
		return
	}

	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete enrichment task", "error", err)
	}
}
