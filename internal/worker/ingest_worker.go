package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"docqa/internal/model"
	"docqa/internal/platform/rabbitmq"
)

const (
	JobProcessed = "processed"
	JobFailed    = "failed"
	JobRejected  = "rejected"
)

var errEmptyJob = errors.New("ingest job has no document id")

// DocumentProcessor indexes the document named by a job.
type DocumentProcessor interface {
	Process(ctx context.Context, job model.IngestJob) error
}

type JobObserver interface {
	ObserveIngestJob(result string)
}

// IngestWorker consumes ingest jobs and indexes documents one at a time.
// Failed jobs are dropped; the document stays index_failed until reprocessed.
type IngestWorker struct {
	conn      rabbitmq.ChannelOpener
	processor DocumentProcessor
	observer  JobObserver
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn rabbitmq.ChannelOpener, processor DocumentProcessor, observer JobObserver, queueName string) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		processor: processor,
		observer:  observer,
		queueName: queueName,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if result := w.handle(workerCtx, d.Body); result == JobProcessed {
					_ = d.Ack(false)
				} else {
					_ = d.Nack(false, false)
				}
			}
		}
	}()

	return nil
}

// handle decodes and processes one job body and reports its result.
func (w *IngestWorker) handle(ctx context.Context, body []byte) string {
	result := JobProcessed
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("worker decode ingest job failed: %v", err)
		result = JobRejected
	} else if job.DocumentID == "" {
		log.Printf("worker decode ingest job failed: %v", errEmptyJob)
		result = JobRejected
	} else if err := w.processor.Process(ctx, job); err != nil {
		log.Printf("worker index document %s failed: %v", job.DocumentID, err)
		result = JobFailed
	}

	if w.observer != nil {
		w.observer.ObserveIngestJob(result)
	}
	return result
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
