package push

import (
	"context"
	"sync"
	"time"

	"github.com/contentbridge/adaptor/batcher"
	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/logging"
)

// Item is one queued push, carried through AsyncDocIdSender's mpsc queue
// to the single draining worker.
type Item struct {
	Record docid.Record
}

// AsyncDocIdSender decouples callers that discover records (e.g. while
// serving a request) from the batched, synchronous DocIdSender push path,
// per §4.9. AsyncPushItem never blocks: a full queue drops the item.
type AsyncDocIdSender struct {
	Target     *DocIdSender
	MaxBatch   int
	MaxLatency time.Duration

	queue chan Item

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewAsyncDocIdSender returns an AsyncDocIdSender pushing batches to
// target. queueSize bounds the mpsc queue; maxBatch and maxLatency are
// the BlockingQueueBatcher parameters the drain worker uses.
func NewAsyncDocIdSender(target *DocIdSender, queueSize, maxBatch int, maxLatency time.Duration) *AsyncDocIdSender {
	return &AsyncDocIdSender{
		Target:     target,
		MaxBatch:   maxBatch,
		MaxLatency: maxLatency,
		queue:      make(chan Item, queueSize),
	}
}

// AsyncPushItem offers item to the queue and returns immediately. A full
// queue drops the item rather than blocking the caller.
func (a *AsyncDocIdSender) AsyncPushItem(item Item) {
	select {
	case a.queue <- item:
	default:
		logging.Logger().WithField("docid", item.Record.DocID().String()).
			Warn("push: async queue full, dropping item")
	}
}

// Start launches the single drain worker. Calling Start more than once is
// a no-op; Stop interrupts the worker and waits for it to flush and exit.
func (a *AsyncDocIdSender) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		a.cancel = cancel
		a.done = make(chan struct{})
		go a.run(runCtx)
	})
}

// Stop interrupts the drain worker and blocks until it has flushed any
// remaining queued items and exited.
func (a *AsyncDocIdSender) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *AsyncDocIdSender) run(ctx context.Context) {
	defer close(a.done)
	for {
		var batch []Item
		n := batcher.Take(ctx, a.queue, &batch, a.MaxBatch, a.MaxLatency)
		if n > 0 {
			a.push(ctx, batch)
		}
		if ctx.Err() != nil {
			a.drainRemaining()
			return
		}
	}
}

// drainRemaining flushes whatever is immediately available in the queue
// at interrupt time, per §4.9's "flushing the remainder via drainTo".
func (a *AsyncDocIdSender) drainRemaining() {
	var batch []Item
	for {
		select {
		case item := <-a.queue:
			batch = append(batch, item)
		default:
			if len(batch) > 0 {
				a.push(context.Background(), batch)
			}
			return
		}
	}
}

func (a *AsyncDocIdSender) push(ctx context.Context, batch []Item) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	records := make([]docid.Record, len(batch))
	for i, item := range batch {
		records[i] = item.Record
	}
	if _, _, err := a.Target.PushRecords(ctx, records); err != nil {
		logging.Logger().WithError(err).WithField("batchSize", len(records)).
			Error("push: async batch push failed")
	}
	if resume, failed := a.Target.Flush(ctx); failed {
		logging.Logger().WithField("resumeFrom", resume.String()).WithField("batchSize", len(records)).
			Error("push: async batch flush failed")
	}
}
