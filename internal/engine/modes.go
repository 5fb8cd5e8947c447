package engine

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/pkg/vision"
)

// freeOSMemory returns freed heap to the OS. Tests count calls through it.
var freeOSMemory = debug.FreeOSMemory

// runThread shares one client between all workers.
func (e *Engine) runThread(ctx context.Context, tasks []model.Task, emit func(outcome)) error {
	client, err := e.deps.Factory(ctx, "")
	if err != nil {
		return eris.Wrap(err, "engine: build client")
	}
	defer closeClient(client, "")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, t := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			emit(e.execute(gctx, client, t))
			return nil
		})
	}
	return g.Wait()
}

// runProcess builds and closes a client per task so no state survives
// between tasks, and returns memory to the OS every GCInterval tasks.
func (e *Engine) runProcess(ctx context.Context, tasks []model.Task, emit func(outcome)) error {
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, t := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			emit(e.isolated(gctx, t))
			e.maybeFreeMemory(completed.Add(1))
			return nil
		})
	}
	return g.Wait()
}

// maybeFreeMemory releases memory once every GCInterval completed tasks.
func (e *Engine) maybeFreeMemory(completed int64) {
	if e.opts.GCInterval > 0 && completed%int64(e.opts.GCInterval) == 0 {
		freeOSMemory()
	}
}

func (e *Engine) isolated(ctx context.Context, t model.Task) outcome {
	client, err := e.deps.Factory(ctx, "")
	if err != nil {
		return outcome{rec: errorRecord(t, eris.Wrap(err, "engine: build client").Error())}
	}
	defer closeClient(client, "")
	return e.execute(ctx, client, t)
}

// Shards splits tasks into at most n contiguous slices of len(tasks)/n
// tasks each; the last shard takes the remainder.
func Shards(tasks []model.Task, n int) [][]model.Task {
	n = max(1, n)
	size := max(1, len(tasks)/n)
	out := make([][]model.Task, 0, n)
	for i := range n {
		lo := i * size
		if lo >= len(tasks) {
			break
		}
		hi := lo + size
		if i == n-1 || hi > len(tasks) {
			hi = len(tasks)
		}
		out = append(out, tasks[lo:hi])
	}
	return out
}

// runDevices pins each shard to one device. Every worker builds its client
// once for its device before taking work and frees memory every GCInterval
// tasks it handles.
func (e *Engine) runDevices(ctx context.Context, tasks []model.Task, emit func(outcome)) error {
	perDevice := max(1, e.opts.Workers/e.opts.NumDevices)

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range Shards(tasks, e.opts.NumDevices) {
		device := strconv.Itoa(i)
		queue := make(chan model.Task)

		g.Go(func() error {
			defer close(queue)
			for _, t := range shard {
				select {
				case queue <- t:
				case <-gctx.Done():
					return nil //nolint:nilerr // remaining tasks stay unwritten for resume
				}
			}
			return nil
		})
		for range min(perDevice, len(shard)) {
			g.Go(func() error {
				e.deviceWorker(gctx, device, queue, emit)
				return nil
			})
		}
		zap.L().Debug("engine: shard assigned",
			zap.String("device", device),
			zap.Int("tasks", len(shard)),
			zap.Int("workers", min(perDevice, len(shard))),
		)
	}
	return g.Wait()
}

func (e *Engine) deviceWorker(ctx context.Context, device string, queue <-chan model.Task, emit func(outcome)) {
	client, err := e.deps.Factory(ctx, device)
	if err != nil {
		zap.L().Error("engine: device worker could not build client",
			zap.String("device", device),
			zap.Error(err),
		)
		msg := eris.Wrapf(err, "engine: build client for device %s", device).Error()
		for t := range queue {
			emit(outcome{rec: errorRecord(t, msg)})
		}
		return
	}
	defer closeClient(client, device)

	var handled int64
	for t := range queue {
		emit(e.execute(ctx, client, t))
		handled++
		e.maybeFreeMemory(handled)
	}
}

// runAsync assigns tasks round-robin to devices. Each device has one
// client and admits at most MaxConcurrentPerDevice tasks at a time.
func (e *Engine) runAsync(ctx context.Context, tasks []model.Task, emit func(outcome)) error {
	n := e.opts.NumDevices
	clients := make([]vision.Client, 0, n)
	defer func() {
		for i, c := range clients {
			closeClient(c, strconv.Itoa(i))
		}
	}()
	for i := range n {
		c, err := e.deps.Factory(ctx, strconv.Itoa(i))
		if err != nil {
			return eris.Wrapf(err, "engine: build client for device %d", i)
		}
		clients = append(clients, c)
	}

	sems := make([]*semaphore.Weighted, n)
	for i := range sems {
		sems[i] = semaphore.NewWeighted(int64(e.opts.MaxConcurrentPerDevice))
	}

	var wg sync.WaitGroup
	for i, t := range tasks {
		dev := i % n
		if err := sems[dev].Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sems[dev].Release(1)
			emit(e.execute(ctx, clients[dev], t))
		}()
	}
	wg.Wait()
	return nil
}
