// Package worker is the Worker Pool (L8): a fixed-size pool of parallel
// pixel workers, each holding a private color engine adapter and transform
// cache, coordinated through a one-shot shared-profile broadcast so
// per-task messages never carry megabyte-sized ICC buffers (§4.9).
package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/convert"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
)

// SharedProfiles is the one-shot broadcast message every worker receives
// before it is allowed to pull tasks (§5's "happens-before" ordering
// guarantee). DestinationProfileRef is the document's own opaque reference
// (produced once by the document converter interning the destination
// profile as a stream object) rather than raw bytes: a worker resolves it
// through the same convert.ProfileResolver its BufferConverter already
// holds, so the broadcast never needs to carry megabyte-sized ICC buffers
// per task, only the reference.
type SharedProfiles struct {
	DestinationProfileRef string
	DestinationFamily     colorspace.Family
	IntermediateProfiles  []string
	Intent                colorspace.RenderingIntent
	BPCEnabled            bool
}

// task is the internal unit of dispatch: an image record plus the
// destination options for this one image, and the channel the result is
// delivered back on.
type task struct {
	ctx   context.Context
	rec   convert.ImageRecord
	opts  convert.ImageConvertOptions
	reply chan taskResult
}

type taskResult struct {
	rec convert.ImageRecord
	err error
}

// state is a worker's position in the per-§4.9 state machine:
// uninitialized -> ready -> {working, idle}* -> terminated.
type state int

const (
	stateUninitialized state = iota
	stateReady
	stateWorking
	stateIdle
	stateTerminated
)

// Pool is the Worker Pool (L8). It satisfies convert.ImageDispatcher, so a
// PageConverter (L5) dispatches to it exactly as it would to
// convert.InlineImageDispatcher.
type Pool struct {
	queue   chan task
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	workers []*workerState
}

type workerState struct {
	mu    sync.Mutex
	state state
	// buffers and adapter are private per §4.9 ("holds a private engine
	// adapter, private transform cache"); profiles is the worker's own copy
	// of the broadcast, filled once and read thereafter.
	adapter  *icc.Adapter
	buffers  *convert.BufferConverter
	resolver convert.ProfileResolver
	profiles *SharedProfiles
}

// New starts n workers, each with its own Adapter and BufferConverter of the
// given transform-cache capacity. resolver resolves every profile reference
// a task or the shared broadcast carries, the destination profile's included.
func New(n int, cacheCapacity int, resolver convert.ProfileResolver) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{
		queue:   make(chan task),
		done:    make(chan struct{}),
		workers: make([]*workerState, n),
	}
	for i := 0; i < n; i++ {
		adapter := icc.New()
		ws := &workerState{
			state:    stateReady,
			adapter:  adapter,
			buffers:  convert.NewBufferConverter(adapter, resolver, cacheCapacity),
			resolver: resolver,
		}
		p.workers[i] = ws
		p.wg.Add(1)
		go p.run(ws)
	}
	return p
}

// SetResolver swaps every worker's profile resolver and drops their private
// transform caches. It must only be called between chains: ExecuteChain
// guarantees chains never run concurrently against a shared pool (§4.8's
// closing "concurrency ordering" note), so the caller is expected to call
// this once per chain, bound to whichever context (the original document or
// a chain's own clone) that chain is about to execute against, before any
// of its tasks are enqueued. Calling it while a chain's tasks are still in
// flight would let some tasks resolve refs through the old context and
// others through the new one.
func (p *Pool) SetResolver(resolver convert.ProfileResolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ws := range p.workers {
		ws.mu.Lock()
		ws.resolver = resolver
		ws.buffers.SetResolver(resolver)
		ws.mu.Unlock()
	}
}

// SetSharedProfiles broadcasts the destination and intermediate profiles to
// every worker and blocks until every worker has acknowledged, satisfying
// §5's "workers must not pull tasks until their SetSharedProfiles has been
// acknowledged" ordering guarantee — acknowledgement here is simply this
// call returning, since broadcast happens synchronously before any task is
// enqueued.
func (p *Pool) SetSharedProfiles(shared SharedProfiles) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ws := range p.workers {
		ws.mu.Lock()
		ws.profiles = &shared
		ws.mu.Unlock()
	}
}

// DispatchImage implements convert.ImageDispatcher: it enqueues a task and
// blocks for the reply, so from a PageConverter's point of view dispatching
// to the pool looks identical to dispatching inline.
func (p *Pool) DispatchImage(rec convert.ImageRecord, opts convert.ImageConvertOptions) (convert.ImageRecord, error) {
	return p.DispatchImageContext(context.Background(), rec, opts)
}

// DispatchImageContext is DispatchImage with an explicit cancellation token
// (§5 "Cancellation"). Workers check the token between tasks, never
// mid-task: a task already dequeued always runs to completion.
func (p *Pool) DispatchImageContext(ctx context.Context, rec convert.ImageRecord, opts convert.ImageConvertOptions) (convert.ImageRecord, error) {
	reply := make(chan taskResult, 1)
	t := task{ctx: ctx, rec: rec, opts: opts, reply: reply}

	select {
	case <-ctx.Done():
		return convert.ImageRecord{}, errors.Wrap(engineerr.ErrCanceled, "worker: dispatch canceled before enqueue")
	case p.queue <- t:
	}

	select {
	case <-ctx.Done():
		return convert.ImageRecord{}, errors.Wrap(engineerr.ErrCanceled, "worker: dispatch canceled awaiting result")
	case res := <-reply:
		return res.rec, res.err
	}
}

func (p *Pool) run(ws *workerState) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			// terminated releases all engine handles (§4.9): this worker's
			// adapter and cache are private, so nothing outlives it and
			// there is nothing further to release explicitly.
			ws.mu.Lock()
			ws.state = stateTerminated
			ws.mu.Unlock()
			return
		case t := <-p.queue:
			select {
			case <-t.ctx.Done():
				t.reply <- taskResult{err: errors.Wrap(engineerr.ErrCanceled, "worker: task canceled before start")}
				continue
			default:
			}
			ws.mu.Lock()
			ws.state = stateWorking
			ws.mu.Unlock()

			rec, err := runTask(ws, t)

			ws.mu.Lock()
			ws.state = stateIdle
			ws.mu.Unlock()

			t.reply <- taskResult{rec: rec, err: err}
		}
	}
}

// runTask fills the destination profile ref and family, and the
// intermediate profiles, from the worker's shared broadcast when the task
// omits them (task.field ?? shared.field, per §4.7 step 2); Intent and
// BPCEnabled always come from the task. It runs the image conversion via a
// private ImageConverter over this worker's own BufferConverter.
func runTask(ws *workerState, t task) (convert.ImageRecord, error) {
	opts := t.opts
	ws.mu.Lock()
	shared := ws.profiles
	ws.mu.Unlock()
	if shared != nil {
		if opts.DestinationProfileRef == "" {
			opts.DestinationProfileRef = shared.DestinationProfileRef
			opts.DestinationFamily = shared.DestinationFamily
		}
		if len(opts.IntermediateProfiles) == 0 {
			opts.IntermediateProfiles = shared.IntermediateProfiles
		}
	}
	images := convert.NewImageConverter(ws.buffers)
	return images.ConvertImage(t.rec, opts)
}

// Shutdown stops accepting work once in-flight tasks complete, terminating
// every worker. There is no separate release step: each worker's adapter
// is private and is dropped with the worker.
func (p *Pool) Shutdown() {
	close(p.done)
	p.wg.Wait()
}
