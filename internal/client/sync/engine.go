package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
	"golang.org/x/sync/errgroup"

	"github.com/openmined/syftsync/internal/queue"
	"github.com/openmined/syftsync/internal/syftmsg"
	"github.com/openmined/syftsync/internal/utils"
)

const (
	// cycles fire every 0.5x-1.5x of this base, jittered so a fleet of
	// clients does not hammer the server in lockstep
	cycleBaseInterval = time.Second

	consumerWorkers = 4
)

var ErrSyncAlreadyRunning = errors.New("sync cycle already running")

// Engine drives the sync loop: scan local, fetch remote, compute changes,
// drain them through the consumer in priority order.
type Engine struct {
	owner     string
	rootDir   string
	transport Transport
	ignore    *IgnoreList
	priority  *PriorityList
	local     *LocalState
	watcher   *FileWatcher
	consumer  *Consumer

	// prevScan is the previous completed scan; a path present there but
	// absent from the current scan was deleted locally
	prevScan map[string]*syftmsg.FileMetadata

	removedMu sync.Mutex
	removed   map[string]bool

	kick    chan struct{}
	muCycle sync.Mutex
	wg      sync.WaitGroup
}

func NewEngine(owner, datasitesDir string, transport Transport) *Engine {
	ignore := NewIgnoreList(datasitesDir)
	priority := NewPriorityList(datasitesDir)
	local := NewLocalState(datasitesDir, ignore)
	watcher := NewFileWatcher(datasitesDir)
	consumer := NewConsumer(owner, datasitesDir, transport, local)
	consumer.SetOnLocalWrite(watcher.IgnoreOnce)
	consumer.SetIgnore(ignore)

	e := &Engine{
		owner:     owner,
		rootDir:   datasitesDir,
		transport: transport,
		ignore:    ignore,
		priority:  priority,
		local:     local,
		watcher:   watcher,
		consumer:  consumer,
		removed:   make(map[string]bool),
		kick:      make(chan struct{}, 1),
	}
	watcher.SetFilter(func(absPath string) bool {
		relPath, err := e.relPath(absPath)
		if err != nil {
			return true
		}
		return ignore.ShouldIgnore(relPath)
	})
	return e
}

func (e *Engine) Start(ctx context.Context) error {
	slog.Info("sync engine start", "owner", e.owner, "dir", e.rootDir)

	if err := e.runCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("initial sync failed", "error", err)
	}

	if err := e.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	e.wg.Add(1)
	go e.scheduler(ctx)

	e.wg.Add(1)
	go e.handleWatcherEvents(ctx)

	return nil
}

func (e *Engine) Stop() {
	slog.Info("sync engine stop")
	e.watcher.Stop()
	e.wg.Wait()
}

// RunSync forces one full cycle, for callers outside the scheduler.
func (e *Engine) RunSync(ctx context.Context) error {
	return e.runCycle(ctx)
}

// Resume lifts an authentication pause and nudges the scheduler.
func (e *Engine) Resume() {
	e.consumer.Resume()
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) scheduler(ctx context.Context) {
	defer e.wg.Done()

	// a timer, not a ticker, so a slow cycle never piles up queued ticks
	timer := time.NewTimer(jitteredInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
		case <-timer.C:
		}

		if err := e.runCycle(ctx); err != nil &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, ErrSyncAlreadyRunning) &&
			!errors.Is(err, ErrConsumerPaused) {
			slog.Error("sync cycle failed", "error", err)
		}
		timer.Reset(jitteredInterval())
	}
}

func jitteredInterval() time.Duration {
	half := cycleBaseInterval / 2
	return half + time.Duration(rand.Int63n(int64(cycleBaseInterval)))
}

func (e *Engine) runCycle(ctx context.Context) error {
	if !e.muCycle.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muCycle.Unlock()

	if e.consumer.Paused() {
		return ErrConsumerPaused
	}

	start := time.Now()

	// rule files may have been edited since the last cycle
	e.ignore.Refresh()
	e.priority.Refresh()

	remote, err := e.remoteState(ctx)
	if err != nil {
		return fmt.Errorf("remote state: %w", err)
	}

	local, err := e.local.Scan()
	if err != nil {
		return fmt.Errorf("local scan: %w", err)
	}

	deleted := e.deleteEvidence(local)
	ops := ComputeChanges(e.owner, local, remote, deleted)

	// record the pre-op view; Scan handed us a snapshot, so ops running
	// below cannot mutate it
	e.prevScan = local

	if len(ops) == 0 {
		return nil
	}

	pq := queue.NewPriorityQueue[*Op]()
	for _, op := range ops {
		op.Prioritized = e.priority.ShouldPrioritize(op.Path)
		pq.Enqueue(op, op.Priority())
	}

	e.drain(ctx, pq)

	slog.Info("sync cycle", "ops", len(ops), "took", time.Since(start))
	return nil
}

// drain runs queued ops through a bounded worker pool, one priority class at
// a time: every permission-class op completes before the first data op
// starts, so a rule grant is always in force for the data it governs. The
// consumer's per-path lock keeps same-path ops serialized within a batch.
func (e *Engine) drain(ctx context.Context, pq *queue.PriorityQueue[*Op]) {
	var batch []*Op
	flush := func() {
		if len(batch) == 0 {
			return
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(consumerWorkers)
		for _, op := range batch {
			op := op
			g.Go(func() error {
				if err := e.consumer.Process(gctx, op); err != nil && !errors.Is(err, context.Canceled) {
					slog.Debug("sync op error", "op", op, "error", err)
				}
				// op errors are logged, never fatal to the cycle
				return nil
			})
		}
		_ = g.Wait()
		batch = batch[:0]
	}

	highPriority := func(op *Op) bool { return op.Priority() < classDataFile }
	for {
		op, ok := pq.Dequeue()
		if !ok {
			break
		}
		if len(batch) > 0 && highPriority(batch[0]) != highPriority(op) {
			flush()
		}
		batch = append(batch, op)
	}
	flush()
}

// remoteState flattens the per-datasite view into one path-keyed map,
// dropping anything the ignore rules exclude.
func (e *Engine) remoteState(ctx context.Context) (map[string]*syftmsg.FileMetadata, error) {
	datasites, err := e.transport.DatasiteStates(ctx)
	if err != nil {
		return nil, err
	}

	remote := make(map[string]*syftmsg.FileMetadata)
	for _, files := range datasites {
		for _, meta := range files {
			if e.ignore.ShouldIgnore(meta.Path) {
				continue
			}
			remote[meta.Path] = meta
		}
	}
	return remote, nil
}

// deleteEvidence gathers the paths known to have been deleted locally:
// watcher removal events plus paths that vanished between scans.
func (e *Engine) deleteEvidence(current map[string]*syftmsg.FileMetadata) map[string]bool {
	e.removedMu.Lock()
	deleted := e.removed
	e.removed = make(map[string]bool)
	e.removedMu.Unlock()

	for path := range e.prevScan {
		if _, ok := current[path]; !ok {
			deleted[path] = true
		}
	}
	// a path that vanished because the user just ignored it was not deleted
	for path := range deleted {
		if e.ignore.ShouldIgnore(path) {
			delete(deleted, path)
		}
	}
	return deleted
}

func (e *Engine) handleWatcherEvents(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-e.watcher.Events():
			if !ok {
				return
			}
			e.onWatcherEvent(event)
		}
	}
}

func (e *Engine) onWatcherEvent(event notify.EventInfo) {
	relPath, err := e.relPath(event.Path())
	if err != nil || e.ignore.ShouldIgnore(relPath) {
		return
	}

	meta, err := e.local.RescanPath(relPath)
	if err != nil {
		slog.Warn("watcher rescan failed", "path", relPath, "error", err)
		return
	}
	if meta == nil && (event.Event() == notify.Remove || event.Event() == notify.Rename) {
		e.removedMu.Lock()
		e.removed[relPath] = true
		e.removedMu.Unlock()
	}

	// nudge the scheduler instead of syncing inline; bursts collapse into
	// one cycle
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(e.rootDir, absPath)
	if err != nil {
		return "", err
	}
	rel = utils.NormPath(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", fmt.Errorf("path %s escapes %s", absPath, e.rootDir)
	}
	return rel, nil
}
