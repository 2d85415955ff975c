package download

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/ytget/tver-downloader/internal/compress"
	"github.com/ytget/tver-downloader/internal/config"
	"github.com/ytget/tver-downloader/internal/model"
	"github.com/ytget/tver-downloader/internal/platform"
)

// JobIDPrefix prefixes generated job ids
const JobIDPrefix = "job-"

// stage tells which runner stage produced a message
type stage int

const (
	stageDownload stage = iota
	stageConvert
)

// message is a one-way report from a worker goroutine to the control loop
type message struct {
	entry    *entry
	stage    stage
	snapshot *model.Snapshot
	result   *model.Result
}

// entry is the control loop's record of one job lifecycle
type entry struct {
	seq      uint64
	snap     model.Snapshot
	opts     config.Options
	cancel   context.CancelFunc
	stopping bool
}

// Service is the job scheduler. A single control goroutine owns the queue
// and the active set; public methods and worker reports are messages to it.
type Service struct {
	logger hclog.Logger
	runner Runner
	events *dispatcher

	cmds chan func()
	msgs chan message
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
	workers   sync.WaitGroup
	ctx       context.Context
	cancelAll context.CancelFunc

	// owned by the control loop
	opts    config.Options
	tools   platform.Tools
	limit   int
	queue   []*entry
	active  map[string]*entry
	jobs    map[string]*entry
	nextSeq uint64
	busy    bool
}

// NewService creates a scheduler that runs jobs with the download worker and
// the conversion service. No job starts before SetToolPaths provides the
// executables.
func NewService(opts config.Options, sink Sink, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	runner := &pipeline{
		worker:    NewWorker(logger),
		converter: compress.NewService(logger),
	}
	return NewServiceWithRunner(opts, sink, runner, logger)
}

// NewServiceWithRunner creates a scheduler around a custom Runner
func NewServiceWithRunner(opts config.Options, sink Sink, runner Runner, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		logger:    logger.Named("scheduler"),
		runner:    runner,
		events:    newDispatcher(sink),
		cmds:      make(chan func()),
		msgs:      make(chan message),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancelAll: cancel,
		opts:      opts,
		limit:     config.ClampParallel(opts.MaxParallel),
		active:    make(map[string]*entry),
		jobs:      make(map[string]*entry),
	}
	go s.events.run()
	go s.loop()
	return s
}

func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.cmds:
			fn()
		case m := <-s.msgs:
			s.handle(m)
		case <-s.quit:
			s.cancelAll()
			return
		}
	}
}

// call runs fn on the control loop and waits for it. It returns false once
// the service is closed.
func (s *Service) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(finished) }:
	case <-s.quit:
		return false
	}
	<-finished
	return true
}

// post delivers a worker report; it is dropped once the service is closed
func (s *Service) post(m message) {
	select {
	case s.msgs <- m:
	case <-s.quit:
	}
}

// SetToolPaths provides the external executables and starts queued jobs
func (s *Service) SetToolPaths(tools platform.Tools) {
	s.call(func() {
		s.tools = tools
		s.fillSlots()
		s.changed()
	})
}

// UpdateOptions replaces the options used by jobs that start afterwards
func (s *Service) UpdateOptions(opts config.Options) {
	s.call(func() {
		s.opts = opts
	})
}

// Add queues a new job for rawKey. It returns false without side effects if
// the key is invalid or already has a non-terminal job. Adding a key whose
// previous job is terminal starts a new lifecycle.
func (s *Service) Add(rawKey string) bool {
	key, err := NormalizeKey(rawKey)
	if err != nil {
		s.logger.Warn("rejecting request", "key", rawKey, "error", err)
		return false
	}

	accepted := false
	s.call(func() {
		if e, ok := s.jobs[key]; ok && !e.snap.State.IsTerminal() {
			return
		}
		s.nextSeq++
		e := &entry{
			seq: s.nextSeq,
			snap: model.Snapshot{
				Key:      key,
				ID:       generateJobID(),
				State:    model.JobStateQueued,
				QueuedAt: time.Now(),
			},
		}
		s.jobs[key] = e
		s.queue = append(s.queue, e)
		accepted = true
		s.logger.Info("job queued", "key", key, "job_id", e.snap.ID)

		s.publish(e)
		s.fillSlots()
		s.changed()
	})
	return accepted
}

// RemoveFromQueue drops a job that has not started yet
func (s *Service) RemoveFromQueue(rawKey string) bool {
	key := normalizeOrTrim(rawKey)
	removed := false
	s.call(func() {
		e, ok := s.jobs[key]
		if !ok || e.snap.State != model.JobStateQueued || !s.dequeue(e) {
			return
		}
		delete(s.jobs, key)
		removed = true
		s.logger.Info("job removed from queue", "key", key)
		s.changed()
	})
	return removed
}

// Stop cancels a job. A queued job is cancelled without ever starting; a
// running job is cancelled once its process tree has been terminated.
func (s *Service) Stop(rawKey string) bool {
	key := normalizeOrTrim(rawKey)
	stopped := false
	s.call(func() {
		e, ok := s.jobs[key]
		if !ok || e.snap.State.IsTerminal() {
			return
		}
		stopped = true

		if s.dequeue(e) {
			s.logger.Info("queued job cancelled", "key", key)
			s.finish(e, model.Cancelled(key, e.snap.ID))
			return
		}
		if !e.stopping {
			s.logger.Info("stopping job", "key", key, "job_id", e.snap.ID)
			e.stopping = true
			e.cancel()
		}
	})
	return stopped
}

// UpdateConcurrency changes the slot limit. Running jobs are never preempted.
func (s *Service) UpdateConcurrency(n int) {
	s.call(func() {
		s.limit = config.ClampParallel(n)
		s.opts.MaxParallel = s.limit
		s.logger.Debug("concurrency updated", "limit", s.limit)
		s.fillSlots()
		s.changed()
	})
}

// Job returns the snapshot of the job for key
func (s *Service) Job(rawKey string) (model.Snapshot, bool) {
	key := normalizeOrTrim(rawKey)
	var snap model.Snapshot
	found := false
	s.call(func() {
		if e, ok := s.jobs[key]; ok {
			snap, found = e.snap, true
		}
	})
	return snap, found
}

// Jobs returns all known jobs in the order they were added
func (s *Service) Jobs() []model.Snapshot {
	var out []model.Snapshot
	s.call(func() {
		entries := make([]*entry, 0, len(s.jobs))
		for _, e := range s.jobs {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
		out = make([]model.Snapshot, len(entries))
		for i, e := range entries {
			out[i] = e.snap
		}
	})
	return out
}

// Acknowledge forgets a terminal job
func (s *Service) Acknowledge(rawKey string) bool {
	key := normalizeOrTrim(rawKey)
	acked := false
	s.call(func() {
		if e, ok := s.jobs[key]; ok && e.snap.State.IsTerminal() {
			delete(s.jobs, key)
			acked = true
		}
	})
	return acked
}

// Counts returns the number of queued and active jobs
func (s *Service) Counts() (queued, active int) {
	s.call(func() {
		queued, active = len(s.queue), len(s.active)
	})
	return queued, active
}

// Close cancels running jobs, waits for their processes to be terminated and
// stops event delivery. Jobs still running are not reported as finished.
// Close must not be called from a Sink.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		s.workers.Wait()
		s.events.close()
	})
}

// fillSlots starts queued jobs while slots are free. Nothing starts until the
// executables are known.
func (s *Service) fillSlots() {
	if !s.tools.Ready() {
		return
	}
	for len(s.active) < s.limit && len(s.queue) > 0 {
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.start(e)
	}
}

func (s *Service) start(e *entry) {
	ctx, cancel := context.WithCancel(s.ctx)
	e.cancel = cancel
	e.opts = s.opts
	e.snap.StartedAt = time.Now()
	s.active[e.snap.Key] = e

	job := Job{Key: e.snap.Key, ID: e.snap.ID, Options: e.opts, Tools: s.tools}
	s.logger.Info("job started", "key", job.Key, "job_id", job.ID)

	s.spawn(e, stageDownload, func(report func(model.Snapshot)) model.Result {
		return s.runner.Download(ctx, job, report)
	})
}

// spawn runs one runner stage on its own goroutine. Snapshots and the final
// result travel back to the control loop in production order.
func (s *Service) spawn(e *entry, st stage, run func(report func(model.Snapshot)) model.Result) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		report := func(snap model.Snapshot) {
			s.post(message{entry: e, stage: st, snapshot: &snap})
		}
		result := run(report)
		s.post(message{entry: e, stage: st, result: &result})
	}()
}

func (s *Service) handle(m message) {
	e := m.entry
	if s.active[e.snap.Key] != e {
		return
	}

	if m.snapshot != nil {
		s.applySnapshot(e, *m.snapshot)
		return
	}

	r := *m.result
	if m.stage == stageDownload && r.Success() && e.opts.ConversionEnabled() && !e.stopping {
		// the slot stays taken until conversion resolves
		job := Job{Key: e.snap.Key, ID: e.snap.ID, Options: e.opts, Tools: s.tools}
		ctx := s.jobContext(e)
		e.snap.OutputPath = r.Path
		e.snap.Metadata = r.Metadata
		s.spawn(e, stageConvert, func(report func(model.Snapshot)) model.Result {
			return s.runner.Convert(ctx, job, r, report)
		})
		return
	}
	s.finish(e, r)
}

// jobContext returns a context cancelled by Stop for e
func (s *Service) jobContext(e *entry) context.Context {
	ctx, cancel := context.WithCancel(s.ctx)
	previous := e.cancel
	e.cancel = func() {
		cancel()
		if previous != nil {
			previous()
		}
	}
	return ctx
}

func (s *Service) applySnapshot(e *entry, snap model.Snapshot) {
	if snap.State != e.snap.State && !e.snap.State.CanTransition(snap.State) {
		s.logger.Debug("ignoring backward state report", "key", e.snap.Key, "from", e.snap.State, "to", snap.State)
		snap.State = e.snap.State
	}
	if snap.State.IsTerminal() {
		// terminal states only come with the result
		snap.State = e.snap.State
	}
	if snap.OutputPath == "" {
		snap.OutputPath = e.snap.OutputPath
	}
	if snap.Metadata.ID == "" && snap.Metadata.Title == "" {
		snap.Metadata = e.snap.Metadata
	}

	snap.Key = e.snap.Key
	snap.ID = e.snap.ID
	snap.QueuedAt = e.snap.QueuedAt
	snap.StartedAt = e.snap.StartedAt
	e.snap = snap
	s.publish(e)
}

// finish records the terminal result, frees the slot and refills
func (s *Service) finish(e *entry, r model.Result) {
	key := e.snap.Key
	_, wasActive := s.active[key]
	delete(s.active, key)
	if e.cancel != nil {
		e.cancel()
	}

	if e.stopping && r.State == model.JobStateFailed {
		r = model.Cancelled(key, e.snap.ID)
	}
	if r.State == model.JobStateCancelled {
		r.Reason, r.Detail = model.ReasonNone, ""
	}
	r.Key = key
	r.ID = e.snap.ID
	if r.Path == "" {
		r.Path = e.snap.OutputPath
	}
	if r.Metadata.ID == "" && r.Metadata.Title == "" {
		r.Metadata = e.snap.Metadata
	}

	e.snap.State = r.State
	e.snap.Reason = r.Reason
	e.snap.Detail = r.Detail
	e.snap.OutputPath = r.Path
	e.snap.Metadata = r.Metadata
	e.snap.FinishedAt = time.Now()
	if r.Success() {
		e.snap.Progress.Percent = 100
	}
	e.snap.Progress.Speed, e.snap.Progress.ETA = "", ""

	s.logger.Info("job finished", "key", key, "job_id", r.ID, "state", r.State, "reason", r.Reason, "detail", r.Detail)
	s.publish(e)
	s.events.push(func(sink Sink) { sink.JobFinished(r) })

	if wasActive {
		s.fillSlots()
	}
	s.changed()
}

// dequeue removes e from the pending queue, reporting whether it was there
func (s *Service) dequeue(e *entry) bool {
	for i, queued := range s.queue {
		if queued == e {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) publish(e *entry) {
	snap := e.snap
	s.events.push(func(sink Sink) { sink.Progress(snap.Key, snap) })
}

// changed emits the counters and fires all-done once per transition into
// "nothing queued, nothing running"
func (s *Service) changed() {
	queued, active := len(s.queue), len(s.active)
	s.events.push(func(sink Sink) { sink.QueueChanged(queued, active) })

	idle := queued == 0 && active == 0
	if !idle {
		s.busy = true
		return
	}
	if s.busy {
		s.busy = false
		s.logger.Info("all jobs done")
		s.events.push(func(sink Sink) { sink.AllDone() })
	}
}

func normalizeOrTrim(raw string) string {
	if key, err := NormalizeKey(raw); err == nil {
		return key
	}
	return raw
}

// generateJobID generates a unique job ID using UUID v7 so ids sort by creation time
func generateJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(JobIDPrefix+"%d", time.Now().UnixNano())
	}
	return JobIDPrefix + id.String()
}
