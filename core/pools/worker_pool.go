package pools

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of deferred handler work
type Task = func()

// DefaultSlowTask is the run time above which a task is reported as slow.
const DefaultSlowTask = 3 * time.Second

// WorkerPool is a work-stealing goroutine pool. The engine runs deferred
// handler work on it so connection loops never block on user code.
// A task is queued only when a worker is free to take it; otherwise it
// runs on its own goroutine, so long-lived tasks never starve later ones.
type WorkerPool struct {
	numWorkers int
	queues     []*workerQueue
	workers    []*worker
	log        *zap.Logger
	slow       time.Duration

	idle atomic.Int64  // workers neither running nor reserved for a task
	wake chan struct{} // one token per queued task

	mu     sync.RWMutex // guards queue sends against Close
	closed atomic.Bool
	wg     sync.WaitGroup

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksOverflow  atomic.Uint64
		tasksPanicked  atomic.Uint64
		tasksSlow      atomic.Uint64
		stealsSuccess  atomic.Uint64
		stealsFailed   atomic.Uint64
	}
}

// workerQueue is the buffered queue of a single worker
type workerQueue struct {
	tasks chan Task
	id    int
}

// worker represents a goroutine that processes tasks
type worker struct {
	id    int
	pool  *WorkerPool
	queue *workerQueue
}

// WorkerOption configures a WorkerPool
type WorkerOption func(*WorkerPool)

// WithWorkerLogger sets the logger used for panics and slow tasks
func WithWorkerLogger(l *zap.Logger) WorkerOption {
	return func(p *WorkerPool) { p.log = l }
}

// WithSlowTask sets the slow-task reporting threshold; 0 disables it
func WithSlowTask(d time.Duration) WorkerOption {
	return func(p *WorkerPool) { p.slow = d }
}

// NewWorkerPool creates a new work-stealing worker pool
func NewWorkerPool(numWorkers int, opts ...WorkerOption) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		queues:     make([]*workerQueue, numWorkers),
		workers:    make([]*worker, numWorkers),
		log:        zap.NewNop(),
		slow:       DefaultSlowTask,
		wake:       make(chan struct{}, numWorkers),
	}
	pool.idle.Store(int64(numWorkers))
	for _, opt := range opts {
		opt(pool)
	}

	for i := 0; i < numWorkers; i++ {
		pool.queues[i] = &workerQueue{
			tasks: make(chan Task, 256),
			id:    i,
		}
	}

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:    i,
			pool:  pool,
			queue: pool.queues[i],
		}
		pool.workers[i] = w
		go w.run()
	}

	return pool
}

// Submit queues a task using round-robin when a worker is idle. With every
// worker busy the task gets its own goroutine. Submit reports false once
// the pool is closed.
func (p *WorkerPool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return false
	}

	n := p.stats.tasksSubmitted.Add(1)
	if !p.reserve() {
		p.overflow(task)
		return true
	}

	idx := int(n % uint64(p.numWorkers))
	for i := 0; i < p.numWorkers; i++ {
		select {
		case p.queues[(idx+i)%p.numWorkers].tasks <- task:
			p.signal()
			return true
		default:
		}
	}

	p.idle.Add(1)
	p.overflow(task)
	return true
}

// reserve claims an idle worker for one queued task
func (p *WorkerPool) reserve() bool {
	for {
		n := p.idle.Load()
		if n <= 0 {
			return false
		}
		if p.idle.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (p *WorkerPool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *WorkerPool) overflow(task Task) {
	p.stats.tasksOverflow.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.execute(task)
	}()
}

// execute runs one task, containing panics and reporting slow runs
func (p *WorkerPool) execute(task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.stats.tasksPanicked.Add(1)
			p.log.Error("deferred task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		p.stats.tasksCompleted.Add(1)
		if elapsed := time.Since(start); p.slow > 0 && elapsed > p.slow {
			p.stats.tasksSlow.Add(1)
			p.log.Warn("slow deferred task", zap.Duration("elapsed", elapsed))
		}
	}()
	task()
}

// run is the main loop for a worker goroutine
func (w *worker) run() {
	defer w.pool.wg.Done()

	for {
		select {
		case task, ok := <-w.queue.tasks:
			if !ok {
				return
			}
			w.process(task)
			continue
		default:
		}

		// Own queue is empty, try to steal from other workers
		if w.trySteal() {
			continue
		}

		select {
		case task, ok := <-w.queue.tasks:
			if !ok {
				return
			}
			w.process(task)
		case <-w.pool.wake:
		}
	}
}

// process runs a queued task and frees the reservation it was queued under
func (w *worker) process(task Task) {
	w.pool.execute(task)
	w.pool.idle.Add(1)
}

// trySteal attempts to steal work from another worker
func (w *worker) trySteal() bool {
	numWorkers := w.pool.numWorkers
	start := (w.id + 1) % numWorkers

	for i := 0; i < numWorkers-1; i++ {
		victim := w.pool.queues[(start+i)%numWorkers]

		select {
		case task, ok := <-victim.tasks:
			if ok {
				w.pool.stats.stealsSuccess.Add(1)
				w.process(task)
				return true
			}
		default:
		}
	}

	w.pool.stats.stealsFailed.Add(1)
	return false
}

// Close stops accepting tasks and waits for queued ones to drain
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return
	}
	for _, q := range p.queues {
		close(q.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	submitted := p.stats.tasksSubmitted.Load()
	completed := p.stats.tasksCompleted.Load()
	var pending uint64
	if submitted > completed {
		pending = submitted - completed
	}
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		IdleWorkers:    int(p.idle.Load()),
		TasksSubmitted: submitted,
		TasksCompleted: completed,
		TasksPending:   pending,
		TasksOverflow:  p.stats.tasksOverflow.Load(),
		TasksPanicked:  p.stats.tasksPanicked.Load(),
		TasksSlow:      p.stats.tasksSlow.Load(),
		StealsSuccess:  p.stats.stealsSuccess.Load(),
		StealsFailed:   p.stats.stealsFailed.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int    `json:"num_workers"`
	IdleWorkers    int    `json:"idle_workers"`
	TasksSubmitted uint64 `json:"tasks_submitted"`
	TasksCompleted uint64 `json:"tasks_completed"`
	TasksPending   uint64 `json:"tasks_pending"`
	TasksOverflow  uint64 `json:"tasks_overflow"`
	TasksPanicked  uint64 `json:"tasks_panicked"`
	TasksSlow      uint64 `json:"tasks_slow"`
	StealsSuccess  uint64 `json:"steals_success"`
	StealsFailed   uint64 `json:"steals_failed"`
}
