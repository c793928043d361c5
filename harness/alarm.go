package harness

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/weiihann/creato/pmc"
	"github.com/weiihann/creato/shm"
	"github.com/weiihann/creato/telemetry"
)

// drainTimeout bounds how long the harvest waits for workers to leave
// their loops after the stop. Only a worker that died mid-run can hit it.
const drainTimeout = 2 * time.Second

// Alarm is the leader's timer. Arm starts the window; when the timer
// fires the alarm stops the run, harvests the counters and emits the
// result. An armed alarm cannot be extended; only Abandon cancels it.
type Alarm struct {
	block    *shm.Block
	counters pmc.Reader
	sink     telemetry.Sink
	label    string
	emit     func(*Result)

	pmcStart  []uint64
	pmcStop   []uint64
	start     time.Time
	timer     *time.Timer
	armed     chan struct{}
	done      chan struct{}
	result    *Result
	abandoned atomic.Bool
}

// NewAlarm prepares an alarm for block. tmpl supplies the identifying
// fields of the result; emit, if set, is called with the finished result
// from the timer goroutine.
func NewAlarm(
	block *shm.Block,
	counters pmc.Reader,
	sink telemetry.Sink,
	tmpl Result,
	emit func(*Result),
) *Alarm {
	n := counters.Len()

	res := tmpl
	res.WorkerOps = make([]uint64, 0, block.NProcs())
	res.Counters = make([]CounterResult, n)
	for i := range res.Counters {
		res.Counters[i] = CounterResult{Index: i, Name: counters.Name(i)}
	}

	return &Alarm{
		block:    block,
		counters: counters,
		sink:     sink,
		label:    "creato/" + tmpl.Operation,
		emit:     emit,
		pmcStart: make([]uint64, n),
		pmcStop:  make([]uint64, n),
		armed:    make(chan struct{}),
		done:     make(chan struct{}),
		result:   &res,
	}
}

// Arm opens the measured window: counter and clock snapshots, tracing on,
// timer armed, run started. The caller must have released the barrier.
// A zero d fires at once, unlike alarm(2) where zero never fires.
func (a *Alarm) Arm(d time.Duration) {
	pmc.Snapshot(a.counters, a.pmcStart)
	a.start = time.Now()
	a.sink.Enable(true, a.label)
	a.timer = time.AfterFunc(d, a.expire)
	a.block.Start()
	close(a.armed)
}

func (a *Alarm) expire() {
	<-a.armed

	tot := a.block.Sum()
	a.sink.Register(tot)
	a.sink.Enable(false, a.label)

	pmc.Snapshot(a.counters, a.pmcStop)
	stop := time.Now()

	a.block.Stop()

	// Catch operations finished since the first sum, including ones
	// still in flight when the run stopped.
	a.drain()
	res := a.result
	res.WorkerOps = a.block.Counts(res.WorkerOps)
	res.TotalOps = 0
	for _, n := range res.WorkerOps {
		res.TotalOps += n
	}

	res.ElapsedUsec = stop.Sub(a.start).Microseconds()
	for i := range res.Counters {
		res.Counters[i].Start = a.pmcStart[i]
		res.Counters[i].Stop = a.pmcStop[i]
	}
	res.compute()

	if a.emit != nil && !a.abandoned.Load() {
		a.emit(res)
	}
	close(a.done)
}

func (a *Alarm) drain() {
	deadline := time.Now().Add(drainTimeout)
	for a.block.Exited() < a.block.NProcs() && time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

// Abandon is for a leader that failed mid-run: it stops the run now and
// suppresses the emit. If the timer had not fired yet it is cancelled and
// Done closes at once; otherwise the harvest already under way finishes
// first, so the block must stay mapped until Done is closed.
func (a *Alarm) Abandon() {
	a.abandoned.Store(true)
	a.block.Stop()

	if a.timer != nil && a.timer.Stop() {
		a.sink.Enable(false, a.label)
		close(a.done)
	}
}

// Wait blocks until the alarm has fired and emitted, and returns the
// result.
func (a *Alarm) Wait() *Result {
	<-a.done
	return a.result
}

// Done is closed once the result has been emitted.
func (a *Alarm) Done() <-chan struct{} {
	return a.done
}
