// Package schedule provides named periodic background tasks. The remoting client uses it
// for the request timeout sweep and the reconnect loop, the server for buffer pool
// maintenance.
package schedule

import (
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("remoting/schedule")

// IScheduler runs named periodic tasks
type IScheduler interface {
	// Schedule starts a task which first runs after dueTime and then every period.
	// A task is never run concurrently with itself. Scheduling a name which is
	// already running is a no-op.
	Schedule(name string, action func(), dueTime, period time.Duration)
	// Cancel stops the named task. A run which is already in progress finishes and
	// no further run is started. The returned channel is closed once the task has
	// returned; it is already closed for unknown names. Waiting on it from within the
	// task itself deadlocks.
	Cancel(name string) <-chan struct{}
}

type task struct {
	name    string
	action  func()
	dueTime time.Duration
	period  time.Duration
	stopCh  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (t *task) stop() {
	t.once.Do(func() { close(t.stopCh) })
}

func (t *task) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type scheduler struct {
	tasks *xsync.MapOf[string, *task]
}

// NewScheduler creates a goroutine based IScheduler
func NewScheduler() IScheduler {
	return &scheduler{
		tasks: xsync.NewMapOf[string, *task](),
	}
}

func (s *scheduler) Schedule(name string, action func(), dueTime, period time.Duration) {
	if period <= 0 {
		Logger.Warningf("Refusing to schedule task %s with non-positive period %s", name, period)
		return
	}

	t := &task{
		name:    name,
		action:  action,
		dueTime: dueTime,
		period:  period,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	if _, loaded := s.tasks.LoadOrStore(name, t); loaded {
		return
	}

	go s.run(t)
}

func (s *scheduler) Cancel(name string) <-chan struct{} {
	t, ok := s.tasks.LoadAndDelete(name)
	if !ok {
		return closedCh
	}
	t.stop()
	return t.done
}

// run waits for the due time and then runs the action once per period. The next
// period starts after the previous run returned.
func (s *scheduler) run(t *task) {
	defer close(t.done)

	timer := time.NewTimer(t.dueTime)
	defer timer.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-timer.C:
		}

		if t.stopped() {
			return
		}
		s.execute(t)
		timer.Reset(t.period)
	}
}

// execute runs the action and logs a panic instead of killing the scheduler goroutine
func (s *scheduler) execute(t *task) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Task has panicked, name: %s, due: %s, period: %s, error: %v", t.name, t.dueTime, t.period, r)
		}
	}()
	t.action()
}
