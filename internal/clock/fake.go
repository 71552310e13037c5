package clock

import (
	"sync"
	"time"

	"withvoice/internal/ports"
)

// Fake is a manually advanced scheduler for tests.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*fakeTask
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Every(interval time.Duration, fn func()) ports.Task {
	if interval <= 0 {
		interval = time.Millisecond
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	task := &fakeTask{
		fake:     f,
		seq:      f.seq,
		interval: interval,
		next:     f.now.Add(interval),
		fn:       fn,
	}
	f.tasks = append(f.tasks, task)
	return task
}

// Advance moves time forward, firing every task that falls due in order.
// Callbacks run without the fake's lock held, so they may schedule or
// cancel tasks.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		task := f.nextDue(target)
		if task == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = task.next
		task.next = task.next.Add(task.interval)
		fn := task.fn
		f.mu.Unlock()

		fn()
	}
}

// Active returns the number of tasks that have not been cancelled.
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *Fake) nextDue(target time.Time) *fakeTask {
	var due *fakeTask
	for _, task := range f.tasks {
		if task.next.After(target) {
			continue
		}
		if due == nil || task.next.Before(due.next) || (task.next.Equal(due.next) && task.seq < due.seq) {
			due = task
		}
	}
	return due
}

func (f *Fake) remove(task *fakeTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, candidate := range f.tasks {
		if candidate == task {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return
		}
	}
}

type fakeTask struct {
	fake     *Fake
	seq      int
	interval time.Duration
	next     time.Time
	fn       func()
}

func (t *fakeTask) Cancel() {
	t.fake.remove(t)
}
