package clock

import (
	"sync"
	"time"

	"withvoice/internal/ports"
)

// System is the wall-clock scheduler.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Every runs fn on its own goroutine at each interval until cancelled.
func (System) Every(interval time.Duration, fn func()) ports.Task {
	if interval <= 0 {
		interval = time.Millisecond
	}
	task := &tickerTask{stop: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-task.stop:
				return
			case <-ticker.C:
				select {
				case <-task.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return task
}

type tickerTask struct {
	stop chan struct{}
	once sync.Once
}

func (t *tickerTask) Cancel() {
	t.once.Do(func() { close(t.stop) })
}
