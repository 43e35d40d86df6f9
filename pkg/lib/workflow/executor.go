package workflow

import "sync"

// Executor runs tasks.
type Executor interface {
	Execute(task func())
}

// SerialExecutor runs tasks one after another, in submission order, on a
// goroutine it starts on demand. Tasks may submit further tasks.
type SerialExecutor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func NewSerialExecutor() *SerialExecutor {
	return &SerialExecutor{}
}

func (e *SerialExecutor) Execute(task func()) {
	e.mu.Lock()
	e.queue = append(e.queue, task)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	go e.drain()
}

func (e *SerialExecutor) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		task()
	}
}

// GoExecutor runs every task on its own goroutine.
type GoExecutor struct{}

func (GoExecutor) Execute(task func()) {
	go task()
}
