package concurrent

type Limiter interface {
	// Add enqueue one working credential, blocking while the limit is reached.
	Add()
	// TryAdd enqueue one working credential if one is free.
	TryAdd() bool
	// Done dequeue one working credential.
	Done()
	// Working is the number of credentials in use.
	Working() int
}

type limiter struct {
	working chan struct{}
}

func NewLimiter(maxConcurrency int) Limiter {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &limiter{
		working: make(chan struct{}, maxConcurrency),
	}
}

func (in *limiter) Add() {
	in.working <- struct{}{}
}

func (in *limiter) TryAdd() bool {
	select {
	case in.working <- struct{}{}:
		return true
	default:
		return false
	}
}

func (in *limiter) Done() {
	<-in.working
}

func (in *limiter) Working() int {
	return len(in.working)
}
