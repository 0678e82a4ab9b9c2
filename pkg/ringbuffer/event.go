package ringbuffer

// event is a level-triggered wakeup with at most one pending signal.
type event struct {
	ch chan struct{}
}

func newEvent() *event {
	return &event{
		ch: make(chan struct{}, 1),
	}
}

func (e *event) signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

func (e *event) wait() {
	<-e.ch
}
