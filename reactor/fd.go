package reactor

// FDEvent mirrors POLLIN/POLLOUT readiness.
type FDEvent uint8

const (
	FDReadable FDEvent = 0x01
	FDWritable FDEvent = 0x02
)

// FDWaiter is supplied by the caller and blocks until the watched descriptor
// becomes ready, returning which of read/write readiness fired, or an error
// (including a stop request delivered on stopCh) that ends the watch loop.
// This indirection keeps the reactor portable: it does not reach for a raw
// epoll/kqueue syscall itself, since no library in the example pack wraps
// one -- callers supply a waiter
// built on whatever net.Conn/os.File primitive they already hold.
type FDWaiter func(stopCh <-chan struct{}) (FDEvent, error)

// FDWatcher fires cb on the reactor goroutine whenever wait reports
// readiness, until stopped.
type FDWatcher struct {
	*base
	wait   FDWaiter
	cb     func(FDEvent)
	stopCh chan struct{}
}

func NewFDWatcher(r *Reactor, wait FDWaiter, cb func(FDEvent)) *FDWatcher {
	w := &FDWatcher{base: newBase(r, "fd"), wait: wait, cb: cb}
	w.onStart = func() {
		w.stopCh = make(chan struct{})
		go w.loop()
	}
	w.onStop = func() {
		if w.stopCh != nil {
			close(w.stopCh)
			w.stopCh = nil
		}
	}
	return w
}

func (w *FDWatcher) loop() {
	stopCh := w.stopCh
	for {
		revents, err := w.wait(stopCh)
		if err != nil {
			return
		}
		select {
		case w.reactor.events <- func() {
			if w.active {
				w.cb(revents)
			}
		}:
		case <-stopCh:
			return
		}
	}
}
