package reactor

import (
	"os"
	"os/signal"
)

// SignalWatcher fires cb on the reactor goroutine each time sig is
// delivered to the process, until stopped.
type SignalWatcher struct {
	*base
	sig    os.Signal
	cb     func(os.Signal)
	sigCh  chan os.Signal
	stopCh chan struct{}
}

func NewSignalWatcher(r *Reactor, sig os.Signal, cb func(os.Signal)) *SignalWatcher {
	w := &SignalWatcher{base: newBase(r, "signal"), sig: sig, cb: cb}
	w.onStart = func() {
		w.sigCh = make(chan os.Signal, 1)
		w.stopCh = make(chan struct{})
		signal.Notify(w.sigCh, sig)
		go w.loop()
	}
	w.onStop = func() {
		signal.Stop(w.sigCh)
		close(w.stopCh)
	}
	return w
}

func (w *SignalWatcher) loop() {
	sigCh, stopCh := w.sigCh, w.stopCh
	for {
		select {
		case s := <-sigCh:
			select {
			case w.reactor.events <- func() {
				if w.active {
					w.cb(s)
				}
			}:
			case <-stopCh:
				return
			}
		case <-stopCh:
			return
		}
	}
}
