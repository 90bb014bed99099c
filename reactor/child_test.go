package reactor_test

import (
	"os/exec"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flux-framework/flux-core-go/reactor"
)

// Section 8's "child-watcher aggregation" property: K child watchers on K
// distinct pids that all exit 0 fire exactly K callbacks, and the reactor
// returns with zero pending watchers once the plumbing (prepare/check/idle)
// is correctly unreffed per section 5. Here the children exit about 0.2s
// after they are spawned, after their watchers are started.
var _ = Describe("ChildWatcher", func() {
	It("fires exactly once per watched pid and lets Run return", func() {
		const k = 3

		r := reactor.Create(reactor.FlagChild)

		var mu sync.Mutex
		fired := 0

		// Each child sleeps briefly before exiting so it reaps only after its
		// watcher is registered and the shared SIGCHLD handler is armed,
		// avoiding a race against Start().
		cmds := make([]*exec.Cmd, 0, k)
		for i := 0; i < k; i++ {
			cmd := exec.Command("sh", "-c", "sleep 0.2; exit 0")
			Expect(cmd.Start()).To(Succeed())
			cmds = append(cmds, cmd)
		}

		watchers := make([]*reactor.ChildWatcher, 0, k)
		for _, cmd := range cmds {
			pid := cmd.Process.Pid
			var w *reactor.ChildWatcher
			w, err := reactor.NewChildWatcher(r, pid, func(pid, status int) {
				mu.Lock()
				fired++
				mu.Unlock()
				// Stop the watcher itself once its job is done; only the
				// ChildWatcher's own referenced bit (not the unreffed
				// internal plumbing) keeps Run alive.
				w.Stop()
			})
			Expect(err).NotTo(HaveOccurred())
			w.Start()
			watchers = append(watchers, w)
		}

		n, err := r.Run(reactor.RunDefault)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))

		mu.Lock()
		defer mu.Unlock()
		Expect(fired).To(Equal(k))
	})

	It("rejects a child watcher on a reactor created without FlagChild", func() {
		r := reactor.Create(0)
		_, err := reactor.NewChildWatcher(r, 1, func(int, int) {})
		Expect(err).To(HaveOccurred())
	})
})
