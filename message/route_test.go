package message_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flux-framework/flux-core-go/message"
)

var _ = Describe("route stack", func() {
	It("requires RouteEnable before any stack operation", func() {
		m, _ := message.Create(message.TypeRequest)
		err := m.RoutePush("x")
		Expect(err).To(HaveOccurred())
	})

	It("push/pop round-trips to the original stack (section 8 property)", func() {
		m, _ := message.Create(message.TypeRequest)
		m.RouteEnable()
		Expect(m.RoutePush("a")).To(Succeed())
		Expect(m.RoutePush("b")).To(Succeed())
		before := m.RouteString()

		Expect(m.RoutePush("c")).To(Succeed())
		popped, err := m.RoutePop()
		Expect(err).NotTo(HaveOccurred())
		Expect(popped).To(Equal("c"))

		Expect(m.RouteString()).To(Equal(before))
	})

	It("route_first after a single push returns that id", func() {
		m, _ := message.Create(message.TypeRequest)
		m.RouteEnable()
		Expect(m.RoutePush("only")).To(Succeed())
		first, err := m.RouteFirst()
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal("only"))
		last, err := m.RouteLast()
		Expect(err).NotTo(HaveOccurred())
		Expect(last).To(Equal("only"))
	})

	It("route_count equals pushes minus pops", func() {
		m, _ := message.Create(message.TypeRequest)
		m.RouteEnable()
		m.RoutePush("a")
		m.RoutePush("b")
		m.RoutePush("c")
		m.RoutePop()
		Expect(m.RouteCount()).To(Equal(2))
	})

	It("renders front-to-tail, truncated to 8 chars, '!'-separated", func() {
		m, _ := message.Create(message.TypeRequest)
		m.RouteEnable()
		Expect(m.RoutePush("rank-0000000001")).To(Succeed())
		Expect(m.RoutePush("rank-0000000002")).To(Succeed())
		// most recently pushed (rank-0000000002) is front.
		Expect(m.RouteString()).To(Equal("rank-000" + "!" + "rank-000"))
	})

	It("RouteDisable discards the stack", func() {
		m, _ := message.Create(message.TypeRequest)
		m.RouteEnable()
		m.RoutePush("a")
		m.RouteDisable()
		Expect(m.RouteEnabled()).To(BeFalse())
		_, err := m.RouteFirst()
		Expect(err).To(HaveOccurred())
	})

	It("encodes an empty delimiter frame even with an empty stack", func() {
		m, _ := message.Create(message.TypeEvent)
		m.RouteEnable()
		buf, err := m.Encode()
		Expect(err).NotTo(HaveOccurred())
		out, err := message.Decode(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.RouteEnabled()).To(BeTrue())
		Expect(out.RouteCount()).To(Equal(0))
	})
})
