package message_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flux-framework/flux-core-go/message"
)

var _ = Describe("Message", func() {
	Describe("Create", func() {
		It("fills REQUEST defaults", func() {
			m, err := message.Create(message.TypeRequest)
			Expect(err).NotTo(HaveOccurred())
			nodeid, err := m.NodeID()
			Expect(err).NotTo(HaveOccurred())
			Expect(nodeid).To(Equal(message.NodeIDAny))
			tag, err := m.Matchtag()
			Expect(err).NotTo(HaveOccurred())
			Expect(tag).To(Equal(message.MatchtagNone))
			Expect(m.UserID()).To(Equal(message.UserIDUnknown))
		})

		It("rejects an unknown type", func() {
			_, err := message.Create(message.TypeAny)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SetFlags", func() {
		It("rejects STREAMING and NORESPONSE together", func() {
			m, _ := message.Create(message.TypeRequest)
			err := m.SetFlags(message.FlagStreaming | message.FlagNoResponse)
			Expect(err).To(HaveOccurred())
		})

		It("accepts STREAMING alone", func() {
			m, _ := message.Create(message.TypeRequest)
			Expect(m.SetFlags(message.FlagStreaming)).To(Succeed())
		})
	})

	Describe("refcounting", func() {
		It("releases storage only on the last decref", func() {
			m, _ := message.Create(message.TypeRequest)
			Expect(m.SetTopic("meep")).To(Succeed())
			m.Incref()
			Expect(m.Decref()).To(BeFalse())
			topic, ok := m.Topic()
			Expect(ok).To(BeTrue())
			Expect(topic).To(Equal("meep"))
			Expect(m.Decref()).To(BeTrue())
		})
	})

	Describe("SetNodeID late-UPSTREAM rule", func() {
		It("rejects a second set to UPSTREAM", func() {
			m, _ := message.Create(message.TypeRequest)
			Expect(m.SetNodeID(7)).To(Succeed())
			err := m.SetNodeID(message.NodeIDUpstream)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetString", func() {
		It("round-trips a string payload", func() {
			m, _ := message.Create(message.TypeRequest)
			Expect(m.SetString("hello")).To(Succeed())
			s, err := m.GetString()
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal("hello"))
		})

		It("errors without a NUL terminator", func() {
			m, _ := message.Create(message.TypeRequest)
			Expect(m.SetPayload([]byte("no-nul"))).To(Succeed())
			_, err := m.GetString()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("JSON payload", func() {
		It("round-trips structured data", func() {
			type point struct{ X, Y int }
			m, _ := message.Create(message.TypeResponse)
			Expect(m.SetJSON(point{X: 1, Y: 2})).To(Succeed())
			var got point
			Expect(m.GetJSON(&got)).To(Succeed())
			Expect(got).To(Equal(point{X: 1, Y: 2}))
		})
	})

	Describe("wire round-trip (section 8 property)", func() {
		It("round-trips a REQUEST with topic, payload, and routes", func() {
			m, err := message.Create(message.TypeRequest)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.SetUserID(42)).To(Succeed())
			Expect(m.SetRoleMask(message.RoleOwner)).To(Succeed())
			Expect(m.SetNodeID(3)).To(Succeed())
			Expect(m.SetMatchtag(99)).To(Succeed())
			Expect(m.SetTopic("job.submit")).To(Succeed())
			Expect(m.SetPayload([]byte("payload-bytes"))).To(Succeed())
			m.RouteEnable()
			Expect(m.RoutePush("rankA")).To(Succeed())
			Expect(m.RoutePush("rankB")).To(Succeed())

			buf, err := m.Encode()
			Expect(err).NotTo(HaveOccurred())

			out, err := message.Decode(buf)
			Expect(err).NotTo(HaveOccurred())

			Expect(out.Type()).To(Equal(message.TypeRequest))
			Expect(out.UserID()).To(Equal(uint32(42)))
			Expect(out.RoleMask()).To(Equal(message.RoleOwner))
			nodeid, err := out.NodeID()
			Expect(err).NotTo(HaveOccurred())
			Expect(nodeid).To(Equal(uint32(3)))
			tag, err := out.Matchtag()
			Expect(err).NotTo(HaveOccurred())
			Expect(tag).To(Equal(uint32(99)))
			topic, ok := out.Topic()
			Expect(ok).To(BeTrue())
			Expect(topic).To(Equal("job.submit"))
			payload, ok := out.Payload()
			Expect(ok).To(BeTrue())
			Expect(string(payload)).To(Equal("payload-bytes"))
			Expect(out.RouteCount()).To(Equal(2))
			last, _ := out.RouteLast()
			Expect(last).To(Equal("rankB"))
		})

		It("round-trips a bare EVENT with no optional frames", func() {
			m, _ := message.Create(message.TypeEvent)
			Expect(m.SetSeq(7)).To(Succeed())

			buf, err := m.Encode()
			Expect(err).NotTo(HaveOccurred())
			out, err := message.Decode(buf)
			Expect(err).NotTo(HaveOccurred())
			seq, err := out.Seq()
			Expect(err).NotTo(HaveOccurred())
			Expect(seq).To(Equal(uint32(7)))
		})

		It("round-trips a KEEPALIVE", func() {
			m, _ := message.Create(message.TypeKeepalive)
			Expect(m.SetErrnum(0)).To(Succeed())
			Expect(m.SetStatus(message.KeepaliveTestPause)).To(Succeed())

			buf, err := m.Encode()
			Expect(err).NotTo(HaveOccurred())
			out, err := message.Decode(buf)
			Expect(err).NotTo(HaveOccurred())
			status, err := out.Status()
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(message.KeepaliveTestPause))
		})

		It("rejects encoding a message still in ANY state", func() {
			m := &message.Message{}
			_, err := m.Encode()
			Expect(err).To(HaveOccurred())
		})

		It("reports truncated frames as a protocol error", func() {
			_, err := message.Decode([]byte{5, 1, 2})
			Expect(err).To(HaveOccurred())
		})
	})
})
