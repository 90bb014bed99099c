package scratchpad_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"github.com/flux-framework/flux-core-go/message"
	"github.com/flux-framework/flux-core-go/scratchpad"
)

func llRequest(key string) *message.Message {
	m, _ := message.Create(message.TypeRequest)
	_ = m.SetJSON(struct {
		Key string `json:"key"`
	}{Key: key})
	return m
}

func scRequest(key string, version uint64, data any) *message.Message {
	m, _ := message.Create(message.TypeRequest)
	_ = m.SetJSON(struct {
		Key     string `json:"key"`
		Version uint64 `json:"version"`
		Data    any    `json:"data"`
	}{Key: key, Version: version, Data: data})
	return m
}

func scStreamRequest(key string, version uint64, data any, matchtag uint32) *message.Message {
	m, _ := message.Create(message.TypeRequest)
	_ = m.SetFlags(message.FlagStreaming)
	_ = m.SetMatchtag(matchtag)
	_ = m.SetJSON(struct {
		Key     string `json:"key"`
		Version uint64 `json:"version"`
		Data    any    `json:"data"`
	}{Key: key, Version: version, Data: data})
	return m
}

func scRetryRequest(matchtag uint32, version uint64, data any) *message.Message {
	m, _ := message.Create(message.TypeRequest)
	_ = m.SetFlags(message.FlagNoResponse)
	_ = m.SetJSON(struct {
		Matchtag uint32 `json:"matchtag"`
		Version  uint64 `json:"version"`
		Data     any    `json:"data"`
	}{Matchtag: matchtag, Version: version, Data: data})
	return m
}

func deleteRequest(key string) *message.Message {
	m, _ := message.Create(message.TypeRequest)
	_ = m.SetFlags(message.FlagNoResponse)
	_ = m.SetJSON(struct {
		Key string `json:"key"`
	}{Key: key})
	return m
}

func llOut(resp *message.Message) (uint64, json.RawMessage) {
	var out struct {
		Version uint64          `json:"version"`
		Data    json.RawMessage `json:"data"`
	}
	Expect(resp.GetJSON(&out)).To(Succeed())
	return out.Version, out.Data
}

var _ = Describe("Pad", func() {
	var pad *scratchpad.Pad

	BeforeEach(func() {
		var err error
		pad, err = scratchpad.New(nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(pad.Close()).To(Succeed())
	})

	Describe("LL on a missing key", func() {
		It("never fails and reports version 0", func() {
			resp, err := pad.LL(llRequest("x"))
			Expect(err).NotTo(HaveOccurred())
			v, _ := llOut(resp)
			Expect(v).To(Equal(uint64(0)))
		})
	})

	Describe("the worked LL/SC example from section 8 scenario 3", func() {
		It("applies SC only when the version matches", func() {
			v, _ := llOut(mustLL(pad, "x"))
			Expect(v).To(Equal(uint64(0)))

			_, err := pad.SC(scRequest("x", 0, []int{1}))
			Expect(err).NotTo(HaveOccurred())

			v, _ = llOut(mustLL(pad, "x"))
			Expect(v).To(Equal(uint64(1)))

			_, err = pad.SC(scRequest("x", 0, []int{2}))
			Expect(cos.IsKind(err, cos.KindVersionConflict)).To(BeTrue())
		})
	})

	Describe("the reserved key \".\"", func() {
		It("is read-only", func() {
			_, err := pad.SC(scRequest(".", 0, []int{1}))
			Expect(cos.IsKind(err, cos.KindInvalidArgument)).To(BeTrue())
		})

		It("reports {0, null} when the pad is empty", func() {
			resp, err := pad.LL(llRequest("."))
			Expect(err).NotTo(HaveOccurred())
			v, d := llOut(resp)
			Expect(v).To(Equal(uint64(0)))
			Expect(string(d)).To(Equal("null"))
		})

		It("reports the global version once a key has been written", func() {
			_, err := pad.SC(scRequest("k", 0, 1))
			Expect(err).NotTo(HaveOccurred())
			resp, err := pad.LL(llRequest("."))
			Expect(err).NotTo(HaveOccurred())
			v, _ := llOut(resp)
			Expect(v).To(Equal(uint64(1)))
		})
	})

	Describe("SC-stream", func() {
		It("applies immediately and ends the stream when the version matches", func() {
			var responses []*message.Message
			reply := func(m *message.Message) error {
				responses = append(responses, m)
				return nil
			}
			req := scStreamRequest("foo", 0, []int{1}, 42)
			Expect(pad.SCStream(req, reply)).To(Succeed())

			Expect(responses).To(HaveLen(1))
			errnum, err := responses[0].Errnum()
			Expect(err).NotTo(HaveOccurred())
			Expect(errnum).To(Equal(uint32(cos.KindNoData)))

			v, _ := llOut(mustLL(pad, "foo"))
			Expect(v).To(Equal(uint64(1)))
		})

		It("registers a pending stream and returns the current value on conflict", func() {
			_, err := pad.SC(scRequest("bar", 0, []int{1}))
			Expect(err).NotTo(HaveOccurred())

			var responses []*message.Message
			reply := func(m *message.Message) error {
				responses = append(responses, m)
				return nil
			}
			req := scStreamRequest("bar", 0, []int{2}, 7)
			Expect(pad.SCStream(req, reply)).To(Succeed())

			Expect(responses).To(HaveLen(1))
			v, _ := llOut(responses[0])
			Expect(v).To(Equal(uint64(1)))
		})

		It("requires the STREAMING flag", func() {
			m, _ := message.Create(message.TypeRequest)
			_ = m.SetJSON(struct {
				Key     string `json:"key"`
				Version uint64 `json:"version"`
				Data    any    `json:"data"`
			}{Key: "k", Version: 0, Data: 1})
			err := pad.SCStream(m, func(*message.Message) error { return nil })
			Expect(cos.IsKind(err, cos.KindProtocol)).To(BeTrue())
		})
	})

	Describe("SC-retry", func() {
		It("resolves a pending stream terminally when its version matches", func() {
			_, err := pad.SC(scRequest("foo", 0, []int{1}))
			Expect(err).NotTo(HaveOccurred())

			var responses []*message.Message
			reply := func(m *message.Message) error {
				responses = append(responses, m)
				return nil
			}
			req := scStreamRequest("foo", 0, []int{2}, 9)
			Expect(pad.SCStream(req, reply)).To(Succeed())
			Expect(responses).To(HaveLen(1)) // non-terminal: current value returned

			Expect(pad.SCRetry(scRetryRequest(9, 1, []int{1, 2}))).To(Succeed())
			Expect(responses).To(HaveLen(2))
			errnum, err := responses[1].Errnum()
			Expect(err).NotTo(HaveOccurred())
			Expect(errnum).To(Equal(uint32(cos.KindNoData)))

			v, _ := llOut(mustLL(pad, "foo"))
			Expect(v).To(Equal(uint64(2)))
		})

		It("requires the NORESPONSE flag", func() {
			m, _ := message.Create(message.TypeRequest)
			err := pad.SCRetry(m)
			Expect(cos.IsKind(err, cos.KindProtocol)).To(BeTrue())
		})

		It("fails for an unknown matchtag", func() {
			err := pad.SCRetry(scRetryRequest(999, 0, 1))
			Expect(cos.IsKind(err, cos.KindNotFound)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("removes a key and bumps the global version", func() {
			_, err := pad.SC(scRequest("k", 0, 1))
			Expect(err).NotTo(HaveOccurred())
			before, _ := llOut(mustLL(pad, "."))

			Expect(pad.Delete(deleteRequest("k"))).To(Succeed())

			resp, err := pad.LL(llRequest("k"))
			Expect(err).NotTo(HaveOccurred())
			v, _ := llOut(resp)
			Expect(v).To(Equal(uint64(0)))

			after, _ := llOut(mustLL(pad, "."))
			Expect(after).To(BeNumerically(">", before))
		})

		It("requires the NORESPONSE flag", func() {
			m, _ := message.Create(message.TypeRequest)
			err := pad.Delete(m)
			Expect(cos.IsKind(err, cos.KindProtocol)).To(BeTrue())
		})
	})
})

func mustLL(pad *scratchpad.Pad, key string) *message.Message {
	resp, err := pad.LL(llRequest(key))
	Expect(err).NotTo(HaveOccurred())
	return resp
}
