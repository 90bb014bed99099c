package message_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flux-framework/flux-core-go/message"
)

var _ = Describe("Aux", func() {
	It("round-trips a value set through AuxSet", func() {
		m, err := message.Create(message.TypeRequest)
		Expect(err).NotTo(HaveOccurred())

		m.AuxSet("parsed-payload", "cached-value")

		v, ok := m.AuxGet("parsed-payload")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("cached-value"))
	})

	It("reports a missing key as not found", func() {
		m, err := message.Create(message.TypeRequest)
		Expect(err).NotTo(HaveOccurred())

		_, ok := m.AuxGet("nope")
		Expect(ok).To(BeFalse())
	})

	It("overwrites an existing key", func() {
		m, err := message.Create(message.TypeRequest)
		Expect(err).NotTo(HaveOccurred())

		m.AuxSet("k", "v1")
		m.AuxSet("k", "v2")

		v, ok := m.AuxGet("k")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("v2"))
	})
})
