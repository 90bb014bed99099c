package message_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flux-framework/flux-core-go/message"
)

var _ = Describe("Match", func() {
	It("filters by typemask", func() {
		m, _ := message.Create(message.TypeRequest)
		Expect(m.Match(message.TypeResponse, message.MatchtagNone, "")).To(BeFalse())
		Expect(m.Match(message.TypeRequest|message.TypeResponse, message.MatchtagNone, "")).To(BeTrue())
	})

	It("matches topic literally unless it contains a glob char", func() {
		m, _ := message.Create(message.TypeRequest)
		Expect(m.SetTopic("job.submit")).To(Succeed())
		Expect(m.Match(0, message.MatchtagNone, "job.submit")).To(BeTrue())
		Expect(m.Match(0, message.MatchtagNone, "job.other")).To(BeFalse())
		Expect(m.Match(0, message.MatchtagNone, "job.*")).To(BeTrue())
		Expect(m.Match(0, message.MatchtagNone, "*")).To(BeTrue())
		Expect(m.Match(0, message.MatchtagNone, "")).To(BeTrue())
	})

	It("matches matchtag only when the route stack is empty", func() {
		m, _ := message.Create(message.TypeRequest)
		Expect(m.SetMatchtag(5)).To(Succeed())
		Expect(m.Match(0, 5, "")).To(BeTrue())
		Expect(m.Match(0, 6, "")).To(BeFalse())

		m.RouteEnable()
		Expect(m.RoutePush("r")).To(Succeed())
		Expect(m.Match(0, 5, "")).To(BeFalse())
	})
})

var _ = Describe("CredAuthorize", func() {
	It("always authorizes OWNER", func() {
		err := message.CredAuthorize(message.Cred{RoleMask: message.RoleOwner, UserID: 1}, 2)
		Expect(err).NotTo(HaveOccurred())
	})

	It("authorizes USER only against its own userid", func() {
		cred := message.Cred{RoleMask: message.RoleUser, UserID: 7}
		Expect(message.CredAuthorize(cred, 7)).To(Succeed())
		Expect(message.CredAuthorize(cred, 8)).To(HaveOccurred())
	})

	It("rejects USER with an unknown userid", func() {
		cred := message.Cred{RoleMask: message.RoleUser, UserID: message.UserIDUnknown}
		err := message.CredAuthorize(cred, message.UserIDUnknown)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a credential with neither role", func() {
		err := message.CredAuthorize(message.Cred{}, 1)
		Expect(err).To(HaveOccurred())
	})
})
