package message

import (
	"path/filepath"
	"strings"

	"github.com/flux-framework/flux-core-go/cmn/cos"
)

// Match implements the matcher of section 4.A: typemask is a bitset over
// Type, matchtag=MatchtagNone means "ignore", and topic_glob is matched as a
// literal string unless it contains a glob metacharacter.
//
// A message with a nonempty route stack never matches a non-NONE matchtag:
// matchtags are a local namespace between a requester and its own reactor,
// meaningless once a message has left that process via the router.
func (m *Message) Match(typemask Type, matchtag uint32, topicGlob string) bool {
	if typemask != 0 && m.typ&typemask == 0 {
		return false
	}
	if matchtag != MatchtagNone {
		if len(m.routes) > 0 {
			return false
		}
		tag, err := m.Matchtag()
		if err != nil || tag != matchtag {
			return false
		}
	}
	if !isMatchAny(topicGlob) {
		topic, ok := m.Topic()
		if !ok {
			return false
		}
		if isGlob(topicGlob) {
			ok, err := filepath.Match(topicGlob, topic)
			if err != nil || !ok {
				return false
			}
		} else if topicGlob != topic {
			return false
		}
	}
	return true
}

func isMatchAny(s string) bool { return s == "" || s == "*" }

func isGlob(s string) bool { return strings.ContainsAny(s, "*?[") }

// Cred is the peer credential presented with a request: userid and the
// rolemask granted by the authentication layer.
type Cred struct {
	UserID   uint32
	RoleMask uint32
}

// CredAuthorize implements the authorization rule of section 4.A: OWNER
// always passes; USER passes only for a request addressed to its own userid.
func CredAuthorize(cred Cred, userid uint32) error {
	if cred.RoleMask&RoleOwner != 0 {
		return nil
	}
	if cred.RoleMask&RoleUser != 0 && cred.UserID != UserIDUnknown && cred.UserID == userid {
		return nil
	}
	return cos.ErrPermissionDenied("message: userid %d not authorized for target %d", cred.UserID, userid)
}
