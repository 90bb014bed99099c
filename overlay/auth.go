package overlay

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"

	"github.com/flux-framework/flux-core-go/cmn/cos"
	"golang.org/x/crypto/nacl/box"
)

// Authenticator implements the peer authentication of section 4.C: each
// broker carries an ed25519 signing keypair plus a curve25519 box keypair,
// and a certificate store of the ed25519 public keys it trusts. A peer
// authenticates by signing a nonce challenge with its private key; once
// authenticated, the two brokers derive a shared symmetric key over their
// box keys for the transport layer above this package to use.
type Authenticator struct {
	mu sync.RWMutex

	signPub  ed25519.PublicKey
	signPriv ed25519.PrivateKey

	boxPub  *[32]byte
	boxPriv *[32]byte

	trusted map[string]ed25519.PublicKey
}

// NewAuthenticator generates a fresh keypair. Brokers exchange public keys
// and populate each other's trust store out of band (e.g. via the
// certificate file the enclosing runtime reads at startup); this package
// does not define that distribution mechanism.
func NewAuthenticator() (*Authenticator, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, cos.ErrInvalidArgument("overlay: signing keypair: %v", err)
	}
	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, cos.ErrInvalidArgument("overlay: box keypair: %v", err)
	}
	return &Authenticator{
		signPub:  signPub,
		signPriv: signPriv,
		boxPub:   boxPub,
		boxPriv:  boxPriv,
		trusted:  make(map[string]ed25519.PublicKey),
	}, nil
}

func (a *Authenticator) PublicKey() ed25519.PublicKey { return a.signPub }
func (a *Authenticator) BoxPublicKey() *[32]byte      { return a.boxPub }

// Trust adds id's signing public key to the certificate store.
func (a *Authenticator) Trust(id string, pub ed25519.PublicKey) {
	a.mu.Lock()
	a.trusted[id] = pub
	a.mu.Unlock()
}

// Revoke removes id from the certificate store; any in-flight connection
// from id fails its next Authenticate call.
func (a *Authenticator) Revoke(id string) {
	a.mu.Lock()
	delete(a.trusted, id)
	a.mu.Unlock()
}

// Challenge returns a fresh nonce for a connecting peer to sign.
func (a *Authenticator) Challenge() ([]byte, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, cos.ErrInvalidArgument("overlay: nonce: %v", err)
	}
	return nonce, nil
}

// Sign proves possession of this broker's own signing private key over a
// challenge nonce received from a peer.
func (a *Authenticator) Sign(nonce []byte) []byte {
	return ed25519.Sign(a.signPriv, nonce)
}

// AuthProof is what a connecting peer presents to Overlay.AttachChild/
// AttachParent: id plus a signature over a nonce the accepting side issued
// via Challenge, proving possession of id's signing private key (section
// 4.C). A nil AuthProof is only acceptable when the accepting Overlay has no
// Authenticator configured.
type AuthProof struct {
	ID    string
	Nonce []byte
	Sig   []byte
}

// Prove builds the AuthProof a connecting peer sends: id is the identity it
// claims, nonce is the challenge the accepting side issued.
func (a *Authenticator) Prove(id string, nonce []byte) AuthProof {
	return AuthProof{ID: id, Nonce: nonce, Sig: a.Sign(nonce)}
}

// Authenticate verifies that id is in the certificate store and that sig is
// a valid signature over nonce under id's stored public key.
func (a *Authenticator) Authenticate(id string, nonce, sig []byte) error {
	a.mu.RLock()
	pub, ok := a.trusted[id]
	a.mu.RUnlock()
	if !ok {
		return cos.ErrPermissionDenied("overlay: peer %q is not in the certificate store", id)
	}
	if !ed25519.Verify(pub, nonce, sig) {
		return cos.ErrPermissionDenied("overlay: peer %q failed the connect challenge", id)
	}
	return nil
}

// SharedKey precomputes the symmetric key used to seal/open traffic with a
// peer once its box public key is known (Curve25519 + XSalsa20 + Poly1305).
func (a *Authenticator) SharedKey(peerBoxPub *[32]byte) *[32]byte {
	var shared [32]byte
	box.Precompute(&shared, peerBoxPub, a.boxPriv)
	return &shared
}
