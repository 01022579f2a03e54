package group

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

// signedBytes canonicalizes a message's signed fields into a
// deterministic byte string both the signer and every verifier
// reconstruct independently from the wire message, never from
// Controller-local state.
func signedBytes(parts ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		fmt.Fprintf(&buf, "%v|", p)
	}
	return buf.Bytes()
}

func (c *Controller) sign(parts ...interface{}) []byte {
	return ed25519.Sign(c.signingKey, signedBytes(parts...))
}

func (c *Controller) inviteSignedBytes(inv *Invite) []byte {
	return signedBytes(inv.InviteID, inv.GroupID, inv.MessageID, inv.ExpiresAt, inv.Timestamp)
}

func (c *Controller) inviteResponseSignedBytes(r *InviteResponse) []byte {
	return signedBytes(r.InviteID, r.MessageID, r.ResponderPeerID, r.Timestamp, r.Accept)
}

func (c *Controller) welcomeSignedBytes(w *Welcome) []byte {
	return signedBytes(w.GroupID, w.MessageID, w.KeyVersion, w.Timestamp)
}

func (c *Controller) stateUpdateSignedBytes(u *StateUpdate) []byte {
	return signedBytes(u.GroupID, u.MessageID, u.KeyVersion, u.Timestamp)
}
