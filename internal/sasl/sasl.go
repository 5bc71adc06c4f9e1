// Package sasl implements the client-side SASL mechanisms and negotiation
// policy from spec.md §4.9: PLAIN, LOGIN, XOAUTH2, OAUTHBEARER, CRAM-MD5,
// DIGEST-MD5, the SCRAM-SHA family (with and without channel binding),
// NTLMv2, GSSAPI (via an injected wrapper) and EXTERNAL.
package sasl

import "mailstack/internal/protoerr"

// Mechanism drives one SASL exchange. Start returns the mechanism's initial
// response, if any (nil means "no initial response": the client sends a
// bare AUTHENTICATE and waits for the server's first challenge). Next
// consumes one server challenge and returns the client's reply; done is
// true once the mechanism considers the exchange complete (the caller
// still waits for the server's final tagged OK/NO).
type Mechanism interface {
	Name() string
	Start() (initial []byte, err error)
	Next(challenge []byte) (response []byte, done bool, err error)
}

// HasInitialResponse reports whether m sends data with the initial
// AUTHENTICATE command rather than waiting for the server's first
// challenge (RFC 4954 §4 "initial response").
func HasInitialResponse(m Mechanism) bool {
	switch m.(type) {
	case *plainMechanism, *xoauth2Mechanism, *oauthBearerMechanism, *externalMechanism:
		return true
	default:
		return false
	}
}

func fail(mech, detail string) error {
	return &protoerr.Sasl{Mechanism: mech, Detail: detail}
}
