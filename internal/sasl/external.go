package sasl

// externalMechanism implements RFC 4422 appendix A EXTERNAL: the client
// has already authenticated the connection by some external means (a
// client TLS certificate) and just asserts the identity it wants to act
// as, sent as the initial response.
type externalMechanism struct {
	authzid string
}

// External returns an EXTERNAL mechanism asserting authzid (empty to let
// the server derive the identity from the TLS certificate).
func External(authzid string) Mechanism {
	return &externalMechanism{authzid: authzid}
}

func (m *externalMechanism) Name() string { return "EXTERNAL" }

func (m *externalMechanism) Start() ([]byte, error) { return []byte(m.authzid), nil }

func (m *externalMechanism) Next(challenge []byte) ([]byte, bool, error) {
	return nil, true, fail("EXTERNAL", "unexpected additional challenge")
}
