package sasl

// GSSWrapper is the Kerberos/GSS-API collaborator a full GSSAPI mechanism
// needs: initiate a security context against a service principal and
// later unwrap/wrap the server's security-layer negotiation message. This
// package carries no Kerberos implementation of its own (none of the
// example dependencies provide one); callers wire in a real krb5 client
// and adapt it to this interface.
type GSSWrapper interface {
	// InitSecContext produces the next context token to send, given the
	// previous token the server returned (nil on the first call).
	InitSecContext(previous []byte) (token []byte, established bool, err error)
	// Unwrap validates and decodes the server's security-layer message
	// (RFC 4752 §3.1) once the context is established.
	Unwrap(message []byte) (qop byte, maxMessageSize uint32, err error)
	// Wrap builds the client's security-layer response asserting the
	// chosen qop/authzid (RFC 4752 §3.1).
	Wrap(qop byte, maxMessageSize uint32, authzid string) ([]byte, error)
}

// gssapiMechanism implements RFC 4752 GSSAPI as a thin driver over an
// injected GSSWrapper: this package owns the SASL state machine and
// message framing, the wrapper owns the actual Kerberos cryptography.
type gssapiMechanism struct {
	wrapper GSSWrapper
	authzid string
	step    int
}

// GSSAPI returns a GSSAPI mechanism driven by wrapper.
func GSSAPI(wrapper GSSWrapper, authzid string) Mechanism {
	return &gssapiMechanism{wrapper: wrapper, authzid: authzid}
}

func (m *gssapiMechanism) Name() string { return "GSSAPI" }

func (m *gssapiMechanism) Start() ([]byte, error) { return nil, nil }

func (m *gssapiMechanism) Next(challenge []byte) ([]byte, bool, error) {
	switch m.step {
	case 0:
		token, established, err := m.wrapper.InitSecContext(nil)
		if err != nil {
			return nil, true, fail("GSSAPI", err.Error())
		}
		if established {
			m.step = 2
		} else {
			m.step = 1
		}
		return token, false, err
	case 1:
		token, established, err := m.wrapper.InitSecContext(challenge)
		if err != nil {
			return nil, true, fail("GSSAPI", err.Error())
		}
		if established {
			m.step = 2
		}
		return token, false, nil
	case 2:
		m.step++
		qop, maxSize, err := m.wrapper.Unwrap(challenge)
		if err != nil {
			return nil, true, fail("GSSAPI", err.Error())
		}
		resp, err := m.wrapper.Wrap(qop, maxSize, m.authzid)
		if err != nil {
			return nil, true, fail("GSSAPI", err.Error())
		}
		return resp, true, nil
	default:
		return nil, true, fail("GSSAPI", "unexpected additional challenge")
	}
}
