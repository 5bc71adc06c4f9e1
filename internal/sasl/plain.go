package sasl

// plainMechanism implements RFC 4616 PLAIN: authzid NUL authcid NUL
// password, sent entirely as the initial response.
type plainMechanism struct {
	authzid  string
	authcid  string
	password string
	sent     bool
}

// Plain returns a PLAIN mechanism. authzid may be empty to request the
// identity implied by authcid.
func Plain(authzid, authcid, password string) Mechanism {
	return &plainMechanism{authzid: authzid, authcid: authcid, password: password}
}

func (m *plainMechanism) Name() string { return "PLAIN" }

func (m *plainMechanism) Start() ([]byte, error) {
	m.sent = true
	buf := make([]byte, 0, len(m.authzid)+len(m.authcid)+len(m.password)+2)
	buf = append(buf, m.authzid...)
	buf = append(buf, 0)
	buf = append(buf, m.authcid...)
	buf = append(buf, 0)
	buf = append(buf, m.password...)
	return buf, nil
}

func (m *plainMechanism) Next(challenge []byte) ([]byte, bool, error) {
	if !m.sent {
		resp, err := m.Start()
		return resp, false, err
	}
	return nil, true, fail("PLAIN", "unexpected additional challenge")
}
