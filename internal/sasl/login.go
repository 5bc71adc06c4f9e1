package sasl

import "strings"

// loginMechanism implements the non-standard but near-universal LOGIN
// mechanism: two server challenges, "Username:" and "Password:", each
// answered in turn. No initial response. RFC 5321 implementations are not
// required to send the prompts in that order, so each challenge is
// inspected for which field it's asking for before falling back to the
// conventional username-then-password sequence.
type loginMechanism struct {
	username string
	password string

	sentUser bool
	sentPass bool
}

// Login returns a LOGIN mechanism.
func Login(username, password string) Mechanism {
	return &loginMechanism{username: username, password: password}
}

func (m *loginMechanism) Name() string { return "LOGIN" }

func (m *loginMechanism) Start() ([]byte, error) { return nil, nil }

func (m *loginMechanism) Next(challenge []byte) ([]byte, bool, error) {
	lower := strings.ToLower(string(challenge))
	wantsUser := strings.Contains(lower, "user")
	wantsPass := strings.Contains(lower, "pass")

	var send []byte
	switch {
	case wantsPass && !wantsUser && !m.sentPass:
		m.sentPass = true
		send = []byte(m.password)
	case wantsUser && !wantsPass && !m.sentUser:
		m.sentUser = true
		send = []byte(m.username)
	case !m.sentUser:
		m.sentUser = true
		send = []byte(m.username)
	case !m.sentPass:
		m.sentPass = true
		send = []byte(m.password)
	default:
		return nil, true, fail("LOGIN", "unexpected additional challenge")
	}
	return send, m.sentUser && m.sentPass, nil
}
