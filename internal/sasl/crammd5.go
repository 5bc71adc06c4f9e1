package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
)

// cramMD5Mechanism implements RFC 2195 CRAM-MD5: the server sends a single
// challenge string, the client answers "username HEX(HMAC-MD5(challenge,
// password))".
type cramMD5Mechanism struct {
	username string
	password string
	answered bool
}

// CramMD5 returns a CRAM-MD5 mechanism.
func CramMD5(username, password string) Mechanism {
	return &cramMD5Mechanism{username: username, password: password}
}

func (m *cramMD5Mechanism) Name() string { return "CRAM-MD5" }

func (m *cramMD5Mechanism) Start() ([]byte, error) { return nil, nil }

func (m *cramMD5Mechanism) Next(challenge []byte) ([]byte, bool, error) {
	if m.answered {
		return nil, true, fail("CRAM-MD5", "unexpected additional challenge")
	}
	m.answered = true
	mac := hmac.New(md5.New, []byte(m.password))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return []byte(m.username + " " + digest), true, nil
}
