package sasl

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// scramMechanism implements the client side of the RFC 5802/7677 SCRAM-SHA
// family. plus enables channel binding (the "-PLUS" variants); the binding
// data is passed in as channelBinding bytes (the tls-server-end-point
// value named in the gs2 header) so the mechanism itself stays
// transport-agnostic.
type scramMechanism struct {
	name           string
	newHash        func() hash.Hash
	username       string
	password       string
	plus           bool
	channelBinding []byte

	step          int
	clientNonce   string
	clientFirstBare string
	serverFirst   string
	authMessage   string
	saltedPassword []byte
}

// ScramSHA1 returns a SCRAM-SHA-1 mechanism.
func ScramSHA1(username, password string) Mechanism {
	return newScram("SCRAM-SHA-1", sha1.New, username, password, false, nil)
}

// ScramSHA256 returns a SCRAM-SHA-256 mechanism.
func ScramSHA256(username, password string) Mechanism {
	return newScram("SCRAM-SHA-256", sha256.New, username, password, false, nil)
}

// ScramSHA512 returns a SCRAM-SHA-512 mechanism.
func ScramSHA512(username, password string) Mechanism {
	return newScram("SCRAM-SHA-512", sha512.New, username, password, false, nil)
}

// ScramSHA256Plus returns a SCRAM-SHA-256-PLUS mechanism bound to
// channelBinding (typically a tls-server-end-point certificate hash).
func ScramSHA256Plus(username, password string, channelBinding []byte) Mechanism {
	return newScram("SCRAM-SHA-256-PLUS", sha256.New, username, password, true, channelBinding)
}

func newScram(name string, newHash func() hash.Hash, username, password string, plus bool, cb []byte) Mechanism {
	return &scramMechanism{name: name, newHash: newHash, username: username, password: password, plus: plus, channelBinding: cb}
}

func (m *scramMechanism) Name() string { return m.name }

func (m *scramMechanism) Start() ([]byte, error) { return nil, nil }

func (m *scramMechanism) gs2Header() string {
	switch {
	case m.plus:
		return "p=tls-server-end-point,,"
	default:
		return "n,,"
	}
}

func (m *scramMechanism) Next(challenge []byte) ([]byte, bool, error) {
	switch m.step {
	case 0:
		m.step++
		nonce, err := randomNonce(18)
		if err != nil {
			return nil, true, fail(m.name, "generating client nonce: "+err.Error())
		}
		m.clientNonce = nonce
		m.clientFirstBare = "n=" + saslPrepName(m.username) + ",r=" + m.clientNonce
		return []byte(m.gs2Header() + m.clientFirstBare), false, nil
	case 1:
		m.step++
		m.serverFirst = string(challenge)
		dirs := parseCommaKV(m.serverFirst)
		serverNonce := dirs["r"]
		saltB64 := dirs["s"]
		iterStr := dirs["i"]
		if serverNonce == "" || !strings.HasPrefix(serverNonce, m.clientNonce) {
			return nil, true, fail(m.name, "server nonce does not extend client nonce")
		}
		salt, err := base64.StdEncoding.DecodeString(saltB64)
		if err != nil {
			return nil, true, fail(m.name, "invalid salt encoding")
		}
		iterations, err := strconv.Atoi(iterStr)
		if err != nil || iterations <= 0 {
			return nil, true, fail(m.name, "invalid iteration count")
		}

		hashSize := m.newHash().Size()
		m.saltedPassword = pbkdf2.Key([]byte(m.password), salt, iterations, hashSize, m.newHash)

		cbindInput := m.gs2Header()
		if m.plus {
			cbindInput += string(m.channelBinding)
		}
		channelBindingB64 := base64.StdEncoding.EncodeToString([]byte(cbindInput))
		clientFinalWithoutProof := "c=" + channelBindingB64 + ",r=" + serverNonce
		m.authMessage = m.clientFirstBare + "," + m.serverFirst + "," + clientFinalWithoutProof

		clientKey := m.hmac(m.saltedPassword, "Client Key")
		storedKey := m.hash(clientKey)
		clientSignature := m.hmac(storedKey, m.authMessage)
		clientProof := xorBytes(clientKey, clientSignature)

		out := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
		return []byte(out), false, nil
	case 2:
		m.step++
		dirs := parseCommaKV(string(challenge))
		v, ok := dirs["v"]
		if !ok {
			return nil, true, fail(m.name, "server-final message missing verifier")
		}
		serverKey := m.hmac(m.saltedPassword, "Server Key")
		serverSignature := m.hmac(serverKey, m.authMessage)
		if v != base64.StdEncoding.EncodeToString(serverSignature) {
			return nil, true, fail(m.name, "server signature verification failed")
		}
		return []byte{}, true, nil
	default:
		return nil, true, fail(m.name, "unexpected additional challenge")
	}
}

func (m *scramMechanism) hmac(key []byte, data string) []byte {
	mac := hmac.New(m.newHash, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func (m *scramMechanism) hash(data []byte) []byte {
	h := m.newHash()
	h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// saslPrepName escapes ',' and '=' in a SCRAM username per RFC 5802 §5.1.
// Full SASLprep (RFC 4013) normalization is not implemented; ASCII
// usernames, the overwhelming majority in practice, pass through
// unaffected.
func saslPrepName(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

func parseCommaKV(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		out[part[:eq]] = part[eq+1:]
	}
	return out
}
