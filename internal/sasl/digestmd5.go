package sasl

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// digestMD5Mechanism implements the client side of RFC 2831 DIGEST-MD5,
// restricted to qop=auth (the overwhelmingly common case for mail
// servers; auth-int/auth-conf are not implemented).
type digestMD5Mechanism struct {
	username string
	password string
	realm    string // overrides the server-advertised realm if non-empty
	digestURI string
	step     int
}

// DigestMD5 returns a DIGEST-MD5 mechanism. digestURI is the service
// principal, e.g. "imap/mail.example.com".
func DigestMD5(username, password, digestURI string) Mechanism {
	return &digestMD5Mechanism{username: username, password: password, digestURI: digestURI}
}

func (m *digestMD5Mechanism) Name() string { return "DIGEST-MD5" }

func (m *digestMD5Mechanism) Start() ([]byte, error) { return nil, nil }

func (m *digestMD5Mechanism) Next(challenge []byte) ([]byte, bool, error) {
	switch m.step {
	case 0:
		m.step++
		dirs := parseDigestDirectives(string(challenge))
		realm := m.realm
		if realm == "" {
			realm = dirs["realm"]
		}
		nonce := dirs["nonce"]
		if nonce == "" {
			return nil, true, fail("DIGEST-MD5", "challenge missing nonce")
		}
		cnonce, err := randomNonce(16)
		if err != nil {
			return nil, true, fail("DIGEST-MD5", "generating cnonce: "+err.Error())
		}
		nc := "00000001"
		qop := "auth"

		resp := digestMD5Response(m.username, realm, m.password, nonce, cnonce, nc, qop, "AUTHENTICATE", m.digestURI)
		var b strings.Builder
		fmt.Fprintf(&b, `username="%s",`, m.username)
		if realm != "" {
			fmt.Fprintf(&b, `realm="%s",`, realm)
		}
		fmt.Fprintf(&b, `nonce="%s",cnonce="%s",nc=%s,qop=%s,digest-uri="%s",response=%s,charset=utf-8`,
			nonce, cnonce, nc, qop, m.digestURI, resp)
		return []byte(b.String()), false, nil
	case 1:
		m.step++
		// Server sends rspauth= to prove it also knows the password; no
		// further client data is required.
		return []byte{}, true, nil
	default:
		return nil, true, fail("DIGEST-MD5", "unexpected additional challenge")
	}
}

func parseDigestDirectives(s string) map[string]string {
	out := map[string]string{}
	for _, part := range splitDigestDirectives(s) {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		k := strings.TrimSpace(part[:eq])
		v := strings.Trim(strings.TrimSpace(part[eq+1:]), `"`)
		out[k] = v
	}
	return out
}

// splitDigestDirectives splits on commas that are not inside a quoted
// value (directive values may themselves contain commas, per RFC 2831).
func splitDigestDirectives(s string) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func md5Hex(parts ...string) string {
	h := md5.New()
	h.Write([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(h.Sum(nil))
}

func md5Sum(parts ...string) []byte {
	h := md5.New()
	h.Write([]byte(strings.Join(parts, "")))
	return h.Sum(nil)
}

// digestMD5Response computes RFC 2831 §2.1.2's response-value for qop=auth.
func digestMD5Response(username, realm, password, nonce, cnonce, nc, qop, method, digestURI string) string {
	a1 := append(md5Sum(username, ":", realm, ":", password), []byte(":"+nonce+":"+cnonce)...)
	ha1 := hex.EncodeToString(md5Sum(string(a1)))
	a2 := method + ":" + digestURI
	ha2 := md5Hex(a2)
	return md5Hex(ha1, ":", nonce, ":", nc, ":", cnonce, ":", qop, ":", ha2)
}
