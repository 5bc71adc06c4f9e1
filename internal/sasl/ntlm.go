package sasl

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"
)

// ntlmMechanism implements the client side of NTLMv2 (MS-NLMP), the
// mechanism Exchange/Outlook-compatible servers call "NTLM": a three-
// message handshake (negotiate/challenge/authenticate) carried as SASL
// challenge/response pairs.
type ntlmMechanism struct {
	username string
	password string
	domain   string
	step     int
}

// NTLM returns an NTLMv2 mechanism.
func NTLM(username, password, domain string) Mechanism {
	return &ntlmMechanism{username: username, password: password, domain: domain}
}

func (m *ntlmMechanism) Name() string { return "NTLM" }

func (m *ntlmMechanism) Start() ([]byte, error) { return nil, nil }

const (
	ntlmFlagUnicode    = 0x00000001
	ntlmFlagNTLM       = 0x00000200
	ntlmFlagAlwaysSign = 0x00008000
)

func (m *ntlmMechanism) Next(challenge []byte) ([]byte, bool, error) {
	switch m.step {
	case 0:
		m.step++
		return buildNTLMNegotiate(m.domain), false, nil
	case 1:
		m.step++
		serverChallenge, targetInfo, err := parseNTLMChallenge(challenge)
		if err != nil {
			return nil, true, fail("NTLM", err.Error())
		}
		msg, err := buildNTLMAuthenticate(m.username, m.password, m.domain, serverChallenge, targetInfo)
		if err != nil {
			return nil, true, fail("NTLM", err.Error())
		}
		return msg, true, nil
	default:
		return nil, true, fail("NTLM", "unexpected additional challenge")
	}
}

func buildNTLMNegotiate(domain string) []byte {
	var buf bytes.Buffer
	buf.WriteString("NTLMSSP\x00")
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	flags := uint32(ntlmFlagUnicode | ntlmFlagNTLM | ntlmFlagAlwaysSign)
	binary.Write(&buf, binary.LittleEndian, flags)
	// Domain/workstation security buffers: omitted (len=0, offset points
	// past the fixed header), matching most clients' minimal negotiate.
	writeNTLMSecBuf(&buf, 0, 0, 32)
	writeNTLMSecBuf(&buf, 0, 0, 32)
	return buf.Bytes()
}

func writeNTLMSecBuf(buf *bytes.Buffer, length, maxLength uint16, offset uint32) {
	binary.Write(buf, binary.LittleEndian, length)
	binary.Write(buf, binary.LittleEndian, maxLength)
	binary.Write(buf, binary.LittleEndian, offset)
}

func parseNTLMChallenge(msg []byte) (serverChallenge []byte, targetInfo []byte, err error) {
	if len(msg) < 32 || !bytes.HasPrefix(msg, []byte("NTLMSSP\x00")) {
		return nil, nil, errNTLM("malformed type-2 message")
	}
	msgType := binary.LittleEndian.Uint32(msg[8:12])
	if msgType != 2 {
		return nil, nil, errNTLM("expected type-2 challenge message")
	}
	serverChallenge = append([]byte{}, msg[24:32]...)
	if len(msg) < 48 {
		return serverChallenge, nil, nil
	}
	tiLen := binary.LittleEndian.Uint16(msg[40:42])
	tiOffset := binary.LittleEndian.Uint32(msg[44:48])
	if int(tiOffset)+int(tiLen) > len(msg) {
		return serverChallenge, nil, nil
	}
	targetInfo = append([]byte{}, msg[tiOffset:tiOffset+uint32(tiLen)]...)
	return serverChallenge, targetInfo, nil
}

func buildNTLMAuthenticate(username, password, domain string, serverChallenge, targetInfo []byte) ([]byte, error) {
	ntlmHash := ntowfv1(password)
	clientChallenge := make([]byte, 8)
	if _, err := rand.Read(clientChallenge); err != nil {
		return nil, err
	}

	blob := ntlmv2Blob(targetInfo, clientChallenge)
	ntProofStr := hmacMD5(ntlmv2Hash(ntlmHash, username, domain), append(append([]byte{}, serverChallenge...), blob...))
	ntResponse := append(append([]byte{}, ntProofStr...), blob...)

	userUTF16 := utf16LE(username)
	domainUTF16 := utf16LE(domain)

	const headerLen = 64
	var body bytes.Buffer
	lmOffset := headerLen
	lmResponse := make([]byte, 24) // LM response unused/zeroed for NTLMv2-only auth
	body.Write(lmResponse)
	ntOffset := lmOffset + len(lmResponse)
	body.Write(ntResponse)
	domainOffset := ntOffset + len(ntResponse)
	body.Write(domainUTF16)
	userOffset := domainOffset + len(domainUTF16)
	body.Write(userUTF16)
	wsOffset := userOffset // no workstation name

	var out bytes.Buffer
	out.WriteString("NTLMSSP\x00")
	binary.Write(&out, binary.LittleEndian, uint32(3))
	writeNTLMSecBuf(&out, uint16(len(lmResponse)), uint16(len(lmResponse)), uint32(lmOffset))
	writeNTLMSecBuf(&out, uint16(len(ntResponse)), uint16(len(ntResponse)), uint32(ntOffset))
	writeNTLMSecBuf(&out, uint16(len(domainUTF16)), uint16(len(domainUTF16)), uint32(domainOffset))
	writeNTLMSecBuf(&out, uint16(len(userUTF16)), uint16(len(userUTF16)), uint32(userOffset))
	writeNTLMSecBuf(&out, 0, 0, uint32(wsOffset)) // workstation
	writeNTLMSecBuf(&out, 0, 0, uint32(wsOffset)) // session key
	binary.Write(&out, binary.LittleEndian, uint32(ntlmFlagUnicode|ntlmFlagNTLM|ntlmFlagAlwaysSign))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// ntowfv1 is the NT one-way function: MD4 of the UTF-16LE password, used
// as the key-derivation input for the NTLMv2 hash (NTOWFv2 in MS-NLMP).
func ntowfv1(password string) []byte {
	h := md4.New()
	h.Write(utf16LE(password))
	return h.Sum(nil)
}

// ntlmv2Hash is NTOWFv2: HMAC-MD5 keyed on the NT hash, over
// UPPER(username) concatenated with the domain, both UTF-16LE.
func ntlmv2Hash(ntHash []byte, username, domain string) []byte {
	data := append(utf16LE(toUpperASCII(username)), utf16LE(domain)...)
	return hmacMD5(ntHash, data)
}

func ntlmv2Blob(targetInfo, clientChallenge []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(0x00000101)) // resp type + hi-resp type
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // reserved
	binary.Write(&buf, binary.LittleEndian, ntlmTimestamp())
	buf.Write(clientChallenge)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved
	buf.Write(targetInfo)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // reserved (terminator)
	return buf.Bytes()
}

// ntlmTimestamp is the current time as a Windows FILETIME: 100ns intervals
// since 1601-01-01, per MS-NLMP §2.2.2.1.
func ntlmTimestamp() uint64 {
	const epochDelta = 116444736000000000
	return uint64(time.Now().UnixNano()/100) + epochDelta
}

func hmacMD5(key, data []byte) []byte {
	mac := hmac.New(md5.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func utf16LE(s string) []byte {
	u := utf16.Encode([]rune(s))
	out := make([]byte, len(u)*2)
	for i, v := range u {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

type ntlmError string

func errNTLM(s string) error { return ntlmError(s) }
func (e ntlmError) Error() string { return "ntlm: " + string(e) }
