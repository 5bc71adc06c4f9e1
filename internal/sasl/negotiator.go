package sasl

import (
	"crypto/sha1"
	"crypto/sha512"

	"mailstack/internal/protoerr"
)

// Credentials bundles every secret a caller might supply; Negotiate picks
// the strongest mechanism the server advertised that it can actually
// drive with what was supplied.
type Credentials struct {
	Username string
	Password string

	OAuthToken string // XOAUTH2/OAUTHBEARER
	OAuthHost  string
	OAuthPort  int

	NTLMDomain string

	DigestURI string // DIGEST-MD5 service principal, e.g. "imap/host"

	ExternalAuthzID string
	HaveExternal    bool // true once the transport has presented a client cert

	ChannelBinding []byte // tls-server-end-point hash, for SCRAM -PLUS
	GSS            GSSWrapper
}

// preferenceOrder is the negotiation policy from strongest to weakest:
// channel-bound SCRAM first, then plain SCRAM, then OAuth2 bearer schemes,
// then the legacy challenge-response mechanisms, with LOGIN/PLAIN last
// since they expose the password verbatim (over TLS) or trivially
// reversible (without it).
var preferenceOrder = []string{
	"SCRAM-SHA-512-PLUS", "SCRAM-SHA-512",
	"SCRAM-SHA-256-PLUS", "SCRAM-SHA-256",
	"SCRAM-SHA-1-PLUS", "SCRAM-SHA-1",
	"OAUTHBEARER", "XOAUTH2",
	"GSSAPI",
	"DIGEST-MD5", "CRAM-MD5", "NTLM",
	"EXTERNAL",
	"LOGIN", "PLAIN",
}

// Negotiate picks the strongest mechanism both advertised by the server
// and satisfiable by creds, and constructs it.
func Negotiate(serverMechanisms []string, creds Credentials) (Mechanism, error) {
	offered := map[string]bool{}
	for _, m := range serverMechanisms {
		offered[m] = true
	}
	for _, name := range preferenceOrder {
		if !offered[name] {
			continue
		}
		if mech, ok := build(name, creds); ok {
			return mech, nil
		}
	}
	return nil, &protoerr.Sasl{Mechanism: "", Detail: "no advertised mechanism is usable with the supplied credentials"}
}

func build(name string, c Credentials) (Mechanism, bool) {
	switch name {
	case "SCRAM-SHA-512-PLUS":
		if c.Password == "" || len(c.ChannelBinding) == 0 {
			return nil, false
		}
		return newScram(name, sha512.New, c.Username, c.Password, true, c.ChannelBinding), true
	case "SCRAM-SHA-512":
		if c.Password == "" {
			return nil, false
		}
		return ScramSHA512(c.Username, c.Password), true
	case "SCRAM-SHA-256-PLUS":
		if c.Password == "" || len(c.ChannelBinding) == 0 {
			return nil, false
		}
		return ScramSHA256Plus(c.Username, c.Password, c.ChannelBinding), true
	case "SCRAM-SHA-256":
		if c.Password == "" {
			return nil, false
		}
		return ScramSHA256(c.Username, c.Password), true
	case "SCRAM-SHA-1-PLUS":
		if c.Password == "" || len(c.ChannelBinding) == 0 {
			return nil, false
		}
		return newScram(name, sha1.New, c.Username, c.Password, true, c.ChannelBinding), true
	case "SCRAM-SHA-1":
		if c.Password == "" {
			return nil, false
		}
		return ScramSHA1(c.Username, c.Password), true
	case "OAUTHBEARER":
		if c.OAuthToken == "" {
			return nil, false
		}
		return OAuthBearer(c.Username, c.OAuthToken, c.OAuthHost, c.OAuthPort), true
	case "XOAUTH2":
		if c.OAuthToken == "" {
			return nil, false
		}
		return XOAuth2(c.Username, c.OAuthToken), true
	case "GSSAPI":
		if c.GSS == nil {
			return nil, false
		}
		return GSSAPI(c.GSS, c.Username), true
	case "DIGEST-MD5":
		if c.Password == "" || c.DigestURI == "" {
			return nil, false
		}
		return DigestMD5(c.Username, c.Password, c.DigestURI), true
	case "CRAM-MD5":
		if c.Password == "" {
			return nil, false
		}
		return CramMD5(c.Username, c.Password), true
	case "NTLM":
		if c.Password == "" {
			return nil, false
		}
		return NTLM(c.Username, c.Password, c.NTLMDomain), true
	case "EXTERNAL":
		if !c.HaveExternal {
			return nil, false
		}
		return External(c.ExternalAuthzID), true
	case "LOGIN":
		if c.Password == "" {
			return nil, false
		}
		return Login(c.Username, c.Password), true
	case "PLAIN":
		if c.Password == "" {
			return nil, false
		}
		return Plain("", c.Username, c.Password), true
	default:
		return nil, false
	}
}
