// Package parser implements the IMAP response parser from spec.md §4.3: it
// classifies each (line, literals) message from the framer as tagged,
// untagged, or a continuation, and dispatches untagged data to the
// specialized per-keyword parsers in this package.
package parser

import (
	"strings"

	"mailstack/internal/imap/token"
	"mailstack/internal/imap/types"
)

// Parse classifies and parses one message into a types.Response.
func Parse(line string, literals [][]byte) (*types.Response, error) {
	r := token.New(line, literals)
	first := r.ReadToken()

	switch first.Kind {
	case token.Plus:
		return &types.Response{Kind: types.KindContinuation, Text: strings.TrimSpace(r.Remainder())}, nil
	case token.Star:
		return parseUntagged(r)
	default:
		return parseTagged(r, first)
	}
}

func parseTagged(r *token.Reader, tagTok token.Token) (*types.Response, error) {
	tag := tagTok.Value
	statusTok := r.ReadToken()
	status, ok := statusFromAtom(statusTok)
	resp := &types.Response{Kind: types.KindTagged, Tag: tag}
	if !ok {
		// Malformed: no recognizable status word. Preserve everything seen
		// so far as text; Status stays StatusNone.
		resp.Text = strings.TrimSpace(tagTok.Value + " " + statusTok.Value + r.Remainder())
		return resp, nil
	}
	resp.Status = status
	rest := strings.TrimSpace(r.Remainder())
	code, text := extractCode(rest)
	resp.Code = code
	resp.Text = text
	return resp, nil
}

func parseUntagged(r *token.Reader) (*types.Response, error) {
	resp := &types.Response{Kind: types.KindUntagged}

	// Untagged status response: "* OK ...", "* NO ...", etc.
	peeked := r.Peek()
	if status, ok := statusFromAtom(peeked); ok {
		r.ReadToken()
		resp.Status = status
		rest := strings.TrimSpace(r.Remainder())
		code, text := extractCode(rest)
		resp.Code = code
		resp.Text = text
		return resp, nil
	}

	// "* <number> <KEYWORD>" shapes: EXISTS, RECENT, EXPUNGE, FETCH.
	if peeked.Kind == token.Number {
		numTok := r.ReadToken()
		kwTok := r.ReadToken()
		kw := strings.ToUpper(kwTok.Value)
		n64, _ := parseUint(numTok.Value)
		n := uint32(n64)
		switch kw {
		case "EXISTS":
			resp.Text = "EXISTS"
			resp.Data = n
			return resp, nil
		case "RECENT":
			resp.Text = "RECENT"
			resp.Data = n
			return resp, nil
		case "EXPUNGE":
			resp.Text = "EXPUNGE"
			resp.Data = n
			return resp, nil
		case "FETCH":
			fa, err := parseFetch(r, n)
			if err != nil {
				return nil, err
			}
			resp.Text = "FETCH"
			resp.Data = fa
			return resp, nil
		default:
			resp.Text = strings.TrimSpace(numTok.Value + " " + kwTok.Value + r.Remainder())
			return resp, nil
		}
	}

	// "* <KEYWORD> ..." shapes.
	kwTok := r.ReadToken()
	kw := strings.ToUpper(kwTok.Value)
	switch kw {
	case "CAPABILITY":
		resp.Data = parseCapability(r)
	case "LIST", "LSUB", "XLIST":
		mbx, err := parseListLine(r)
		if err != nil {
			return nil, err
		}
		resp.Data = mbx
	case "STATUS":
		st, err := parseStatusLine(r)
		if err != nil {
			return nil, err
		}
		resp.Data = st
	case "SEARCH", "SORT":
		resp.Data = parseSearchOrSort(r)
	case "ESEARCH":
		resp.Data = parseESearch(r)
	case "FLAGS":
		resp.Data = parseFlagsList(r)
	case "NAMESPACE":
		ns, err := parseNamespace(r)
		if err != nil {
			return nil, err
		}
		resp.Data = ns
	case "ID":
		resp.Data = parseIDParams(r)
	case "QUOTA":
		q, err := parseQuota(r)
		if err != nil {
			return nil, err
		}
		resp.Data = q
	case "QUOTAROOT":
		resp.Data = parseQuotaRoot(r)
	case "ACL":
		resp.Data = parseACL(r)
	case "LISTRIGHTS":
		resp.Data = parseListRights(r)
	case "MYRIGHTS":
		resp.Data = parseMyRights(r)
	case "METADATA":
		md, err := parseMetadata(r)
		if err != nil {
			return nil, err
		}
		resp.Data = md
	case "ANNOTATION":
		resp.Data = strings.TrimSpace(r.Remainder())
	case "VANISHED":
		resp.Data = parseVanished(r)
	case "ENABLED":
		resp.Data = parseIDParams(r) // same shape: list of capability atoms
	case "BYE":
		resp.Status = types.StatusBYE
		resp.Text = strings.TrimSpace(r.Remainder())
	default:
		resp.Text = strings.TrimSpace(kwTok.Value + " " + r.Remainder())
	}
	if resp.Text == "" {
		resp.Text = kw
	}
	return resp, nil
}

func statusFromAtom(t token.Token) (types.Status, bool) {
	if t.Kind != token.Atom {
		return types.StatusNone, false
	}
	switch strings.ToUpper(t.Value) {
	case "OK":
		return types.StatusOK, true
	case "NO":
		return types.StatusNO, true
	case "BAD":
		return types.StatusBAD, true
	case "BYE":
		return types.StatusBYE, true
	case "PREAUTH":
		return types.StatusPreauth, true
	default:
		return types.StatusNone, false
	}
}

// extractCode finds a balanced leading `[...]` response code in text and
// parses it, returning the code and the remaining text, per spec.md §4.3
// "Response codes inside [...] are extracted by matching balanced brackets".
func extractCode(text string) (*types.ResponseCode, string) {
	text = strings.TrimSpace(text)
	if len(text) == 0 || text[0] != '[' {
		return nil, text
	}
	depth := 0
	end := -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil, text
	}
	inner := text[1:end]
	rest := strings.TrimSpace(text[end+1:])
	return parseResponseCode(inner), rest
}

func parseResponseCode(inner string) *types.ResponseCode {
	r := token.New(inner, nil)
	first := r.ReadToken()
	name := strings.ToUpper(first.Value)
	code := &types.ResponseCode{Raw: inner}
	switch name {
	case "UIDNEXT":
		code.Kind = types.CodeUIDNext
		code.Number, _ = r.ReadNumber()
	case "UIDVALIDITY":
		code.Kind = types.CodeUIDValidity
		code.Number, _ = r.ReadNumber()
	case "HIGHESTMODSEQ":
		code.Kind = types.CodeHighestModSeq
		code.ModSeq, _ = r.ReadNumber()
	case "UNSEEN":
		code.Kind = types.CodeUnseen
		code.Number, _ = r.ReadNumber()
	case "PERMANENTFLAGS":
		code.Kind = types.CodePermanentFlags
		code.Flags = parseFlagsList(r)
	case "CAPABILITY":
		code.Kind = types.CodeCapability
		code.Flags = parseCapability(r)
	case "READ-ONLY":
		code.Kind = types.CodeReadOnly
	case "READ-WRITE":
		code.Kind = types.CodeReadWrite
	case "TRYCREATE":
		code.Kind = types.CodeTryCreate
	case "ALERT":
		code.Kind = types.CodeAlert
	case "PARSE":
		code.Kind = types.CodeParse
	case "CLOSED":
		code.Kind = types.CodeClosed
	case "NOMODSEQ":
		code.Kind = types.CodeNoModseq
	case "BADCHARSET":
		code.Kind = types.CodeBadCharset
	case "COPYUID":
		code.Kind = types.CodeCopyUID
		v, _ := r.ReadNumber()
		code.CopyUIDValidity = uint32(v)
		code.CopyUIDSource = strings.TrimSpace(r.Remainder())
		// Source and dest are two space-separated sequence sets; split on
		// the remaining whitespace.
		parts := strings.Fields(code.CopyUIDSource)
		if len(parts) == 2 {
			code.CopyUIDSource = parts[0]
			code.CopyUIDDest = parts[1]
		}
	case "APPENDUID":
		code.Kind = types.CodeAppendUID
		v, _ := r.ReadNumber()
		code.CopyUIDValidity = uint32(v)
		code.CopyUIDDest = strings.TrimSpace(r.Remainder())
	default:
		code.Kind = types.CodeOther
		code.OtherName = first.Value
	}
	return code
}

func parseFlagsList(r *token.Reader) []string {
	t := r.ReadToken()
	if t.Kind != token.LParen {
		return nil
	}
	var out []string
	for {
		inner := r.ReadToken()
		if inner.Kind == token.RParen || inner.Kind == token.EOF {
			break
		}
		if inner.Value != "" {
			out = append(out, inner.Value)
		}
	}
	return out
}

func parseCapability(r *token.Reader) []string {
	var out []string
	for {
		t := r.ReadToken()
		if t.Kind == token.EOF {
			break
		}
		if t.Kind == token.LParen || t.Kind == token.RParen {
			continue
		}
		if t.Value != "" {
			out = append(out, t.Value)
		}
	}
	return out
}

func parseIDParams(r *token.Reader) []string {
	return parseCapability(r)
}

func parseVanished(r *token.Reader) types.VanishedSet {
	earlier := false
	t := r.Peek()
	if t.Kind == token.LParen {
		r.ReadToken()
		tag := r.ReadToken()
		if strings.EqualFold(tag.Value, "EARLIER") {
			earlier = true
		}
		r.ReadToken() // ')'
	}
	uidset := strings.TrimSpace(r.Remainder())
	return types.VanishedSet{Earlier: earlier, UIDSet: uidset}
}

func parseUint(s string) (uint64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return n, nil
		}
		n = n*10 + uint64(s[i]-'0')
	}
	return n, nil
}
