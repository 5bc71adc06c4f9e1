package parser

import (
	"fmt"
	"strings"

	"mailstack/internal/imap/token"
	"mailstack/internal/imap/types"
)

// parseListLine parses the body of an untagged LIST/LSUB/XLIST response,
// having already consumed the "LIST"/"LSUB"/"XLIST" keyword.
func parseListLine(r *token.Reader) (*types.Mailbox, error) {
	t := r.ReadToken()
	if t.Kind != token.LParen {
		return nil, fmt.Errorf("parser: LIST: expected '(', got %v", t.Kind)
	}
	mbx := &types.Mailbox{}
	for {
		inner := r.ReadToken()
		if inner.Kind == token.RParen {
			break
		}
		if inner.Kind == token.EOF {
			return nil, fmt.Errorf("parser: LIST: unterminated attribute list")
		}
		classifyAttr(mbx, inner.Value)
	}

	delimTok := r.ReadToken()
	switch delimTok.Kind {
	case token.Nil:
		mbx.HasDelim = false
	case token.QuotedString, token.Atom:
		mbx.Delimiter = delimTok.Value
		mbx.HasDelim = true
	default:
		return nil, fmt.Errorf("parser: LIST: expected delimiter, got %v", delimTok.Kind)
	}

	nameTok := r.ReadToken()
	name, err := stringFromNameToken(r, nameTok)
	if err != nil {
		return nil, err
	}
	mbx.RawName = name
	mbx.DecodedName = DecodeMailboxName(name)

	// LIST-STATUS and OLDNAME extended data, if present, trail as a
	// parenthesized list; skip remaining extension data.
	for !r.AtEnd() {
		if err := r.SkipValue(); err != nil {
			break
		}
	}
	return mbx, nil
}

func classifyAttr(mbx *types.Mailbox, raw string) {
	switch strings.ToLower(raw) {
	case `\haschildren`:
		mbx.Attributes = append(mbx.Attributes, types.AttrHasChildren)
	case `\hasnochildren`:
		mbx.Attributes = append(mbx.Attributes, types.AttrHasNoChildren)
	case `\noselect`:
		mbx.Attributes = append(mbx.Attributes, types.AttrNoSelect)
	case `\noinferiors`:
		mbx.Attributes = append(mbx.Attributes, types.AttrNoInferiors)
	case `\marked`:
		mbx.Attributes = append(mbx.Attributes, types.AttrMarked)
	case `\unmarked`:
		mbx.Attributes = append(mbx.Attributes, types.AttrUnmarked)
	case `\nonexistent`:
		mbx.Attributes = append(mbx.Attributes, types.AttrNonExistent)
	case `\subscribed`:
		mbx.Attributes = append(mbx.Attributes, types.AttrSubscribed)
	case `\remote`:
		mbx.Attributes = append(mbx.Attributes, types.AttrRemote)
	case `\norename`:
		mbx.Attributes = append(mbx.Attributes, types.AttrNoRename)
	case `\all`:
		mbx.Attributes = append(mbx.Attributes, types.AttrAll)
	case `\archive`:
		mbx.Attributes = append(mbx.Attributes, types.AttrArchive)
	case `\drafts`:
		mbx.Attributes = append(mbx.Attributes, types.AttrDrafts)
	case `\flagged`:
		mbx.Attributes = append(mbx.Attributes, types.AttrFlagged)
	case `\junk`:
		mbx.Attributes = append(mbx.Attributes, types.AttrJunk)
	case `\sent`:
		mbx.Attributes = append(mbx.Attributes, types.AttrSent)
	case `\trash`:
		mbx.Attributes = append(mbx.Attributes, types.AttrTrash)
	case `\important`:
		mbx.Attributes = append(mbx.Attributes, types.AttrImportant)
	default:
		mbx.Other = append(mbx.Other, raw)
	}
}

func stringFromNameToken(r *token.Reader, t token.Token) (string, error) {
	switch t.Kind {
	case token.QuotedString, token.Atom, token.Number:
		return t.Value, nil
	case token.Literal:
		return r.LiteralString(t)
	default:
		return "", fmt.Errorf("parser: expected mailbox name, got %v", t.Kind)
	}
}

// parseStatusLine parses the body of an untagged STATUS response, having
// already consumed the "STATUS" keyword.
func parseStatusLine(r *token.Reader) (*types.MailboxStatus, error) {
	nameTok := r.ReadToken()
	name, err := stringFromNameToken(r, nameTok)
	if err != nil {
		return nil, err
	}
	st := &types.MailboxStatus{Name: name}

	open := r.ReadToken()
	if open.Kind != token.LParen {
		return nil, fmt.Errorf("parser: STATUS: expected '(', got %v", open.Kind)
	}
	for {
		kTok := r.ReadToken()
		if kTok.Kind == token.RParen {
			break
		}
		if kTok.Kind == token.EOF {
			return nil, fmt.Errorf("parser: STATUS: unterminated attribute list")
		}
		vTok := r.ReadToken()
		v, _ := numberFromToken(vTok)
		switch strings.ToUpper(kTok.Value) {
		case "MESSAGES":
			st.Messages, st.HasMessages = uint32(v), true
		case "RECENT":
			st.Recent, st.HasRecent = uint32(v), true
		case "UIDNEXT":
			st.UIDNext, st.HasUIDNext = uint32(v), true
		case "UIDVALIDITY":
			st.UIDValidity, st.HasUIDValidity = uint32(v), true
		case "UNSEEN":
			st.Unseen, st.HasUnseen = uint32(v), true
		case "HIGHESTMODSEQ":
			st.HighestModSeq, st.HasHighestModSeq = v, true
		}
	}
	return st, nil
}

func numberFromToken(t token.Token) (uint64, bool) {
	if t.Kind != token.Number {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(t.Value); i++ {
		n = n*10 + uint64(t.Value[i]-'0')
	}
	return n, true
}

// DecodeMailboxName decodes a mailbox name from IMAP modified UTF-7 to a
// Go string, per spec.md §4.4 "mailbox names are modified UTF-7 encoded".
// It implements RFC 3501 §5.1.3's variant of UTF-7: '&' escapes a run of
// modified-base64 (with ',' substituted for '/'), terminated by '-'; "&-"
// is a literal '&'.
func DecodeMailboxName(raw string) string {
	if !strings.Contains(raw, "&") {
		return raw
	}
	var out strings.Builder
	i := 0
	for i < len(raw) {
		c := raw[i]
		if c != '&' {
			out.WriteByte(c)
			i++
			continue
		}
		// '&' begins a shifted run.
		j := i + 1
		for j < len(raw) && raw[j] != '-' {
			j++
		}
		encoded := raw[i+1 : j]
		if encoded == "" {
			out.WriteByte('&')
		} else {
			out.WriteString(decodeModifiedBase64(encoded))
		}
		if j < len(raw) {
			i = j + 1
		} else {
			i = j
		}
	}
	return out.String()
}

const modB64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,"

func decodeModifiedBase64(s string) string {
	var bits uint32
	var nbits int
	var units []uint16
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(modB64Alphabet, s[i])
		if idx < 0 {
			continue
		}
		bits = bits<<6 | uint32(idx)
		nbits += 6
		if nbits >= 16 {
			nbits -= 16
			units = append(units, uint16(bits>>uint(nbits)))
		}
	}
	runes := make([]rune, 0, len(units))
	for _, u := range units {
		runes = append(runes, rune(u))
	}
	return string(runes)
}

// EncodeMailboxName encodes a Go string into modified UTF-7 for use as a
// wire mailbox name, the inverse of DecodeMailboxName.
func EncodeMailboxName(name string) string {
	needsEncoding := false
	for _, r := range name {
		if r < 0x20 || r > 0x7e || r == '&' {
			needsEncoding = true
			break
		}
	}
	if !needsEncoding {
		return name
	}
	var out strings.Builder
	var run []uint16
	flushRun := func() {
		if len(run) == 0 {
			return
		}
		out.WriteByte('&')
		out.WriteString(encodeModifiedBase64(run))
		out.WriteByte('-')
		run = nil
	}
	for _, r := range name {
		if r >= 0x20 && r <= 0x7e && r != '&' {
			flushRun()
			out.WriteRune(r)
			continue
		}
		if r == '&' {
			flushRun()
			out.WriteString("&-")
			continue
		}
		run = append(run, uint16(r))
	}
	flushRun()
	return out.String()
}

func encodeModifiedBase64(units []uint16) string {
	var out strings.Builder
	var bits uint32
	var nbits int
	for _, u := range units {
		bits = bits<<16 | uint32(u)
		nbits += 16
		for nbits >= 6 {
			nbits -= 6
			out.WriteByte(modB64Alphabet[(bits>>uint(nbits))&0x3f])
		}
	}
	if nbits > 0 {
		out.WriteByte(modB64Alphabet[(bits<<uint(6-nbits))&0x3f])
	}
	return out.String()
}
