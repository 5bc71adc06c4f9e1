package parser

import (
	"fmt"
	"strings"
	"time"

	"mailstack/internal/imap/bodystructure"
	"mailstack/internal/imap/token"
	"mailstack/internal/imap/types"
)

// internalDateLayout is RFC 3501's date-time format, e.g.
// "17-Jul-1996 02:44:25 -0700".
const internalDateLayout = "02-Jan-2006 15:04:05 -0700"

// parseFetch parses the "(...)" attribute list of an untagged "<seq> FETCH"
// response, having already consumed the sequence number and "FETCH"
// keyword.
func parseFetch(r *token.Reader, seq uint32) (*types.FetchAttrs, error) {
	open := r.ReadToken()
	if open.Kind != token.LParen {
		return nil, fmt.Errorf("parser: FETCH: expected '(', got %v", open.Kind)
	}
	fa := &types.FetchAttrs{Seq: seq, BodySections: make(map[string][]byte)}

	for {
		kTok := r.ReadToken()
		if kTok.Kind == token.RParen {
			break
		}
		if kTok.Kind == token.EOF {
			return nil, fmt.Errorf("parser: FETCH: unterminated attribute list")
		}
		name := strings.ToUpper(kTok.Value)
		switch {
		case name == "UID":
			v, err := r.ReadNumber()
			if err != nil {
				return nil, fmt.Errorf("parser: FETCH UID: %w", err)
			}
			fa.UID, fa.HasUID = uint32(v), true
		case name == "FLAGS":
			fa.Flags = parseFlagsList(r)
		case name == "RFC822.SIZE":
			v, err := r.ReadNumber()
			if err != nil {
				return nil, fmt.Errorf("parser: FETCH RFC822.SIZE: %w", err)
			}
			fa.Size, fa.HasSize = uint32(v), true
		case name == "INTERNALDATE":
			s, err := readNilableStringParser(r)
			if err != nil {
				return nil, err
			}
			if s != "" {
				if t, err := time.Parse(internalDateLayout, s); err == nil {
					fa.InternalDate = t
					fa.HasDate = true
				}
			}
		case name == "MODSEQ":
			sub := r.ReadToken() // '('
			_ = sub
			v, err := r.ReadNumber()
			if err != nil {
				return nil, fmt.Errorf("parser: FETCH MODSEQ: %w", err)
			}
			fa.ModSeq, fa.HasModSeq = v, true
			r.ReadToken() // ')'
		case name == "ENVELOPE":
			raw, err := readEnvelopeRawParser(r)
			if err != nil {
				return nil, err
			}
			fa.EnvelopeRaw, fa.HasEnvelope = raw, true
		case name == "BODYSTRUCTURE" || (name == "BODY" && r.Peek().Kind == token.LParen):
			node, raw, err := parseBodyStructureField(r)
			if err != nil {
				return nil, err
			}
			fa.BodyStructureRaw = raw
			fa.HasBodyStructure = true
			fa.ParsedBodyStructure = node
		case name == "BODY" || name == "BODY.PEEK":
			section, err := parseBodySectionKey(r, kTok.Value)
			if err != nil {
				return nil, err
			}
			val, err := readNilableStringParser(r)
			if err != nil {
				return nil, err
			}
			fa.BodySections[section] = []byte(val)
		default:
			// Unknown FETCH attribute: skip its value so the reader stays
			// synchronized for the remaining attributes.
			if err := r.SkipValue(); err != nil {
				return nil, err
			}
		}
	}
	return fa, nil
}

// parseBodySectionKey reconstructs "BODY[<section>]<<partial>>" verbatim
// as the map key for fa.BodySections, having already consumed "BODY" or
// "BODY.PEEK".
func parseBodySectionKey(r *token.Reader, prefix string) (string, error) {
	var b strings.Builder
	b.WriteString("BODY")
	t := r.ReadToken()
	if t.Kind != token.LBracket {
		return "", fmt.Errorf("parser: FETCH BODY: expected '[', got %v", t.Kind)
	}
	content, err := r.ReadBracketedContent(false)
	if err != nil {
		return "", err
	}
	b.WriteByte('[')
	b.WriteString(content)
	b.WriteByte(']')

	if r.Peek().Kind == token.Atom && strings.HasPrefix(r.Peek().Value, "<") {
		partial := r.ReadToken()
		b.WriteString(partial.Value)
	}
	return b.String(), nil
}

func parseBodyStructureField(r *token.Reader) (*bodystructure.Node, string, error) {
	before := *r
	node, err := bodystructure.Parse(r)
	if err != nil {
		return nil, "", err
	}
	// The raw text is the part of the line Parse consumed: the remainder
	// before it, minus the remainder after it (read from copies of r).
	after := *r
	restBefore, restAfter := before.Remainder(), after.Remainder()
	raw := strings.TrimSpace(restBefore[:len(restBefore)-len(restAfter)])
	return node, raw, nil
}

func readEnvelopeRawParser(r *token.Reader) (string, error) {
	t := r.ReadToken()
	if t.Kind == token.Nil {
		return "NIL", nil
	}
	if t.Kind != token.LParen {
		return "", fmt.Errorf("parser: ENVELOPE: expected '(', got %v", t.Kind)
	}
	var raw strings.Builder
	raw.WriteByte('(')
	depth := 1
	for depth > 0 {
		inner := r.ReadToken()
		switch inner.Kind {
		case token.EOF:
			return "", fmt.Errorf("parser: ENVELOPE: unterminated")
		case token.LParen:
			depth++
			raw.WriteByte('(')
		case token.RParen:
			depth--
			raw.WriteByte(')')
		case token.QuotedString:
			raw.WriteByte('"')
			raw.WriteString(inner.Value)
			raw.WriteByte('"')
		case token.Nil:
			raw.WriteString("NIL")
		case token.Literal:
			s, err := r.LiteralString(inner)
			if err != nil {
				return "", err
			}
			raw.WriteByte('"')
			raw.WriteString(s)
			raw.WriteByte('"')
		default:
			raw.WriteString(inner.Value)
		}
		if depth > 0 {
			raw.WriteByte(' ')
		}
	}
	return raw.String(), nil
}

func readNilableStringParser(r *token.Reader) (string, error) {
	t := r.ReadToken()
	switch t.Kind {
	case token.Nil:
		return "", nil
	case token.QuotedString, token.Atom, token.Number:
		return t.Value, nil
	case token.Literal:
		return r.LiteralString(t)
	default:
		return "", fmt.Errorf("parser: expected string, got %v", t.Kind)
	}
}
