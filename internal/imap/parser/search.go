package parser

import (
	"strings"

	"mailstack/internal/imap/token"
	"mailstack/internal/imap/types"
)

// parseSearchOrSort parses the body of an untagged SEARCH/SORT response,
// having already consumed the keyword: a space-separated list of numbers,
// optionally followed by "(MODSEQ n)" (RFC 7162 §3.1.5).
func parseSearchOrSort(r *token.Reader) *types.SearchResult {
	res := &types.SearchResult{}
	for {
		t := r.Peek()
		if t.Kind == token.Number {
			r.ReadToken()
			n, _ := numberFromToken(t)
			res.Numbers = append(res.Numbers, uint32(n))
			continue
		}
		if t.Kind == token.LParen {
			r.ReadToken()
			kw := r.ReadToken()
			if strings.EqualFold(kw.Value, "MODSEQ") {
				modseq, _ := r.ReadNumber()
				res.ModSeq = modseq
				res.HasModSeq = true
			}
			r.ReadToken() // ')'
			continue
		}
		break
	}
	return res
}

// ESearchResult is the payload of an untagged ESEARCH response (RFC 4731 /
// RFC 4466 extended search).
type ESearchResult struct {
	Tag     string
	UID     bool
	Min     uint32
	HasMin  bool
	Max     uint32
	HasMax  bool
	All     string // sequence-set text, not expanded
	Count   uint32
	HasCount bool
	ModSeq  uint64
	HasModSeq bool
}

func parseESearch(r *token.Reader) *ESearchResult {
	res := &ESearchResult{}
	if r.Peek().Kind == token.LParen {
		r.ReadToken()
		kw := r.ReadToken()
		if strings.EqualFold(kw.Value, "TAG") {
			tagTok := r.ReadToken()
			res.Tag = tagTok.Value
		}
		r.ReadToken() // ')'
	}
	for {
		t := r.ReadToken()
		if t.Kind == token.EOF {
			break
		}
		if t.Kind != token.Atom {
			continue
		}
		switch strings.ToUpper(t.Value) {
		case "UID":
			res.UID = true
		case "MIN":
			v, _ := r.ReadNumber()
			res.Min, res.HasMin = uint32(v), true
		case "MAX":
			v, _ := r.ReadNumber()
			res.Max, res.HasMax = uint32(v), true
		case "COUNT":
			v, _ := r.ReadNumber()
			res.Count, res.HasCount = uint32(v), true
		case "ALL":
			res.All = strings.TrimSpace(readSeqSetToken(r))
		case "MODSEQ":
			v, _ := r.ReadNumber()
			res.ModSeq, res.HasModSeq = v, true
		}
	}
	return res
}

// readSeqSetToken reads the next atom/number token verbatim, used for
// sequence-set values embedded in ESEARCH responses (e.g. "1:4,7,9").
func readSeqSetToken(r *token.Reader) string {
	t := r.ReadToken()
	return t.Value
}
