package parser

import (
	"mailstack/internal/imap/token"
	"mailstack/internal/imap/types"
)

// parseQuota parses the body of an untagged QUOTA response (RFC 9208),
// having already consumed the "QUOTA" keyword: a quota-root name followed
// by a parenthesized list of (resource usage limit) triples.
func parseQuota(r *token.Reader) (*types.QuotaResult, error) {
	root, err := readNilableStringParser(r)
	if err != nil {
		return nil, err
	}
	res := &types.QuotaResult{Root: root}
	if r.ReadToken().Kind != token.LParen {
		return res, nil
	}
	for r.Peek().Kind != token.RParen {
		nameTok := r.ReadToken()
		usage, _ := r.ReadNumber()
		limit, _ := r.ReadNumber()
		res.Resources = append(res.Resources, types.QuotaResource{
			Name:  nameTok.Value,
			Usage: usage,
			Limit: limit,
		})
	}
	r.ReadToken() // ')'
	return res, nil
}

// parseQuotaRoot parses the body of an untagged QUOTAROOT response, having
// already consumed the "QUOTAROOT" keyword: a mailbox name followed by
// zero or more quota-root names.
func parseQuotaRoot(r *token.Reader) []string {
	var out []string
	for {
		t := r.ReadToken()
		if t.Kind == token.EOF {
			break
		}
		out = append(out, t.Value)
	}
	return out
}

// parseACL parses the body of an untagged ACL response (RFC 4314), having
// already consumed the "ACL" keyword: a mailbox name followed by
// (identifier rights) pairs.
func parseACL(r *token.Reader) []types.ACLRight {
	r.ReadToken() // mailbox name
	var out []types.ACLRight
	for {
		idTok := r.ReadToken()
		if idTok.Kind == token.EOF {
			break
		}
		rightsTok := r.ReadToken()
		out = append(out, types.ACLRight{Identifier: idTok.Value, Rights: rightsTok.Value})
	}
	return out
}

// parseListRights parses the body of an untagged LISTRIGHTS response: a
// mailbox name, identifier, required rights, and zero or more optional
// rights atoms. All are surfaced flattened as a single string slice with
// the mailbox name and identifier stripped, matching parseACL's shape of
// surfacing only rights-bearing data.
func parseListRights(r *token.Reader) []string {
	r.ReadToken() // mailbox name
	r.ReadToken() // identifier
	var out []string
	for {
		t := r.ReadToken()
		if t.Kind == token.EOF {
			break
		}
		out = append(out, t.Value)
	}
	return out
}

// parseMyRights parses the body of an untagged MYRIGHTS response: a
// mailbox name followed by the rights string for the current user.
func parseMyRights(r *token.Reader) types.ACLRight {
	r.ReadToken() // mailbox name
	rightsTok := r.ReadToken()
	return types.ACLRight{Identifier: "", Rights: rightsTok.Value}
}

// parseMetadata parses the body of an untagged METADATA response (RFC
// 5464), having already consumed the "METADATA" keyword: a mailbox name
// followed by a parenthesized list of (entry value) pairs; an entry with no
// value before the closing ')' is recorded as NIL. When no '(' follows the
// mailbox name (the unsolicited form listing bare entry names), no entries
// are returned.
func parseMetadata(r *token.Reader) ([]types.MetadataEntry, error) {
	r.ReadToken() // mailbox name
	t := r.ReadToken()
	if t.Kind != token.LParen {
		return nil, nil
	}
	var out []types.MetadataEntry
	for r.Peek().Kind != token.RParen {
		entryTok := r.ReadToken()
		if r.Peek().Kind == token.RParen {
			out = append(out, types.MetadataEntry{Entry: entryTok.Value, IsNil: true})
			continue
		}
		vTok := r.ReadToken()
		entry := types.MetadataEntry{Entry: entryTok.Value}
		switch vTok.Kind {
		case token.Nil:
			entry.IsNil = true
		case token.Literal:
			b, err := r.LiteralBytes(vTok)
			if err != nil {
				return nil, err
			}
			entry.Value = b
		default:
			entry.Value = []byte(vTok.Value)
		}
		out = append(out, entry)
	}
	r.ReadToken() // ')'
	return out, nil
}
