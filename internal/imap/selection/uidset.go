package selection

import "strings"

// ParseUIDSet expands a comma-separated IMAP sequence-set string (ranges
// joined with ':', no '*' since VANISHED never reports the unbounded
// high-water mark) into individual UIDs.
func ParseUIDSet(s string) []uint32 {
	if s == "" {
		return nil
	}
	var out []uint32
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		lo, hi, ok := splitRange(part)
		if !ok {
			continue
		}
		for v := lo; v <= hi; v++ {
			out = append(out, v)
		}
	}
	return out
}

func splitRange(part string) (lo, hi uint32, ok bool) {
	if idx := strings.IndexByte(part, ':'); idx >= 0 {
		a, aok := parseUint32(part[:idx])
		b, bok := parseUint32(part[idx+1:])
		if !aok || !bok {
			return 0, 0, false
		}
		if a > b {
			a, b = b, a
		}
		return a, b, true
	}
	v, vok := parseUint32(part)
	return v, v, vok
}

func parseUint32(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + uint64(s[i]-'0')
	}
	return uint32(n), true
}
