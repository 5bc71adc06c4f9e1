// Package command implements the IMAP command builder from spec.md §4.4: it
// serializes a tagged Command into wire bytes terminated by CRLF, with
// mailbox names and other free-form arguments quoted as astrings.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"mailstack/internal/wire"
)

// Verb enumerates every supported command keyword.
type Verb int

const (
	Capability Verb = iota
	Noop
	Login
	Authenticate
	StartTLS
	Select
	Examine
	Close
	Unselect
	Logout
	Create
	Delete
	Rename
	Subscribe
	Unsubscribe
	List
	Lsub
	XList
	Status
	Check
	Expunge
	Namespace
	ID
	GetQuota
	GetQuotaRoot
	SetQuota
	GetACL
	SetACL
	DeleteACL
	ListRights
	MyRights
	GetMetadata
	SetMetadata
	GetAnnotation
	SetAnnotation
	Fetch
	UIDFetch
	Store
	UIDStore
	Copy
	UIDCopy
	Move
	UIDMove
	Search
	UIDSearch
	Sort
	UIDSort
	Enable
	Idle
	Done
	Notify
	Compress
	Append
)

// Builder accumulates a Command's arguments and produces wire bytes.
type Builder struct {
	tag  string
	verb Verb
	args []string
}

// New starts a new command with the given tag and verb.
func New(tag string, verb Verb) *Builder {
	return &Builder{tag: tag, verb: verb}
}

// Raw appends an argument verbatim, unquoted (use for already-serialized
// sub-expressions like sequence sets, parenthesized lists, or flags).
func (b *Builder) Raw(s string) *Builder {
	b.args = append(b.args, s)
	return b
}

// Astring appends an argument serialized per spec.md §4.4's astring rule.
func (b *Builder) Astring(s string) *Builder {
	b.args = append(b.args, wire.QuoteAstring(s))
	return b
}

// Number appends an unsigned integer argument.
func (b *Builder) Number(n uint64) *Builder {
	b.args = append(b.args, strconv.FormatUint(n, 10))
	return b
}

// List appends a parenthesized list of already-serialized tokens.
func (b *Builder) List(tokens ...string) *Builder {
	b.args = append(b.args, "("+strings.Join(tokens, " ")+")")
	return b
}

// Build returns the serialized command with a trailing CRLF. The builder
// carries no literal payloads: a command with a literal argument (see
// AppendCmd) ends in its `{N}` announcement, and the session engine writes
// the literal bytes itself after continuation handling.
func (b *Builder) Build() string {
	verbName := verbName(b.verb)
	var out strings.Builder
	out.WriteString(b.tag)
	out.WriteByte(' ')
	out.WriteString(verbName)
	for _, a := range b.args {
		out.WriteByte(' ')
		out.WriteString(a)
	}
	out.WriteString(wire.CRLF)
	return out.String()
}

func verbName(v Verb) string {
	switch v {
	case Capability:
		return "CAPABILITY"
	case Noop:
		return "NOOP"
	case Login:
		return "LOGIN"
	case Authenticate:
		return "AUTHENTICATE"
	case StartTLS:
		return "STARTTLS"
	case Select:
		return "SELECT"
	case Examine:
		return "EXAMINE"
	case Close:
		return "CLOSE"
	case Unselect:
		return "UNSELECT"
	case Logout:
		return "LOGOUT"
	case Create:
		return "CREATE"
	case Delete:
		return "DELETE"
	case Rename:
		return "RENAME"
	case Subscribe:
		return "SUBSCRIBE"
	case Unsubscribe:
		return "UNSUBSCRIBE"
	case List:
		return "LIST"
	case Lsub:
		return "LSUB"
	case XList:
		return "XLIST"
	case Status:
		return "STATUS"
	case Check:
		return "CHECK"
	case Expunge:
		return "EXPUNGE"
	case Namespace:
		return "NAMESPACE"
	case ID:
		return "ID"
	case GetQuota:
		return "GETQUOTA"
	case GetQuotaRoot:
		return "GETQUOTAROOT"
	case SetQuota:
		return "SETQUOTA"
	case GetACL:
		return "GETACL"
	case SetACL:
		return "SETACL"
	case DeleteACL:
		return "DELETEACL"
	case ListRights:
		return "LISTRIGHTS"
	case MyRights:
		return "MYRIGHTS"
	case GetMetadata:
		return "GETMETADATA"
	case SetMetadata:
		return "SETMETADATA"
	case GetAnnotation:
		return "GETANNOTATION"
	case SetAnnotation:
		return "SETANNOTATION"
	case Fetch:
		return "FETCH"
	case UIDFetch:
		return "UID FETCH"
	case Store:
		return "STORE"
	case UIDStore:
		return "UID STORE"
	case Copy:
		return "COPY"
	case UIDCopy:
		return "UID COPY"
	case Move:
		return "MOVE"
	case UIDMove:
		return "UID MOVE"
	case Search:
		return "SEARCH"
	case UIDSearch:
		return "UID SEARCH"
	case Sort:
		return "SORT"
	case UIDSort:
		return "UID SORT"
	case Enable:
		return "ENABLE"
	case Idle:
		return "IDLE"
	case Done:
		return "DONE"
	case Notify:
		return "NOTIFY"
	case Compress:
		return "COMPRESS"
	case Append:
		return "APPEND"
	default:
		return fmt.Sprintf("VERB(%d)", int(v))
	}
}

// StoreMode is the three-way STORE flag-update mode.
type StoreMode int

const (
	StoreSet StoreMode = iota
	StoreAdd
	StoreRemove
)

// StoreItem renders the STORE data item name for mode/silent, e.g.
// "+FLAGS.SILENT".
func StoreItem(mode StoreMode, silent bool) string {
	var b strings.Builder
	switch mode {
	case StoreAdd:
		b.WriteByte('+')
	case StoreRemove:
		b.WriteByte('-')
	}
	b.WriteString("FLAGS")
	if silent {
		b.WriteString(".SILENT")
	}
	return b.String()
}

// Helpers for building the common verbs directly as strings.

// LoginCmd builds a LOGIN command.
func LoginCmd(tag, user, pass string) string {
	return New(tag, Login).Astring(user).Astring(pass).Build()
}

// SelectCmd builds SELECT/EXAMINE, optionally with a CONDSTORE/QRESYNC
// extension list.
func SelectCmd(tag string, examine bool, mailbox string, extensions ...string) string {
	verb := Select
	if examine {
		verb = Examine
	}
	b := New(tag, verb).Astring(mailbox)
	if len(extensions) > 0 {
		b.List(extensions...)
	}
	return b.Build()
}

// ListCmd builds LIST/LSUB/XLIST.
func ListCmd(tag string, verb Verb, reference, pattern string) string {
	return New(tag, verb).Astring(reference).Astring(pattern).Build()
}

// StatusCmd builds STATUS with a parenthesized item list.
func StatusCmd(tag, mailbox string, items ...string) string {
	return New(tag, Status).Astring(mailbox).List(items...).Build()
}

// FetchCmd builds FETCH/UID FETCH over a sequence set with a parenthesized
// (or bare single) data-item expression.
func FetchCmd(tag string, uid bool, seqSet, items string) string {
	verb := Fetch
	if uid {
		verb = UIDFetch
	}
	return New(tag, verb).Raw(seqSet).Raw(items).Build()
}

// StoreCmd builds STORE/UID STORE.
func StoreCmd(tag string, uid bool, seqSet string, mode StoreMode, silent bool, flags []string) string {
	verb := Store
	if uid {
		verb = UIDStore
	}
	return New(tag, verb).Raw(seqSet).Raw(StoreItem(mode, silent)).List(flags...).Build()
}

// SearchCmd builds SEARCH/UID SEARCH with a raw criteria expression and an
// optional charset.
func SearchCmd(tag string, uid bool, charset, criteria string) string {
	verb := Search
	if uid {
		verb = UIDSearch
	}
	b := New(tag, verb)
	if charset != "" {
		b.Raw("CHARSET").Astring(charset)
	}
	return b.Raw(criteria).Build()
}

// CopyCmd builds COPY/UID COPY.
func CopyCmd(tag string, uid bool, seqSet, mailbox string) string {
	verb := Copy
	if uid {
		verb = UIDCopy
	}
	return New(tag, verb).Raw(seqSet).Astring(mailbox).Build()
}

// MoveCmd builds MOVE/UID MOVE.
func MoveCmd(tag string, uid bool, seqSet, mailbox string) string {
	verb := Move
	if uid {
		verb = UIDMove
	}
	return New(tag, verb).Raw(seqSet).Astring(mailbox).Build()
}

// AuthenticateCmd builds AUTHENTICATE, optionally with an initial response
// already base64-encoded by the caller (SASL-IR, RFC 4959).
func AuthenticateCmd(tag, mechanism string, initialResponseB64 string, hasInitial bool) string {
	b := New(tag, Authenticate).Raw(mechanism)
	if hasInitial {
		b.Raw(initialResponseB64)
	}
	return b.Build()
}

// IdleCmd/DoneLine are the two halves of the IDLE long-running command.
func IdleCmd(tag string) string { return New(tag, Idle).Build() }

// DoneLine is the literal terminator line for an in-progress IDLE command.
const DoneLine = "DONE" + wire.CRLF

// EnableCmd builds ENABLE with a list of capability names.
func EnableCmd(tag string, capabilities ...string) string {
	return New(tag, Enable).Raw(strings.Join(capabilities, " ")).Build()
}

// AppendCmd builds the APPEND command line; the literal announcement and
// message bytes are written separately by the session engine once it has
// received the continuation (or immediately for a LITERAL+ nonsync literal).
func AppendCmd(tag, mailbox string, flags []string, size uint64, nonsync bool) string {
	b := New(tag, Append).Astring(mailbox)
	if len(flags) > 0 {
		b.List(flags...)
	}
	marker := fmt.Sprintf("{%d}", size)
	if nonsync {
		marker = fmt.Sprintf("{%d+}", size)
	}
	return b.Raw(marker).Build()
}
