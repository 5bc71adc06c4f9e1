package parser

import (
	"testing"

	"mailstack/internal/imap/types"
)

func TestParseTaggedOKWithCode(t *testing.T) {
	resp, err := Parse(`A003 OK [READ-WRITE] SELECT completed`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != types.KindTagged || resp.Tag != "A003" {
		t.Fatalf("unexpected kind/tag: %v %q", resp.Kind, resp.Tag)
	}
	if resp.Status != types.StatusOK {
		t.Fatalf("unexpected status: %v", resp.Status)
	}
	if resp.Code == nil || resp.Code.Kind != types.CodeReadWrite {
		t.Fatalf("unexpected code: %+v", resp.Code)
	}
	if resp.Text != "SELECT completed" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
}

func TestParseContinuation(t *testing.T) {
	resp, err := Parse(`+ send literal data`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != types.KindContinuation {
		t.Fatalf("expected continuation, got %v", resp.Kind)
	}
	if resp.Text != "send literal data" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
}

func TestParseUntaggedExists(t *testing.T) {
	resp, err := Parse(`* 172 EXISTS`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != types.KindUntagged || resp.Text != "EXISTS" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if n, ok := resp.Data.(uint32); !ok || n != 172 {
		t.Fatalf("unexpected data: %+v", resp.Data)
	}
}

func TestParseUntaggedCapability(t *testing.T) {
	resp, err := Parse(`* CAPABILITY IMAP4rev1 STARTTLS AUTH=PLAIN IDLE`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	caps, ok := resp.Data.([]string)
	if !ok || len(caps) != 4 {
		t.Fatalf("unexpected capability data: %+v", resp.Data)
	}
	if caps[0] != "IMAP4rev1" || caps[2] != "AUTH=PLAIN" {
		t.Fatalf("unexpected capability tokens: %+v", caps)
	}
}

func TestParseUntaggedListDecodesUTF7(t *testing.T) {
	resp, err := Parse(`* LIST (\HasNoChildren) "/" "Sent &AOk-tems"`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mbx, ok := resp.Data.(*types.Mailbox)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if mbx.Delimiter != "/" || !mbx.HasAttr(types.AttrHasNoChildren) {
		t.Fatalf("unexpected mailbox: %+v", mbx)
	}
	if mbx.DecodedName != "Sent étems" {
		t.Fatalf("unexpected decoded name: %q", mbx.DecodedName)
	}
}

func TestParseUntaggedStatus(t *testing.T) {
	resp, err := Parse(`* STATUS INBOX (MESSAGES 231 UIDNEXT 44292 UIDVALIDITY 3857529045 UNSEEN 5)`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, ok := resp.Data.(*types.MailboxStatus)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if st.Messages != 231 || st.UIDNext != 44292 || st.UIDValidity != 3857529045 || st.Unseen != 5 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestParseUntaggedSearch(t *testing.T) {
	resp, err := Parse(`* SEARCH 2 84 882 (MODSEQ 917162500)`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sr, ok := resp.Data.(*types.SearchResult)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if len(sr.Numbers) != 3 || sr.Numbers[2] != 882 {
		t.Fatalf("unexpected numbers: %+v", sr.Numbers)
	}
	if !sr.HasModSeq || sr.ModSeq != 917162500 {
		t.Fatalf("unexpected modseq: %+v", sr)
	}
}

func TestParseUntaggedFetchWithBodystructure(t *testing.T) {
	line := `12 FETCH (UID 4500 FLAGS (\Seen) BODYSTRUCTURE ("TEXT" "PLAIN" NIL NIL NIL "7BIT" 100 5))`
	resp, err := Parse("* "+line, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "FETCH" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	fa, ok := resp.Data.(*types.FetchAttrs)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if fa.Seq != 12 || !fa.HasUID || fa.UID != 4500 {
		t.Fatalf("unexpected seq/uid: %+v", fa)
	}
	if len(fa.Flags) != 1 || fa.Flags[0] != `\Seen` {
		t.Fatalf("unexpected flags: %+v", fa.Flags)
	}
	if !fa.HasBodyStructure || fa.ParsedBodyStructure == nil {
		t.Fatalf("expected parsed bodystructure")
	}
	if want := `("TEXT" "PLAIN" NIL NIL NIL "7BIT" 100 5)`; fa.BodyStructureRaw != want {
		t.Fatalf("BodyStructureRaw = %q, want %q", fa.BodyStructureRaw, want)
	}
}

func TestParseUntaggedFetchBodySection(t *testing.T) {
	resp, err := Parse(`* 3 FETCH (BODY[TEXT] {5})`, [][]byte{[]byte("hello")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fa, ok := resp.Data.(*types.FetchAttrs)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if string(fa.BodySections["BODY[TEXT]"]) != "hello" {
		t.Fatalf("unexpected body section: %+v", fa.BodySections)
	}
}

func TestParseUntaggedQuota(t *testing.T) {
	resp, err := Parse(`* QUOTA "" (STORAGE 10 512)`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q, ok := resp.Data.(*types.QuotaResult)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if len(q.Resources) != 1 || q.Resources[0].Name != "STORAGE" || q.Resources[0].Limit != 512 {
		t.Fatalf("unexpected quota: %+v", q)
	}
}

func TestParseUntaggedNamespace(t *testing.T) {
	resp, err := Parse(`* NAMESPACE (("" "/")) NIL (("Other Users/" "/"))`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ns, ok := resp.Data.(*types.NamespaceResult)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if len(ns.Personal) != 1 || ns.Personal[0].Delimiter != "/" {
		t.Fatalf("unexpected personal namespace: %+v", ns.Personal)
	}
	if ns.OtherUsers != nil {
		t.Fatalf("expected nil other-users namespace, got %+v", ns.OtherUsers)
	}
	if len(ns.Shared) != 1 || ns.Shared[0].Prefix != "Other Users/" {
		t.Fatalf("unexpected shared namespace: %+v", ns.Shared)
	}
}

func TestParseUntaggedVanished(t *testing.T) {
	resp, err := Parse(`* VANISHED (EARLIER) 41,43:116`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vs, ok := resp.Data.(types.VanishedSet)
	if !ok {
		t.Fatalf("unexpected data type: %T", resp.Data)
	}
	if !vs.Earlier || vs.UIDSet != "41,43:116" {
		t.Fatalf("unexpected vanished set: %+v", vs)
	}
}

func TestParseTaggedAppendUID(t *testing.T) {
	resp, err := Parse(`A004 OK [APPENDUID 38505 3955] APPEND completed`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code == nil || resp.Code.Kind != types.CodeAppendUID {
		t.Fatalf("unexpected code: %+v", resp.Code)
	}
	if resp.Code.CopyUIDValidity != 38505 || resp.Code.CopyUIDDest != "3955" {
		t.Fatalf("unexpected appenduid fields: %+v", resp.Code)
	}
}

func TestDecodeMailboxNameRoundTrip(t *testing.T) {
	decoded := DecodeMailboxName("Sent &AOk-tems")
	if decoded != "Sent étems" {
		t.Fatalf("unexpected decode: %q", decoded)
	}
	reencoded := EncodeMailboxName(decoded)
	if reencoded != "Sent &AOk-tems" {
		t.Fatalf("unexpected re-encode: %q", reencoded)
	}
}
