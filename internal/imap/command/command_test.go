package command

import "testing"

func TestLoginCmdQuotesArguments(t *testing.T) {
	got := LoginCmd("A0001", "alice", "s3cret")
	want := "A0001 LOGIN alice s3cret\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLoginCmdQuotesArgumentsWithSpecials(t *testing.T) {
	got := LoginCmd("A0001", "al ice", `pa"ss`)
	want := "A0001 LOGIN \"al ice\" \"pa\\\"ss\"\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSelectCmdWithCondstoreExtension(t *testing.T) {
	got := SelectCmd("A0002", false, "INBOX", "CONDSTORE")
	want := "A0002 SELECT INBOX (CONDSTORE)\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFetchCmdUID(t *testing.T) {
	got := FetchCmd("A0003", true, "1:*", "(UID FLAGS BODY[TEXT])")
	want := "A0003 UID FETCH 1:* (UID FLAGS BODY[TEXT])\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStoreCmdSilentAdd(t *testing.T) {
	got := StoreCmd("A0004", false, "2:4", StoreAdd, true, []string{`\Seen`, `\Flagged`})
	want := "A0004 STORE 2:4 +FLAGS.SILENT (\\Seen \\Flagged)\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSearchCmdWithCharset(t *testing.T) {
	got := SearchCmd("A0005", false, "UTF-8", `SUBJECT "hello"`)
	want := "A0005 SEARCH CHARSET UTF-8 SUBJECT \"hello\"\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAppendCmdNonsyncLiteral(t *testing.T) {
	got := AppendCmd("A0006", "Drafts", []string{`\Draft`}, 120, true)
	want := "A0006 APPEND Drafts (\\Draft) {120+}\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAuthenticateCmdWithInitialResponse(t *testing.T) {
	got := AuthenticateCmd("A0007", "PLAIN", "AGFsaWNlAHMzY3JldA==", true)
	want := "A0007 AUTHENTICATE PLAIN AGFsaWNlAHMzY3JldA==\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEnableCmd(t *testing.T) {
	got := EnableCmd("A0008", "CONDSTORE", "QRESYNC")
	want := "A0008 ENABLE CONDSTORE QRESYNC\r\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
