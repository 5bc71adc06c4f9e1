package session

import (
	"context"
	"crypto/tls"
	"testing"

	"mailstack/internal/logging"
	"mailstack/internal/pop3/parser"
	"mailstack/internal/sasl"
)

type fakeTransport struct {
	incoming chan []byte
	Sent     [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan []byte, 64)}
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop() error                      { return nil }
func (f *fakeTransport) Send(ctx context.Context, b []byte) error {
	f.Sent = append(f.Sent, append([]byte{}, b...))
	return nil
}
func (f *fakeTransport) Incoming() <-chan []byte                          { return f.incoming }
func (f *fakeTransport) Err() error                                       { return nil }
func (f *fakeTransport) StartTLS(ctx context.Context, cfg *tls.Config) error { return nil }
func (f *fakeTransport) push(s string)                                    { f.incoming <- []byte(s) }

func newTestSession() (*Session, *fakeTransport) {
	ft := newFakeTransport()
	logger := logging.New("pop3", nil)
	return New(ft, logger), ft
}

func TestConnectGreeting(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK POP3 server ready <1896.697170952@mail.example.com>\r\n")
	st, err := s.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if st.Status != parser.StatusOK {
		t.Fatalf("expected StatusOK, got %v", st.Status)
	}
	if s.State() != Authorization {
		t.Fatalf("expected Authorization, got %v", s.State())
	}
}

func TestUserPassSuccess(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	var userErr, passErr error
	go func() {
		defer close(done)
		_, userErr = s.User(context.Background(), "alice")
		if userErr != nil {
			return
		}
		_, passErr = s.Pass(context.Background(), "hunter2")
	}()
	ft.push("+OK send PASS\r\n")
	ft.push("+OK maildrop locked and ready\r\n")
	<-done

	if userErr != nil {
		t.Fatalf("user: %v", userErr)
	}
	if passErr != nil {
		t.Fatalf("pass: %v", passErr)
	}
	if s.State() != Transaction {
		t.Fatalf("expected Transaction, got %v", s.State())
	}
	if string(ft.Sent[0]) != "USER alice\r\n" {
		t.Fatalf("unexpected USER line: %q", ft.Sent[0])
	}
	if string(ft.Sent[1]) != "PASS hunter2\r\n" {
		t.Fatalf("unexpected PASS line: %q", ft.Sent[1])
	}
}

func TestApopUsesGreetingBanner(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK POP3 server ready <1896.697170952@mail.example.com>\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	var apopErr error
	go func() {
		defer close(done)
		_, apopErr = s.Apop(context.Background(), "mrose", "tanstaaf")
	}()
	ft.push("+OK maildrop locked and ready\r\n")
	<-done

	if apopErr != nil {
		t.Fatalf("apop: %v", apopErr)
	}
	if s.State() != Transaction {
		t.Fatalf("expected Transaction, got %v", s.State())
	}
	// RFC 1939 worked example: digest = md5("<1896.697170952@mail.example.com>tanstaaf")
	want := "APOP mrose c4c9334bac560ecc979e58001b3e22fb\r\n"
	if string(ft.Sent[0]) != want {
		t.Fatalf("unexpected APOP line: got %q want %q", ft.Sent[0], want)
	}
}

func TestStatParsesCounts(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var count, size int
	var statErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		count, size, statErr = s.Stat(context.Background())
	}()
	ft.push("+OK 2 320\r\n")
	<-done

	if statErr != nil {
		t.Fatalf("stat: %v", statErr)
	}
	if count != 2 || size != 320 {
		t.Fatalf("unexpected stat result: %d %d", count, size)
	}
}

func TestRetrDotUnstuffs(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var body []byte
	var retrErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, body, retrErr = s.Retr(context.Background(), 1)
	}()
	ft.push("+OK 120 octets\r\n")
	ft.push("Subject: hi\r\n")
	ft.push("..leading dot in body\r\n")
	ft.push(".\r\n")
	<-done

	if retrErr != nil {
		t.Fatalf("retr: %v", retrErr)
	}
	want := "Subject: hi\r\n.leading dot in body"
	if string(body) != want {
		t.Fatalf("unexpected body: got %q want %q", body, want)
	}
}

func TestListSingleArgIsSingleLine(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var st *parser.StatusLine
	var listErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		st, _, listErr = s.List(context.Background(), 2)
	}()
	ft.push("+OK 2 200\r\n")
	<-done

	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if st.Message != "2 200" {
		t.Fatalf("unexpected message: %q", st.Message)
	}
}

func TestAuthenticatePlainSuccess(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	mech := sasl.Plain("", "alice", "hunter2")
	var authErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		authErr = s.Authenticate(context.Background(), mech)
	}()
	ft.push("+OK \r\n")
	<-done

	if authErr != nil {
		t.Fatalf("authenticate: %v", authErr)
	}
	if s.State() != Transaction {
		t.Fatalf("expected Transaction, got %v", s.State())
	}
}

func TestQuitTransitionsThroughUpdate(t *testing.T) {
	s, ft := newTestSession()
	ft.push("+OK ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	var quitErr error
	go func() {
		defer close(done)
		_, quitErr = s.Quit(context.Background())
	}()
	ft.push("+OK bye\r\n")
	<-done

	if quitErr != nil {
		t.Fatalf("quit: %v", quitErr)
	}
	if s.State() != Disconnected {
		t.Fatalf("expected Disconnected, got %v", s.State())
	}
}
