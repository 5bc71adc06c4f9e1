package session

import (
	"context"
	"crypto/tls"
	"strings"
	"testing"

	"mailstack/internal/logging"
	"mailstack/internal/protoerr"
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
func (f *fakeTransport) Incoming() <-chan []byte { return f.incoming }
func (f *fakeTransport) Err() error               { return nil }
func (f *fakeTransport) StartTLS(ctx context.Context, cfg *tls.Config) error { return nil }
func (f *fakeTransport) push(s string)            { f.incoming <- []byte(s) }

func newTestSession() (*Session, *fakeTransport) {
	ft := newFakeTransport()
	logger := logging.New("smtp", nil)
	return New(ft, logger), ft
}

func TestConnectGreeting(t *testing.T) {
	s, ft := newTestSession()
	ft.push("220 mail.example.com ESMTP ready\r\n")
	resp, err := s.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if resp.Code != 220 {
		t.Fatalf("unexpected code: %d", resp.Code)
	}
	if s.State() != Connected {
		t.Fatalf("expected Connected, got %v", s.State())
	}
}

func TestEhloParsesCapabilities(t *testing.T) {
	s, ft := newTestSession()
	ft.push("220 ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := s.Ehlo(context.Background(), "client.example.com")
		if err != nil {
			t.Errorf("ehlo: %v", err)
			return
		}
		if resp.Code != 250 {
			t.Errorf("unexpected code: %d", resp.Code)
		}
	}()
	ft.push("250-mail.example.com greets you\r\n")
	ft.push("250-SIZE 35882577\r\n")
	ft.push("250-8BITMIME\r\n")
	ft.push("250-PIPELINING\r\n")
	ft.push("250 CHUNKING\r\n")
	<-done

	caps := s.Capabilities()
	if _, ok := caps["SIZE"]; !ok {
		t.Fatalf("expected SIZE capability, got %+v", caps)
	}
	if _, ok := caps["CHUNKING"]; !ok {
		t.Fatalf("expected CHUNKING capability, got %+v", caps)
	}
}

func TestSendMailSuccess(t *testing.T) {
	s, ft := newTestSession()
	ft.push("220 ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := s.Ehlo(context.Background(), "client")
		if err != nil {
			t.Errorf("ehlo: %v", err)
			return
		}
		_ = resp
	}()
	ft.push("250-ready\r\n")
	ft.push("250 SIZE 1000\r\n")
	<-done

	done2 := make(chan struct{})
	var sendErr error
	go func() {
		defer close(done2)
		sendErr = s.Send(context.Background(), "alice@example.com", []string{"bob@example.com"},
			[]byte("Subject: hi\r\n\r\n.leading dot\r\nbody\r\n"), SendParams{})
	}()
	ft.push("250 Sender OK\r\n")
	ft.push("250 Recipient OK\r\n")
	ft.push("354 Start mail input\r\n")
	ft.push("250 Message accepted\r\n")
	<-done2

	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	last := string(ft.Sent[len(ft.Sent)-1])
	if !strings.Contains(last, "..leading dot") || !strings.Contains(last, "\r\n.\r\n") {
		t.Fatalf("expected dot-stuffed body with terminator, got %q", last)
	}
}

func TestSendRecipientRejected(t *testing.T) {
	s, ft := newTestSession()
	ft.push("220 ready\r\n")
	if _, err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	done := make(chan struct{})
	var sendErr error
	go func() {
		defer close(done)
		sendErr = s.Send(context.Background(), "alice@example.com", []string{"bob@nowhere.invalid"}, []byte("hi\r\n"), SendParams{})
	}()
	ft.push("250 Sender OK\r\n")
	ft.push("550 No such user\r\n")
	<-done

	rn, ok := sendErr.(*protoerr.RecipientNotAccepted)
	if !ok {
		t.Fatalf("expected RecipientNotAccepted, got %T: %v", sendErr, sendErr)
	}
	if rn.Status != 550 {
		t.Fatalf("unexpected status: %d", rn.Status)
	}
}
