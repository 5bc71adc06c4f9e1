// Command mailctl is a thin CLI exercising the protocol stack end to end,
// adapted from the teacher's cmd/sasl and cmd/server main.go's flag-driven,
// plain-log style.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"mailstack/internal/config"
	"mailstack/internal/logging"
	"mailstack/internal/pop3/session"
	sasl2 "mailstack/internal/sasl"
	smtpsession "mailstack/internal/smtp/session"
	"mailstack/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to mailstack.yaml (searches well-known paths if empty)")
	account := flag.String("account", "", "account name from the config file")
	timeout := flag.Duration("timeout", 30*time.Second, "overall command deadline")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd := args[0]

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	acct, err := cfg.Find(*account)
	if err != nil {
		log.Fatalf("find account: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "pop3-stat":
		if err := runPop3Stat(ctx, acct); err != nil {
			log.Fatalf("pop3-stat: %v", err)
		}
	case "smtp-send":
		if len(args) != 4 {
			log.Fatal("usage: mailctl -account=NAME smtp-send <from> <to> <body-file>")
		}
		if err := runSmtpSend(ctx, acct, args[1], args[2], args[3]); err != nil {
			log.Fatalf("smtp-send: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mailctl -account=NAME <pop3-stat|smtp-send> [args...]")
}

func dial(ctx context.Context, acct *config.Account) (transport.Transport, error) {
	addr := acct.Host + ":" + strconv.Itoa(acct.Port)
	conn, err := transport.Dial(ctx, addr, acct.TLS, &tls.Config{ServerName: acct.Host})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func runPop3Stat(ctx context.Context, acct *config.Account) error {
	t, err := dial(ctx, acct)
	if err != nil {
		return err
	}
	defer func() { _ = t.Stop() }()

	logger := logging.New("pop3", nil)
	s := session.New(t, logger)
	if _, err := s.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	mech, err := sasl2.Negotiate([]string{"PLAIN"}, sasl2.Credentials{
		Username: acct.Username,
		Password: acct.Password,
	})
	if err != nil {
		return fmt.Errorf("negotiate sasl: %w", err)
	}
	if err := s.Authenticate(ctx, mech); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	count, size, err := s.Stat(ctx)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	fmt.Printf("%d messages, %d octets\n", count, size)

	_, err = s.Quit(ctx)
	return err
}

func runSmtpSend(ctx context.Context, acct *config.Account, from, to, bodyFile string) error {
	body, err := os.ReadFile(bodyFile)
	if err != nil {
		return fmt.Errorf("read body file: %w", err)
	}

	t, err := dial(ctx, acct)
	if err != nil {
		return err
	}
	defer func() { _ = t.Stop() }()

	logger := logging.New("smtp", nil)
	s := smtpsession.New(t, logger)
	if _, err := s.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := s.Ehlo(ctx, "mailctl"); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}

	if acct.Password != "" {
		mech, err := sasl2.Negotiate([]string{"PLAIN", "LOGIN"}, sasl2.Credentials{
			Username: acct.Username,
			Password: acct.Password,
		})
		if err != nil {
			return fmt.Errorf("negotiate sasl: %w", err)
		}
		if err := s.Authenticate(ctx, mech); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	if err := s.Send(ctx, from, strings.Split(to, ","), body, smtpsession.SendParams{}); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	_, err = s.Quit(ctx)
	return err
}
