// Package session implements the IMAP session engine from spec.md §4.5: a
// single-threaded cooperative actor that owns one Transport, dispatches at
// most one outstanding command at a time, and routes untagged responses to
// the capability cache and the selected-state reducer.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mailstack/internal/imap/command"
	"mailstack/internal/imap/framer"
	"mailstack/internal/imap/parser"
	"mailstack/internal/imap/selection"
	"mailstack/internal/imap/types"
	"mailstack/internal/logging"
	"mailstack/internal/protoerr"
	"mailstack/internal/transport"
)

// State is the IMAP session state machine from spec.md §4.5.
type State int

const (
	Disconnected State = iota
	Connected
	Authenticating
	Authenticated
	Selected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Authenticating:
		return "Authenticating"
	case Authenticated:
		return "Authenticated"
	case Selected:
		return "Selected"
	default:
		return "Unknown"
	}
}

// VerbKind classifies a command for the post-completion state transition
// table (spec.md §4.5).
type VerbKind int

const (
	VerbOther VerbKind = iota
	VerbLogin
	VerbAuthenticate
	VerbSelect
	VerbExamine
	VerbClose
	VerbUnselect
	VerbLogout
)

// DefaultCommandTimeout is the default per-command deadline (spec.md §4.5).
const DefaultCommandTimeout = 120 * time.Second

type pendingEntry struct {
	tag       string
	doneCh    chan *types.Response
	collected []*types.Response
	idle      bool // IDLE's entry: untagged responses go to idleEvents
}

type event struct {
	resp *types.Response
	err  error
}

// Session is one actor-per-connection IMAP client session.
type Session struct {
	transport transport.Transport
	logger    *logging.Logger

	mu           sync.Mutex
	state        State
	capabilities *types.Capabilities
	selected     *selection.State
	tagCounter   uint64

	current *pendingEntry
	contCh  chan struct{}

	idleEvents  chan *types.Response
	idlePending *pendingEntry

	eventCh chan event
	eg      *errgroup.Group
	egCtx   context.Context
	stopped atomic.Bool

	connectGroup singleflight.Group

	CommandTimeout time.Duration
}

// New creates a Session bound to t, logging wire traffic through logger.
func New(t transport.Transport, logger *logging.Logger) *Session {
	return &Session{
		transport:      t,
		logger:         logger,
		state:          Disconnected,
		idleEvents:     make(chan *types.Response, 256),
		contCh:         make(chan struct{}, 1),
		CommandTimeout: DefaultCommandTimeout,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Capabilities returns the last-known capability set, or nil if none has
// been observed yet.
func (s *Session) Capabilities() *types.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// Selected returns the selected-mailbox state record, or nil if no mailbox
// is currently selected.
func (s *Session) Selected() *selection.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// IdleEvents returns the channel unsolicited untagged responses (including
// IDLE pushes) are delivered on.
func (s *Session) IdleEvents() <-chan *types.Response { return s.idleEvents }

// NextTag generates the next monotonic, session-unique command tag.
func (s *Session) NextTag() string {
	n := atomic.AddUint64(&s.tagCounter, 1)
	return fmt.Sprintf("A%04d", n)
}

// Connect starts the transport's background read loop, launches the
// session's reader/dispatch goroutines (supervised by an errgroup so a
// reader failure propagates and cancels in-flight commands, per
// spec.md §4 domain-stack note on golang.org/x/sync usage), and consumes
// the server greeting.
func (s *Session) Connect(ctx context.Context) error {
	_, err, _ := s.connectGroup.Do("connect", func() (any, error) {
		return nil, s.connectLocked(ctx)
	})
	return err
}

func (s *Session) connectLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.transport.Start(ctx); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(context.Background())
	s.eg = eg
	s.egCtx = egCtx
	s.eventCh = make(chan event, 64)

	eg.Go(func() error { return s.readLoop() })

	// The greeting is consumed directly here, before dispatchLoop starts
	// draining eventCh, so the two never race for the first message.
	greeting, err := s.awaitGreeting(ctx)
	if err != nil {
		return err
	}
	eg.Go(func() error { return s.dispatchLoop() })

	s.mu.Lock()
	defer s.mu.Unlock()
	if greeting.Code != nil && greeting.Code.Kind == types.CodeCapability {
		s.capabilities = types.NewCapabilities(greeting.Code.Flags)
	}
	switch greeting.Status {
	case types.StatusOK:
		s.state = Connected
	case types.StatusPreauth:
		s.state = Authenticated
	case types.StatusBYE:
		s.state = Disconnected
		return &protoerr.ProtocolViolation{Context: "server sent BYE as greeting: " + greeting.Text}
	default:
		s.state = Connected
	}
	return nil
}

func (s *Session) awaitGreeting(ctx context.Context) (*types.Response, error) {
	select {
	case ev, ok := <-s.eventCh:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed before greeting", protoerr.ErrClosed)
		}
		if ev.err != nil {
			return nil, ev.err
		}
		return ev.resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", protoerr.ErrCancelled, ctx.Err())
	}
}

// readLoop feeds transport bytes through the literal-aware framer and
// response parser, publishing one event per parsed message.
func (s *Session) readLoop() error {
	fr := framer.New()
	for chunk := range s.transport.Incoming() {
		s.logger.LogServer(chunk)
		msgs, err := fr.Feed(chunk)
		for _, m := range msgs {
			resp, perr := parser.Parse(m.Line, m.Literals)
			if perr != nil {
				s.publish(event{err: &protoerr.ProtocolViolation{Context: perr.Error()}})
				continue
			}
			s.publish(event{resp: resp})
		}
		if err != nil {
			s.publish(event{err: err})
			close(s.eventCh)
			return err
		}
	}
	if err := s.transport.Err(); err != nil {
		s.publish(event{err: err})
		close(s.eventCh)
		return err
	}
	close(s.eventCh)
	return nil
}

func (s *Session) publish(ev event) {
	if s.stopped.Load() {
		return
	}
	select {
	case s.eventCh <- ev:
	default:
		// The dispatch loop is the sole consumer and never pauses longer
		// than one command's processing; a full buffer means the peer is
		// far outrunning us. Block rather than drop, preserving ordering.
		s.eventCh <- ev
	}
}

// dispatchLoop applies every parsed server message in arrival order: it
// updates capabilities and the selected-state record and completes the
// outstanding command. Caller goroutines also change session state
// (execute's verb transitions, BeginSelect, Stop); each such write holds
// s.mu.
func (s *Session) dispatchLoop() error {
	for ev := range s.eventCh {
		if ev.err != nil {
			s.failCurrent(ev.err)
			continue
		}
		s.handle(ev.resp)
	}
	return nil
}

func (s *Session) handle(resp *types.Response) {
	switch resp.Kind {
	case types.KindContinuation:
		select {
		case s.contCh <- struct{}{}:
		default:
		}
		return
	case types.KindTagged:
		s.applyTagged(resp)
		return
	case types.KindUntagged:
		s.applyUntagged(resp)
	}
}

func (s *Session) applyTagged(resp *types.Response) {
	s.mu.Lock()
	cur := s.current
	if cur != nil && resp.Tag == cur.tag {
		s.current = nil
	}
	s.mu.Unlock()

	if cur == nil || resp.Tag != cur.tag {
		// Unexpected tag: protocol is desynchronized. Close the transport
		// per spec.md §4.5/§5 rather than risk misattributing a later
		// response to the wrong command.
		s.failCurrent(&protoerr.ProtocolViolation{Context: "unexpected tagged response: " + resp.Tag})
		_ = s.transport.Stop()
		return
	}
	cur.doneCh <- resp
}

func (s *Session) applyUntagged(resp *types.Response) {
	if resp.Status == types.StatusBYE {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
	}
	if caps, ok := resp.Data.([]string); ok && resp.Text == "CAPABILITY" {
		s.mu.Lock()
		s.capabilities = types.NewCapabilities(caps)
		s.mu.Unlock()
	}
	if resp.Code != nil && resp.Code.Kind == types.CodeCapability {
		s.mu.Lock()
		s.capabilities = types.NewCapabilities(resp.Code.Flags)
		s.mu.Unlock()
	}

	s.mu.Lock()
	sel := s.selected
	s.mu.Unlock()
	if sel != nil {
		selection.Reduce(sel, []*types.Response{resp}, "")
	}

	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil && !cur.idle {
		s.mu.Lock()
		cur.collected = append(cur.collected, resp)
		s.mu.Unlock()
		return
	}
	select {
	case s.idleEvents <- resp:
	default:
	}
}

func (s *Session) failCurrent(err error) {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.state = Disconnected
	s.mu.Unlock()
	if cur != nil {
		close(cur.doneCh)
	}
}

// Execute sends a fully-serialized command line and blocks until its
// tagged terminal response arrives, the command's deadline elapses, or ctx
// is cancelled. It returns the tagged response and every untagged response
// observed while the command was outstanding.
func (s *Session) Execute(ctx context.Context, tag, line string, verb VerbKind) (*types.Response, []*types.Response, error) {
	return s.execute(ctx, tag, line, nil, false, verb)
}

// ExecuteWithLiteral is Execute for a command whose wire form ends in a
// `{N}`/`{N+}` literal announcement: it waits for the server's `+`
// continuation (unless nonsync is true, per §4.1 LITERAL+ semantics)
// before writing literal and the CRLF that terminates it.
func (s *Session) ExecuteWithLiteral(ctx context.Context, tag, line string, literal []byte, nonsync bool, verb VerbKind) (*types.Response, []*types.Response, error) {
	return s.execute(ctx, tag, line, literal, nonsync, verb)
}

func (s *Session) execute(ctx context.Context, tag, line string, literal []byte, nonsync bool, verb VerbKind) (*types.Response, []*types.Response, error) {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil, nil, protoerr.ErrNotConn
	}
	if s.current != nil {
		s.mu.Unlock()
		return nil, nil, &protoerr.InvalidState{Expected: "no command outstanding", Actual: "command in flight"}
	}
	pe := &pendingEntry{tag: tag, doneCh: make(chan *types.Response, 1)}
	s.current = pe
	s.mu.Unlock()

	if verb == VerbLogin || verb == VerbAuthenticate {
		s.logger.SetAuthenticating(true)
		s.setState(Authenticating)
	}

	deadline := s.CommandTimeout
	cctx, cancel := transport.Deadline(ctx, deadline)
	defer cancel()

	s.logger.LogClient([]byte(line))
	if err := s.transport.Send(cctx, []byte(line)); err != nil {
		s.clearCurrent(pe)
		return nil, nil, err
	}

	if literal != nil {
		if !nonsync {
			if err := s.awaitContinuation(cctx); err != nil {
				s.clearCurrent(pe)
				return nil, nil, err
			}
		}
		payload := append(append([]byte{}, literal...), '\r', '\n')
		s.logger.LogClient(payload)
		if err := s.transport.Send(cctx, payload); err != nil {
			s.clearCurrent(pe)
			return nil, nil, err
		}
	}

	resp, err := s.awaitDone(cctx, pe)
	if err != nil {
		return nil, nil, err
	}
	s.applyVerbTransition(verb, resp)
	if verb == VerbLogin || verb == VerbAuthenticate {
		s.logger.SetAuthenticating(false)
	}
	return resp, pe.collected, nil
}

func (s *Session) awaitContinuation(ctx context.Context) error {
	select {
	case <-s.contCh:
		return nil
	case <-ctx.Done():
		_ = s.transport.Stop()
		return s.ctxErr(ctx)
	}
}

func (s *Session) awaitDone(ctx context.Context, pe *pendingEntry) (*types.Response, error) {
	select {
	case resp, ok := <-pe.doneCh:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed mid-command", protoerr.ErrClosed)
		}
		return resp, nil
	case <-ctx.Done():
		_ = s.transport.Stop()
		s.clearCurrent(pe)
		return nil, s.ctxErr(ctx)
	}
}

func (s *Session) ctxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: command deadline exceeded", protoerr.ErrTimeout)
	}
	return fmt.Errorf("%w: %v", protoerr.ErrCancelled, ctx.Err())
}

func (s *Session) clearCurrent(pe *pendingEntry) {
	s.mu.Lock()
	if s.current == pe {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) applyVerbTransition(verb VerbKind, resp *types.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch verb {
	case VerbLogin, VerbAuthenticate:
		if resp.Status == types.StatusOK {
			s.state = Authenticated
		} else {
			s.state = Connected
		}
	case VerbSelect, VerbExamine:
		if resp.Status == types.StatusOK {
			s.state = Selected
		}
	case VerbClose, VerbUnselect:
		if resp.Status == types.StatusOK {
			s.state = Authenticated
			s.selected = nil
		}
	case VerbLogout:
		if resp.Status == types.StatusOK || resp.Status == types.StatusBYE {
			s.state = Disconnected
		}
	}
}

// BeginSelect resets the selected-state record in advance of issuing a
// SELECT/EXAMINE, so untagged responses arriving while the command is
// outstanding reduce into the new mailbox's state from a clean slate
// (spec.md §4.5 "SELECT another → remains Selected with state reset").
func (s *Session) BeginSelect(mailbox string) {
	s.mu.Lock()
	s.selected = selection.NewState(mailbox)
	s.mu.Unlock()
}

// Stop cancels the reader/dispatch goroutines and closes the transport,
// transitioning to Disconnected (spec.md §5 "session-level stop").
func (s *Session) Stop() error {
	s.stopped.Store(true)
	s.setState(Disconnected)
	err := s.transport.Stop()
	if s.eg != nil {
		_ = s.eg.Wait()
	}
	return err
}

// Idle issues IDLE and leaves the command outstanding, returning once the
// server's `+` continuation confirms idling has begun. Untagged pushes
// arrive on IdleEvents() until IdleStop is called.
func (s *Session) Idle(ctx context.Context) error {
	tag := s.NextTag()
	line := command.IdleCmd(tag)

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return &protoerr.InvalidState{Expected: "no command outstanding", Actual: "command in flight"}
	}
	pe := &pendingEntry{tag: tag, doneCh: make(chan *types.Response, 1), idle: true}
	s.current = pe
	s.mu.Unlock()

	s.logger.LogClient([]byte(line))
	if err := s.transport.Send(ctx, []byte(line)); err != nil {
		s.clearCurrent(pe)
		return err
	}
	if err := s.awaitContinuation(ctx); err != nil {
		s.clearCurrent(pe)
		return err
	}
	s.idlePending = pe
	return nil
}

// IdleStop sends DONE and awaits IDLE's tagged terminal response.
func (s *Session) IdleStop(ctx context.Context) (*types.Response, error) {
	pe := s.idlePending
	if pe == nil {
		return nil, &protoerr.InvalidState{Expected: "idling", Actual: "not idling"}
	}
	s.idlePending = nil
	s.logger.LogClient([]byte(command.DoneLine))
	if err := s.transport.Send(ctx, []byte(command.DoneLine)); err != nil {
		s.clearCurrent(pe)
		return nil, err
	}
	resp, err := s.awaitDone(ctx, pe)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
