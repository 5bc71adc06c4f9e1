// Package selection implements the selected-mailbox state reducer from
// spec.md §4.6: applying a batch of parsed IMAP responses to a mailbox's
// selected-state record and computing the resulting delta.
package selection

import (
	"mailstack/internal/imap/types"
)

// State is the selected-state record for one mailbox (spec.md §3/§4.6).
type State struct {
	MailboxName     string
	UIDValidity     uint32
	UIDNext         uint32
	HighestModSeq   uint64
	MessageCount    uint32
	RecentCount     uint32
	LastExpungedSeq uint32

	UIDBySeq map[uint32]types.UniqueId
	SeqByUID map[uint32]uint32
	UIDSet   map[uint32]bool
}

// NewState returns an empty selected-state record for mailbox.
func NewState(mailbox string) *State {
	return &State{
		MailboxName: mailbox,
		UIDBySeq:    make(map[uint32]types.UniqueId),
		SeqByUID:    make(map[uint32]uint32),
		UIDSet:      make(map[uint32]bool),
	}
}

// Snapshot is a deep-enough copy of State for delta computation and offline
// persistence (internal/resync).
type Snapshot struct {
	UIDValidity   uint32
	UIDNext       uint32
	HighestModSeq uint64
	MessageCount  uint32
	UIDSet        map[uint32]bool
}

// Snapshot returns a deep-enough copy of the current state, suitable for
// offline persistence between sessions (internal/resync).
func (s *State) Snapshot() Snapshot {
	return s.snapshot()
}

func (s *State) snapshot() Snapshot {
	cp := make(map[uint32]bool, len(s.UIDSet))
	for k, v := range s.UIDSet {
		cp[k] = v
	}
	return Snapshot{
		UIDValidity:   s.UIDValidity,
		UIDNext:       s.UIDNext,
		HighestModSeq: s.HighestModSeq,
		MessageCount:  s.MessageCount,
		UIDSet:        cp,
	}
}

// FlagChange records one FETCH-observed flag update.
type FlagChange struct {
	Seq   uint32
	UID   uint32
	Flags []string
}

// Delta is the output of one Reduce call.
type Delta struct {
	Previous Snapshot
	Current  Snapshot

	QresyncEvents []types.VanishedSet
	FlagChanges   []FlagChange
	IdleEvents    []*types.Response

	AddedUIDs   []uint32
	RemovedUIDs []uint32
}

// Reduce applies messages to state and returns the computed delta. mailbox,
// if non-empty, filters STATUS/LIST-STATUS responses to only those naming
// this mailbox (spec.md §4.6 "optional mailbox-name (to filter
// STATUS/LIST-STATUS)").
func Reduce(state *State, messages []*types.Response, mailbox string) *Delta {
	before := state.snapshot()
	delta := &Delta{Previous: before}

	for _, msg := range messages {
		applyCode(state, msg.Code)
		applyUntagged(state, msg, mailbox, delta)
	}

	delta.Current = state.snapshot()
	delta.AddedUIDs, delta.RemovedUIDs = symmetricDifference(before.UIDSet, delta.Current.UIDSet)
	return delta
}

func applyCode(state *State, code *types.ResponseCode) {
	if code == nil {
		return
	}
	switch code.Kind {
	case types.CodeUIDValidity:
		v := uint32(code.Number)
		if state.UIDValidity != v {
			resetOnUIDValidityChange(state)
			state.UIDValidity = v
		}
	case types.CodeUIDNext:
		state.UIDNext = uint32(code.Number)
	case types.CodeHighestModSeq:
		if code.ModSeq > state.HighestModSeq {
			state.HighestModSeq = code.ModSeq
		}
	}
}

func resetOnUIDValidityChange(state *State) {
	state.UIDBySeq = make(map[uint32]types.UniqueId)
	state.SeqByUID = make(map[uint32]uint32)
	state.UIDSet = make(map[uint32]bool)
}

func applyUntagged(state *State, msg *types.Response, mailbox string, delta *Delta) {
	if msg.Kind != types.KindUntagged {
		return
	}
	switch msg.Text {
	case "EXISTS":
		if n, ok := msg.Data.(uint32); ok {
			state.MessageCount = n
		}
	case "RECENT":
		if n, ok := msg.Data.(uint32); ok {
			state.RecentCount = n
		}
	case "EXPUNGE":
		if n, ok := msg.Data.(uint32); ok {
			applyExpunge(state, n)
		}
	case "FETCH":
		if fa, ok := msg.Data.(*types.FetchAttrs); ok {
			applyFetch(state, fa, delta)
		}
	default:
		applyOtherUntagged(state, msg, mailbox, delta)
	}
}

func applyOtherUntagged(state *State, msg *types.Response, mailbox string, delta *Delta) {
	if vs, ok := msg.Data.(types.VanishedSet); ok {
		applyVanished(state, vs, delta)
		return
	}
	if st, ok := msg.Data.(*types.MailboxStatus); ok {
		if mailbox != "" && st.Name != mailbox {
			return
		}
		if st.HasUIDValidity && st.UIDValidity != state.UIDValidity {
			resetOnUIDValidityChange(state)
			state.UIDValidity = st.UIDValidity
		}
		if st.HasUIDNext {
			state.UIDNext = st.UIDNext
		}
		if st.HasHighestModSeq && st.HighestModSeq > state.HighestModSeq {
			state.HighestModSeq = st.HighestModSeq
		}
		if st.HasMessages {
			state.MessageCount = st.Messages
		}
		if st.HasRecent {
			state.RecentCount = st.Recent
		}
		return
	}
	delta.IdleEvents = append(delta.IdleEvents, msg)
}

// applyExpunge implements spec.md §4.6's EXPUNGE renumbering rule.
func applyExpunge(state *State, seq uint32) {
	state.LastExpungedSeq = seq
	if state.MessageCount > 0 {
		state.MessageCount--
	}
	removed, hadRemoved := state.UIDBySeq[seq]
	newUIDBySeq := make(map[uint32]types.UniqueId, len(state.UIDBySeq))
	for k, uid := range state.UIDBySeq {
		switch {
		case k == seq:
			continue
		case k > seq:
			newUIDBySeq[k-1] = uid
		default:
			newUIDBySeq[k] = uid
		}
	}
	state.UIDBySeq = newUIDBySeq
	state.SeqByUID = make(map[uint32]uint32, len(newUIDBySeq))
	for k, uid := range newUIDBySeq {
		state.SeqByUID[uid.Id] = k
	}
	if hadRemoved {
		delete(state.UIDSet, removed.Id)
	}
}

func applyFetch(state *State, fa *types.FetchAttrs, delta *Delta) {
	if fa.HasModSeq && fa.ModSeq > state.HighestModSeq {
		state.HighestModSeq = fa.ModSeq
	}
	if fa.HasUID {
		uid := types.UniqueId{Validity: state.UIDValidity, Id: fa.UID}
		state.UIDBySeq[fa.Seq] = uid
		state.SeqByUID[fa.UID] = fa.Seq
		state.UIDSet[fa.UID] = true
	}
	if len(fa.Flags) > 0 {
		delta.FlagChanges = append(delta.FlagChanges, FlagChange{Seq: fa.Seq, UID: fa.UID, Flags: fa.Flags})
	}
}

func applyVanished(state *State, vs types.VanishedSet, delta *Delta) {
	delta.QresyncEvents = append(delta.QresyncEvents, vs)
	for _, uid := range ParseUIDSet(vs.UIDSet) {
		if seq, ok := state.SeqByUID[uid]; ok {
			delete(state.UIDBySeq, seq)
			delete(state.SeqByUID, uid)
		}
		delete(state.UIDSet, uid)
	}
}

func symmetricDifference(before, after map[uint32]bool) (added, removed []uint32) {
	for uid := range after {
		if !before[uid] {
			added = append(added, uid)
		}
	}
	for uid := range before {
		if !after[uid] {
			removed = append(removed, uid)
		}
	}
	return added, removed
}
