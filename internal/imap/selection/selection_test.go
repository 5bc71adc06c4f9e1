package selection

import (
	"testing"

	"mailstack/internal/imap/types"
)

func untaggedNumber(text string, n uint32) *types.Response {
	return &types.Response{Kind: types.KindUntagged, Text: text, Data: n}
}

func okWithCode(code *types.ResponseCode) *types.Response {
	return &types.Response{Kind: types.KindUntagged, Status: types.StatusOK, Code: code}
}

func TestReduceSelectScenario(t *testing.T) {
	state := NewState("INBOX")
	messages := []*types.Response{
		untaggedNumber("EXISTS", 172),
		untaggedNumber("RECENT", 1),
		okWithCode(&types.ResponseCode{Kind: types.CodeUIDValidity, Number: 3857529045}),
		okWithCode(&types.ResponseCode{Kind: types.CodeUIDNext, Number: 4392}),
		okWithCode(&types.ResponseCode{Kind: types.CodeHighestModSeq, ModSeq: 715194045007}),
	}
	Reduce(state, messages, "")

	if state.MessageCount != 172 || state.RecentCount != 1 {
		t.Fatalf("unexpected counts: %+v", state)
	}
	if state.UIDValidity != 3857529045 || state.UIDNext != 4392 {
		t.Fatalf("unexpected uidvalidity/uidnext: %+v", state)
	}
	if state.HighestModSeq != 715194045007 {
		t.Fatalf("unexpected highestmodseq: %d", state.HighestModSeq)
	}
}

func TestReduceExpungeRenumbering(t *testing.T) {
	state := NewState("INBOX")
	state.MessageCount = 4
	state.UIDBySeq = map[uint32]types.UniqueId{
		1: {Id: 101}, 2: {Id: 102}, 3: {Id: 103}, 4: {Id: 104},
	}
	state.SeqByUID = map[uint32]uint32{101: 1, 102: 2, 103: 3, 104: 4}
	state.UIDSet = map[uint32]bool{101: true, 102: true, 103: true, 104: true}

	messages := []*types.Response{untaggedNumber("EXPUNGE", 2)}
	delta := Reduce(state, messages, "")

	if state.MessageCount != 3 || state.LastExpungedSeq != 2 {
		t.Fatalf("unexpected state after expunge: %+v", state)
	}
	want := map[uint32]types.UniqueId{1: {Id: 101}, 2: {Id: 103}, 3: {Id: 104}}
	for seq, uid := range want {
		if got := state.UIDBySeq[seq]; got != uid {
			t.Fatalf("uidBySeq[%d] = %+v, want %+v", seq, got, uid)
		}
	}
	if len(state.UIDBySeq) != 3 {
		t.Fatalf("unexpected uidBySeq size: %d", len(state.UIDBySeq))
	}
	for uid, seq := range state.SeqByUID {
		if state.UIDBySeq[seq].Id != uid {
			t.Fatalf("seqByUid/uidBySeq mismatch at uid %d seq %d", uid, seq)
		}
	}
	if state.UIDSet[102] {
		t.Fatalf("expected uid 102 removed from uidSet")
	}
	if len(delta.RemovedUIDs) != 1 || delta.RemovedUIDs[0] != 102 {
		t.Fatalf("unexpected removed uids: %+v", delta.RemovedUIDs)
	}
}

func TestReduceUIDValidityChangeClearsState(t *testing.T) {
	state := NewState("INBOX")
	state.UIDValidity = 100
	state.UIDBySeq = map[uint32]types.UniqueId{1: {Validity: 100, Id: 1}}
	state.SeqByUID = map[uint32]uint32{1: 1}
	state.UIDSet = map[uint32]bool{1: true}

	messages := []*types.Response{okWithCode(&types.ResponseCode{Kind: types.CodeUIDValidity, Number: 200})}
	Reduce(state, messages, "")

	if state.UIDValidity != 200 {
		t.Fatalf("expected new uidvalidity, got %d", state.UIDValidity)
	}
	if len(state.UIDBySeq) != 0 || len(state.SeqByUID) != 0 || len(state.UIDSet) != 0 {
		t.Fatalf("expected all maps cleared, got %+v %+v %+v", state.UIDBySeq, state.SeqByUID, state.UIDSet)
	}
}

func TestReduceFetchUpdatesMaps(t *testing.T) {
	state := NewState("INBOX")
	state.UIDValidity = 100
	fa := &types.FetchAttrs{Seq: 12, UID: 4500, HasUID: true, ModSeq: 50, HasModSeq: true, Flags: []string{`\Seen`}}
	delta := Reduce(state, []*types.Response{{Kind: types.KindUntagged, Text: "FETCH", Data: fa}}, "")

	if state.UIDBySeq[12].Id != 4500 || state.SeqByUID[4500] != 12 {
		t.Fatalf("unexpected maps after fetch: %+v %+v", state.UIDBySeq, state.SeqByUID)
	}
	if !state.UIDSet[4500] {
		t.Fatalf("expected uid 4500 in uidSet")
	}
	if state.HighestModSeq != 50 {
		t.Fatalf("unexpected highestmodseq: %d", state.HighestModSeq)
	}
	if len(delta.FlagChanges) != 1 || delta.FlagChanges[0].UID != 4500 {
		t.Fatalf("unexpected flag changes: %+v", delta.FlagChanges)
	}
	if len(delta.AddedUIDs) != 1 || delta.AddedUIDs[0] != 4500 {
		t.Fatalf("unexpected added uids: %+v", delta.AddedUIDs)
	}
}

func TestReduceVanishedRemovesUIDs(t *testing.T) {
	state := NewState("INBOX")
	state.UIDBySeq = map[uint32]types.UniqueId{1: {Id: 41}, 2: {Id: 43}, 3: {Id: 100}}
	state.SeqByUID = map[uint32]uint32{41: 1, 43: 2, 100: 3}
	state.UIDSet = map[uint32]bool{41: true, 43: true, 100: true}

	vs := types.VanishedSet{Earlier: true, UIDSet: "41,43"}
	delta := Reduce(state, []*types.Response{{Kind: types.KindUntagged, Data: vs}}, "")

	if state.UIDSet[41] || state.UIDSet[43] {
		t.Fatalf("expected 41 and 43 removed: %+v", state.UIDSet)
	}
	if !state.UIDSet[100] {
		t.Fatalf("expected 100 to remain")
	}
	if len(delta.QresyncEvents) != 1 {
		t.Fatalf("expected one qresync event recorded")
	}
}

func TestParseUIDSetRanges(t *testing.T) {
	got := ParseUIDSet("41,43:45")
	want := []uint32{41, 43, 44, 45}
	if len(got) != len(want) {
		t.Fatalf("unexpected length: %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected uid set: %+v", got)
		}
	}
}
