package anchor

import (
	"strings"
	"testing"
)

func TestAnchorDeterministicTxID(t *testing.T) {
	payload := []byte(`{"species":"Ashwagandha"}`)

	a := Anchor("evt-1", payload)
	b := Anchor("evt-1", payload)

	if a.TxID != b.TxID {
		t.Error("Same event and payload must produce the same TxID")
	}
	if a.TxID == Anchor("evt-2", payload).TxID {
		t.Error("Different events must produce different TxIDs")
	}
	if a.TxID == Anchor("evt-1", []byte(`{"species":"Tulsi"}`)).TxID {
		t.Error("Different payloads must produce different TxIDs")
	}
}

func TestAnchorReceiptShape(t *testing.T) {
	r := Anchor("evt-1", []byte("x"))

	if !strings.HasPrefix(r.TxID, "0x") || len(r.TxID) != 2+64 {
		t.Errorf("TxID = %q, want 0x-prefixed 32-byte hex", r.TxID)
	}
	if !strings.HasPrefix(r.BlockHash, "0x") || len(r.BlockHash) != 2+64 {
		t.Errorf("BlockHash = %q, want 0x-prefixed 32-byte hex", r.BlockHash)
	}
	if r.AnchoredAt == 0 {
		t.Error("AnchoredAt must be stamped")
	}
}
