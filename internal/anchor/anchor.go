// Package anchor provides mock blockchain anchoring for accepted collection
// events. It derives deterministic transaction and block identifiers from the
// event contents; no ledger is involved.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Receipt is the mock ledger acknowledgement for one anchored event.
type Receipt struct {
	TxID      string
	BlockHash string
	AnchoredAt int64
}

// Anchor computes a mock anchoring receipt. TxID commits to the event id and
// payload hash; BlockHash additionally commits to the anchoring time, so
// re-anchoring the same event yields the same TxID in a different block.
func Anchor(eventID string, payload []byte) Receipt {
	now := time.Now().Unix()

	tx := sha256.Sum256(append([]byte("tx:"+eventID+":"), payload...))
	block := sha256.Sum256([]byte(fmt.Sprintf("block:%s:%d", hex.EncodeToString(tx[:8]), now)))

	return Receipt{
		TxID:       "0x" + hex.EncodeToString(tx[:]),
		BlockHash:  "0x" + hex.EncodeToString(block[:]),
		AnchoredAt: now,
	}
}
