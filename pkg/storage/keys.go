package storage

import (
	"fmt"
)

// Key schema:
//
//	rpt:<parent>:<seq>  execution report, per-parent arrival order
//	log:<seq>           execution report, global arrival order
//	par:<parent>        latest parent snapshot
//
// seq is zero-padded in rpt keys and 8-byte big-endian in log keys so both
// sort lexicographically.
const (
	prefixReport = "rpt:"
	prefixLog    = "log:"
	prefixParent = "par:"
)

func reportKey(parentID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixReport, parentID, seq))
}

func reportPrefix(parentID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixReport, parentID))
}

func logKey(seq uint64) []byte {
	return append([]byte(prefixLog), seqBytes(seq)...)
}

func parentKey(parentID string) []byte {
	return []byte(prefixParent + parentID)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
