package storage

import (
	"encoding/binary"
)

func seqBytes(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func seqFromLogKey(key []byte) (uint64, bool) {
	if len(key) != len(prefixLog)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(prefixLog):]), true
}
