package utils

import (
	"encoding/binary"
	"encoding/hex"
	"github.com/twmb/murmur3"
)

func HashStrings(ss ...string) uint64 {
	hash := murmur3.New64()
	for _, s := range ss {
		_, err := hash.Write([]byte(s))
		if err != nil {
			panic(err)
		}
		// separator keeps ("ab","c") and ("a","bc") apart
		_, _ = hash.Write([]byte{0})
	}
	return hash.Sum64()
}

// HexKey renders a hash as a fixed-width hex string for use in storage keys.
func HexKey(h uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	return hex.EncodeToString(buf[:])
}
