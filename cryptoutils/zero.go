package cryptoutils

import "crypto/subtle"

// Zero overwrites a byte slice with zeros. The constant-time copy keeps
// the compiler from optimizing the wipe away. Go's garbage collector can
// still have moved the data, so this shrinks the exposure window rather
// than guaranteeing erasure.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// ZeroAll zeroes multiple byte slices in one call.
func ZeroAll(slices ...[]byte) {
	for _, s := range slices {
		Zero(s)
	}
}
