package base

import "bytes"

// Compare orders two user keys. The default is bytewise lexicographic
// ordering, but the engine accepts an injected comparator so callers may
// impose a different total order over user keys.
type Compare func(a, b []byte) int

// DefaultCompare is bytewise lexicographic order.
func DefaultCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// InternalCompare orders two encoded internal keys (user_key || trailer):
// ascending by user key, then descending by trailer (newer sequence
// numbers, and within an equal sequence number the Set kind, sort first).
// This total order guarantees that the first entry greater than or equal to
// (k, S, Set) is the newest version of k at or below sequence S.
func InternalCompare(cmp Compare, a, b []byte) int {
	ak, aok := DecodeInternalKey(a)
	bk, bok := DecodeInternalKey(b)
	if !aok || !bok {
		// Malformed keys only arise from corrupted input; fall back to a
		// total order over the raw bytes so callers never panic.
		return bytes.Compare(a, b)
	}
	if c := cmp(ak.UserKey, bk.UserKey); c != 0 {
		return c
	}
	switch {
	case ak.Trailer > bk.Trailer:
		return -1
	case ak.Trailer < bk.Trailer:
		return 1
	default:
		return 0
	}
}

// InternalKeyCompare orders two already-decoded InternalKeys using the same
// rule as InternalCompare.
func InternalKeyCompare(cmp Compare, a, b InternalKey) int {
	if c := cmp(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Trailer > b.Trailer:
		return -1
	case a.Trailer < b.Trailer:
		return 1
	default:
		return 0
	}
}

// FindShortestSeparator returns the shortest byte string S
// such that start <= S < limit, where start and limit are encoded internal
// keys. When the user-key portion of start is shortened, a trailer of
// (SeqNumMax, InternalKeyKindMax) is appended so the result remains a valid
// internal key that still sorts correctly (the shortened key must act as a
// lower bound, which requires the maximal trailer for that shortened user
// key).
func FindShortestSeparator(cmp Compare, start []byte, limit []byte) []byte {
	sKey, sOK := DecodeInternalKey(start)
	lKey, lOK := DecodeInternalKey(limit)
	if !sOK || !lOK {
		return start
	}

	shortest := shortestSeparator(cmp, sKey.UserKey, lKey.UserKey)
	if shortest != nil && len(shortest) < len(sKey.UserKey) {
		return MakeInternalKey(shortest, SeqNumMax, InternalKeyKindMax).Encode(nil)
	}
	return start
}

// FindShortSuccessor returns the shortest byte string S >= key. key is an
// encoded internal key.
func FindShortSuccessor(key []byte) []byte {
	k, ok := DecodeInternalKey(key)
	if !ok {
		return key
	}
	successor := shortSuccessor(k.UserKey)
	if successor != nil && len(successor) < len(k.UserKey) {
		return MakeInternalKey(successor, SeqNumMax, InternalKeyKindMax).Encode(nil)
	}
	return key
}

// shortestSeparator returns the shortest byte string S with start <= S <
// limit under bytewise-derived cmp, or nil if start cannot be shortened
// (e.g. start is a prefix of limit, or start >= limit).
func shortestSeparator(cmp Compare, start, limit []byte) []byte {
	minLen := min(len(start), len(limit))
	var diffIdx int
	for diffIdx = 0; diffIdx < minLen; diffIdx++ {
		if start[diffIdx] != limit[diffIdx] {
			break
		}
	}
	if diffIdx >= minLen {
		// One is a prefix of the other; no shortening possible.
		return nil
	}
	lastByte := start[diffIdx]
	if lastByte >= 0xff || lastByte+1 >= limit[diffIdx] {
		return nil
	}
	shortened := append(append([]byte(nil), start[:diffIdx]...), lastByte+1)
	if cmp(shortened, limit) >= 0 {
		return nil
	}
	return shortened
}

// shortSuccessor returns the shortest byte string S >= key, or nil if key
// is already its own shortest successor (all 0xff bytes, or empty).
func shortSuccessor(key []byte) []byte {
	for i := 0; i < len(key); i++ {
		if key[i] != 0xff {
			successor := append([]byte(nil), key[:i+1]...)
			successor[i]++
			return successor
		}
	}
	// All bytes are 0xff (or key is empty): no shorter successor exists.
	return nil
}
