package query

import (
	"crypto/rand"
	"fmt"
	"hash/crc32"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_-"

var (
	hostID  uint32
	counter uint64
)

func init() {
	id := uuid.New()
	hostID = crc32.ChecksumIEEE(id[:])
}

// nowFunc is overridable in tests; production code always uses the real
// clock, per the no-wall-clock-in-core-logic discipline the rest of the
// codebase follows.
var nowFunc = defaultNow

// NewToken generates a 16-character query cache-directory token: byte 0
// is a random letter, the remaining 15 bytes base-64-encode 90 bits
// packing (checksum(uid) XOR hostID, unix seconds, a monotonic counter).
func NewToken(uid string) (string, error) {
	letter, err := randomLetter()
	if err != nil {
		return "", fmt.Errorf("query: generate token letter: %w", err)
	}

	uidSum := crc32.ChecksumIEEE([]byte(uid))
	mixed := uidSum ^ hostID
	seq := atomic.AddUint64(&counter, 1)

	var bits uint128
	bits = bits.shiftOr(uint64(mixed), 32)
	bits = bits.shiftOr(uint64(nowFunc()), 32)
	bits = bits.shiftOr(seq, 26)

	buf := make([]byte, 16)
	buf[0] = letter
	for i := 14; i >= 0; i-- {
		buf[1+i] = tokenAlphabet[bits.low6()]
		bits = bits.shiftRight6()
	}
	return string(buf), nil
}

func defaultNow() int64 {
	return time.Now().Unix()
}

func randomLetter() (byte, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	letters := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	return letters[int(b[0])%len(letters)], nil
}

// uint128 is a minimal 90-bit-capacity accumulator built from two
// uint64s, enough to pack the token's three fields before slicing them
// into 6-bit base-64 digits.
type uint128 struct {
	hi, lo uint64 // only the low 90 bits of (hi:lo) are meaningful
}

func (u uint128) shiftOr(v uint64, bits int) uint128 {
	// shift left by bits, then OR v into the low bits
	for i := 0; i < bits; i++ {
		carry := u.lo >> 63
		u.lo <<= 1
		u.hi = (u.hi << 1) | carry
	}
	mask := uint64(1)<<uint(bits) - 1
	u.lo |= v & mask
	return u
}

func (u uint128) low6() byte {
	return byte(u.lo & 0x3f)
}

func (u uint128) shiftRight6() uint128 {
	for i := 0; i < 6; i++ {
		carry := u.hi & 1
		u.hi >>= 1
		u.lo = (u.lo >> 1) | (carry << 63)
	}
	return u
}

func (u uint128) shiftRightN(n int) uint128 {
	for i := 0; i < n; i++ {
		carry := u.hi & 1
		u.hi >>= 1
		u.lo = (u.lo >> 1) | (carry << 63)
	}
	return u
}

func (u uint128) low32() uint32 {
	return uint32(u.lo & 0xffffffff)
}

// ValidateToken reports whether s has the shape NewToken produces: exactly
// 16 bytes, the first a letter, the rest drawn from the token alphabet, and
// a packed unix-seconds field that isn't in the future.
func ValidateToken(s string) bool {
	if len(s) != 16 {
		return false
	}
	c := s[0]
	if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isTokenAlphabet(s[i]) {
			return false
		}
	}
	ts, ok := packedUnixSeconds(s)
	if !ok {
		return false
	}
	return ts <= nowFunc()
}

// packedUnixSeconds decodes the unix-seconds field NewToken packs into
// bytes 1-15: each byte contributes 6 bits, most significant first, to a
// 90-bit value laid out as mixed(32) | seconds(32) | counter(26).
func packedUnixSeconds(s string) (int64, bool) {
	var bits uint128
	for i := 1; i < len(s); i++ {
		idx := alphabetIndex(s[i])
		if idx < 0 {
			return 0, false
		}
		bits = bits.shiftOr(uint64(idx), 6)
	}
	return int64(bits.shiftRightN(26).low32()), true
}

func isTokenAlphabet(c byte) bool {
	return alphabetIndex(c) >= 0
}

func alphabetIndex(c byte) int {
	for i := 0; i < len(tokenAlphabet); i++ {
		if tokenAlphabet[i] == c {
			return i
		}
	}
	return -1
}
