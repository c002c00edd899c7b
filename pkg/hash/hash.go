package hash

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultM is the default size of the identifier space in bits (2^160).
	DefaultM = 160

	// MaxM is the largest supported identifier space; SHA-256 yields 256 bits.
	MaxM = 256
)

var (
	// ErrInvalidBits is returned when m is outside [1, MaxM].
	ErrInvalidBits = errors.New("identifier bits must be between 1 and 256")

	// ErrInvalidID is returned by ParseID for malformed or out-of-range identifiers.
	ErrInvalidID = errors.New("invalid identifier")

	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

// Space is a circular identifier space of size 2^m. All ring arithmetic
// goes through a Space so that every node in a deployment agrees on m.
type Space struct {
	m        int
	ringSize *big.Int
	hexWidth int
}

// NewSpace returns the identifier space 2^m.
func NewSpace(m int) (*Space, error) {
	if m < 1 || m > MaxM {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBits, m)
	}
	return &Space{
		m:        m,
		ringSize: new(big.Int).Lsh(one, uint(m)),
		hexWidth: (m + 3) / 4,
	}, nil
}

// MustSpace is like NewSpace but panics on an invalid m.
func MustSpace(m int) *Space {
	s, err := NewSpace(m)
	if err != nil {
		panic(err)
	}
	return s
}

// M returns the number of identifier bits.
func (s *Space) M() int {
	return s.m
}

// RingSize returns 2^m.
func (s *Space) RingSize() *big.Int {
	return new(big.Int).Set(s.ringSize)
}

// MaxID returns the largest valid identifier (2^m - 1).
func (s *Space) MaxID() *big.Int {
	return new(big.Int).Sub(s.ringSize, one)
}

// HashKey hashes arbitrary data into the space: SHA-256 reduced mod 2^m.
func (s *Space) HashKey(data []byte) *big.Int {
	sum := sha256.Sum256(data)
	return s.Mod(new(big.Int).SetBytes(sum[:]))
}

// HashString hashes a string into the space.
func (s *Space) HashString(str string) *big.Int {
	return s.HashKey([]byte(str))
}

// HashAddress hashes a network address (host:port). Node identifiers are
// derived this way unless configured explicitly.
func (s *Space) HashAddress(host string, port int) *big.Int {
	return s.HashString(fmt.Sprintf("%s:%d", host, port))
}

// InRange checks if id is in the range (start, end] on the ring.
// The range wraps around if end < start. When start == end the range
// covers the whole ring: a lone node owns every identifier.
//
// Examples (m = 4):
//   - InRange(5, 3, 7) = true    // 5 is in (3, 7]
//   - InRange(3, 3, 7) = false   // exclusive start
//   - InRange(7, 3, 7) = true    // inclusive end
//   - InRange(1, 8, 3) = true    // wraparound
//   - InRange(4, 4, 4) = true    // full ring
func (s *Space) InRange(id, start, end *big.Int) bool {
	if id == nil || start == nil || end == nil {
		return false
	}

	id = s.Mod(id)
	start = s.Mod(start)
	end = s.Mod(end)

	switch start.Cmp(end) {
	case -1:
		return id.Cmp(start) > 0 && id.Cmp(end) <= 0
	case 1:
		return id.Cmp(start) > 0 || id.Cmp(end) <= 0
	default:
		return true
	}
}

// Between checks if id is in the open range (start, end). It is InRange
// without the end point, so (n, n) is every identifier except n.
func (s *Space) Between(id, start, end *big.Int) bool {
	if !s.InRange(id, start, end) {
		return false
	}
	return s.Mod(id).Cmp(s.Mod(end)) != 0
}

// Distance computes the clockwise distance from start to end: (end - start) mod 2^m.
func (s *Space) Distance(start, end *big.Int) *big.Int {
	if start == nil || end == nil {
		return new(big.Int)
	}
	return s.Mod(new(big.Int).Sub(end, start))
}

// PowerOfTwo returns 2^exponent.
func PowerOfTwo(exponent int) *big.Int {
	if exponent < 0 {
		return new(big.Int)
	}
	return new(big.Int).Lsh(one, uint(exponent))
}

// AddPowerOfTwo computes (n + 2^exponent) mod 2^m, the start of finger entry exponent.
func (s *Space) AddPowerOfTwo(n *big.Int, exponent int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return s.Mod(new(big.Int).Add(n, PowerOfTwo(exponent)))
}

// Mod returns x mod 2^m in [0, 2^m).
func (s *Space) Mod(x *big.Int) *big.Int {
	// big.Int.Mod is Euclidean, so the result is never negative.
	return new(big.Int).Mod(x, s.ringSize)
}

// IsValidID checks if an ID is within [0, 2^m).
func (s *Space) IsValidID(id *big.Int) bool {
	if id == nil {
		return false
	}
	return id.Cmp(zero) >= 0 && id.Cmp(s.ringSize) < 0
}

// Hex renders id as zero-padded lowercase hex of fixed width. Lexical order
// of the result matches numeric order, which the storage backends rely on
// for range scans.
func (s *Space) Hex(id *big.Int) string {
	if id == nil {
		return strings.Repeat("0", s.hexWidth)
	}
	return fmt.Sprintf("%0*x", s.hexWidth, s.Mod(id))
}

// ParseID parses a decimal or 0x-prefixed hexadecimal identifier and
// checks that it lies inside the space.
func (s *Space) ParseID(str string) (*big.Int, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidID)
	}

	base := 10
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		base = 16
		str = str[2:]
	}

	id, ok := new(big.Int).SetString(str, base)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, str)
	}
	if !s.IsValidID(id) {
		return nil, fmt.Errorf("%w: %s outside [0, 2^%d)", ErrInvalidID, id, s.m)
	}
	return id, nil
}
