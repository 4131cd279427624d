// Package difficulty manages the proof of work target in its compact bits
// form and provides the math for weighing one chain against another.
package difficulty

import (
	"errors"
	"math/big"
	"time"
)

// adjustFactor bounds how far a single retarget can move the target.
const adjustFactor = 4

// =============================================================================

// oneLsh256 is 1 shifted left 256 bits. It represents the value that is one
// more than the largest possible block hash.
var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// maxTarget is the largest target a block can carry. Any hash satisfies it.
var maxTarget = new(big.Int).Sub(oneLsh256, big.NewInt(1))

// =============================================================================

// ToTarget expands the compact bits representation into the full 256 bit
// target value a block hash must not exceed. The encoding follows the
// exponent/mantissa form used by bitcoin: the high byte is a base 256
// exponent and the low three bytes are the mantissa.
func ToTarget(bits uint32) (*big.Int, error) {
	mantissa := int64(bits & 0x007fffff)
	exponent := int(bits >> 24)

	if bits&0x00800000 != 0 {
		return nil, errors.New("difficulty bits carry the sign bit")
	}
	if mantissa == 0 {
		return nil, errors.New("difficulty bits carry a zero mantissa")
	}

	var target *big.Int
	if exponent <= 3 {
		target = big.NewInt(mantissa >> uint(8*(3-exponent)))
	} else {
		target = big.NewInt(mantissa)
		target.Lsh(target, uint(8*(exponent-3)))
	}

	if target.Sign() == 0 || target.Cmp(maxTarget) > 0 {
		return nil, errors.New("difficulty bits expand outside the target range")
	}

	return target, nil
}

// ToBits compresses a full target value back into its canonical compact
// bits form. Precision beyond the three mantissa bytes is dropped.
func ToBits(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(target.Bytes()))

	if exponent <= 3 {
		mantissa = uint32(target.Uint64()) << (8 * (3 - exponent))
	} else {
		tn := new(big.Int).Rsh(target, 8*(exponent-3))
		mantissa = uint32(tn.Uint64())
	}

	// Normalize when the mantissa picked up the sign bit.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	return uint32(exponent)<<24 | mantissa
}

// IsSolved reports whether the specified block hash satisfies the target
// represented by the compact bits. The hash is the 0x prefixed hex form
// produced by the signature package.
func IsSolved(hash string, bits uint32) bool {
	target, err := ToTarget(bits)
	if err != nil {
		return false
	}

	if len(hash) < 3 {
		return false
	}

	value, ok := new(big.Int).SetString(hash[2:], 16)
	if !ok {
		return false
	}

	return value.Cmp(target) <= 0
}

// Work returns the amount of expected hash attempts the specified compact
// bits represent. The chain with the greatest sum of work wins a fork, so
// this is computed as 2^256 / (target+1) to keep harder targets worth more.
func Work(bits uint32) *big.Int {
	target, err := ToTarget(bits)
	if err != nil {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh256, denominator)
}

// Adjust computes the compact bits for the next retarget window. The new
// target scales with the ratio of the actual elapsed time over the expected
// elapsed time, clamped to the adjust factor in both directions. The result
// is never easier than the floor bits the chain started with.
func Adjust(bits uint32, expected time.Duration, actual time.Duration, floor uint32) uint32 {
	oldTarget, err := ToTarget(bits)
	if err != nil {
		return floor
	}

	floorTarget, err := ToTarget(floor)
	if err != nil {
		floorTarget = maxTarget
	}

	expectedSecs := int64(expected / time.Second)
	actualSecs := int64(actual / time.Second)
	if expectedSecs <= 0 {
		return bits
	}

	// Clamp the measured time so one window can only move the
	// target by the adjust factor.
	if actualSecs < expectedSecs/adjustFactor {
		actualSecs = expectedSecs / adjustFactor
	}
	if actualSecs > expectedSecs*adjustFactor {
		actualSecs = expectedSecs * adjustFactor
	}

	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actualSecs))
	newTarget.Div(newTarget, big.NewInt(expectedSecs))

	// Blocks may never be easier to mine than the chain's floor.
	if newTarget.Cmp(floorTarget) > 0 {
		newTarget.Set(floorTarget)
	}
	if newTarget.Sign() == 0 {
		newTarget.SetInt64(1)
	}

	return ToBits(newTarget)
}
