// Package safeconv provides integer conversions for byte counts and sizes.
package safeconv

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// ClampUint64 converts a byte count to uint64, clamping negatives to zero.
func ClampUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}

	return uint64(v)
}

// Uint64ToInt converts v to int. ok is false when v does not fit.
func Uint64ToInt(v uint64) (n int, ok bool) {
	if v > uint64(MaxInt) {
		return 0, false
	}

	return int(v), true
}

