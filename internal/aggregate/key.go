package aggregate

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// Key serialization tags. Every cell is written as a tag byte followed by a
// fixed or length-prefixed payload, so distinct tuples never collide at the
// byte level.
const (
	tagNil    = 0
	tagInt    = 1
	tagFloat  = 2
	tagBool   = 3
	tagString = 4
)

// appendKeyCell serializes one group-key cell onto buf.
func appendKeyCell(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, tagNil)
	case int64:
		buf = append(buf, tagInt)
		return binary.LittleEndian.AppendUint64(buf, uint64(t))
	case float64:
		buf = append(buf, tagFloat)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(t))
	case bool:
		if t {
			return append(buf, tagBool, 1)
		}
		return append(buf, tagBool, 0)
	case string:
		buf = append(buf, tagString)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t)))
		return append(buf, t...)
	default:
		return append(buf, tagNil)
	}
}

// hashKey hashes a serialized key tuple. Buckets with equal hashes are
// distinguished by full key comparison, so hash collisions only cost a
// chain walk.
func hashKey(buf []byte) uint64 {
	return xxh3.Hash(buf)
}

// keysEqual compares two key tuples cell by cell.
func keysEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// compareCells orders two cells of the same column. nil sorts after every
// present value; mixed numeric cells compare by value.
func compareCells(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	switch x := a.(type) {
	case int64:
		if f, ok := toFloat(b); ok {
			return compareFloats(float64(x), f)
		}
	case float64:
		if f, ok := toFloat(b); ok {
			return compareFloats(x, f)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case string:
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
