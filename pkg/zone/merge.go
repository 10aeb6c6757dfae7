package zone

import (
	"encoding/binary"
	"fmt"
)

// MergeLogs combines two fixed-stride record logs into one buffer ordered
// by each record's leading little-endian u64 timestamp. Both inputs must
// already be sorted; the merge is stable and prefers dst on equal
// timestamps, so records that were persisted earlier keep their place.
// Trailing bytes short of a full stride are dropped.
func MergeLogs(dst, src []byte, stride int) ([]byte, error) {
	if stride < 8 {
		return nil, fmt.Errorf("%w: merge stride %d cannot hold a timestamp", ErrBadConfig, stride)
	}
	dst = dst[:len(dst)/stride*stride]
	src = src[:len(src)/stride*stride]

	out := make([]byte, 0, len(dst)+len(src))
	i, j := 0, 0
	for i < len(dst) && j < len(src) {
		td := binary.LittleEndian.Uint64(dst[i:])
		ts := binary.LittleEndian.Uint64(src[j:])
		if td <= ts {
			out = append(out, dst[i:i+stride]...)
			i += stride
		} else {
			out = append(out, src[j:j+stride]...)
			j += stride
		}
	}
	out = append(out, dst[i:]...)
	out = append(out, src[j:]...)
	return out, nil
}
