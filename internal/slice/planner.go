package slice

import "github.com/tanq16/slicedl/internal/transport"

// Descriptor is one slice of the remote resource. End is inclusive.
type Descriptor struct {
	Index  int
	Start  int64
	End    int64
	Length int64
	Whole  bool // fetch without a Range header
}

func (d Descriptor) RangeHeader() string {
	return transport.RangeHeader(d.Start, d.End)
}

// Plan splits [0, total) into consecutive slices of sliceSize bytes, the last one
// clipped. Resources no larger than minSize become a single whole-body descriptor.
func Plan(total, sliceSize, minSize int64) []Descriptor {
	if total <= minSize {
		return []Descriptor{{Index: 0, Start: 0, End: total - 1, Length: total, Whole: true}}
	}
	if sliceSize <= 0 {
		sliceSize = DefaultSliceSize
	}
	out := make([]Descriptor, 0, (total+sliceSize-1)/sliceSize)
	for start, i := int64(0), 0; start < total; start, i = start+sliceSize, i+1 {
		end := min(start+sliceSize-1, total-1)
		out = append(out, Descriptor{Index: i, Start: start, End: end, Length: end - start + 1})
	}
	return out
}

func merge(slots [][]byte) []byte {
	var n int
	for _, s := range slots {
		n += len(s)
	}
	out := make([]byte, 0, n)
	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}
