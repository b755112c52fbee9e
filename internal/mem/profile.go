// profile.go exports the frame allocator's usage stats as a real pprof
// profile, so `go tool pprof` can render frame-type breakdowns the same
// way it renders a heap profile.
package mem

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"
)

// Profile renders the current Stats() breakdown as a *profile.Profile
// with one sample per frame type tag, weighted by frame count. The
// sample type is "frames" with unit "count", so pprof's flat/cum views
// read as frame counts rather than bytes.
func (phys *Physmem_t) Profile() *profile.Profile {
	st := phys.Stats()

	valType := &profile.ValueType{Type: "frames", Unit: "count"}
	p := &profile.Profile{
		SampleType: []*profile.ValueType{valType},
		TimeNanos:  time.Now().UnixNano(),
	}

	locID := uint64(1)
	funcID := uint64(1)
	addTag := func(tag string, n int) {
		fn := &profile.Function{ID: funcID, Name: tag, SystemName: tag}
		loc := &profile.Location{
			ID:   locID,
			Line: []profile.Line{{Function: fn, Line: 1}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(n)},
		})
		locID++
		funcID++
	}

	addTag("free", st.Free)
	for tag, n := range st.InUse {
		addTag(fmt.Sprintf("frame.%s", tag.String()), n)
	}
	return p
}
