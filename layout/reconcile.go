package layout

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// A Section is one finalized entry of the layout: resolved address, size,
// natural alignment and position of its payload within the image. Sizes stay
// signed; a non-positive size means the section exists but carries no
// payload bytes.
type Section struct {
	Name    string
	Addr    uint32
	Size    int64
	Align   uint32
	FilePos uint32
}

// Order returns the section names sorted by address. Sections sharing an
// address are emitted with the zero-length ones first, so the single
// non-empty section at an address always comes last; within a group the
// settling order is preserved. Sections placed beyond the address space
// limit are dropped with a warning.
func (p *Plan) Order(logger log.Logger) []string {
	var order []string
	for _, sortAddr := range p.sortedAddrs() {
		if sortAddr > AddrSpaceLimit {
			level.Warn(logger).Log("msg", "sections placed beyond address space limit were not created",
				"addr", fmt.Sprintf("%#x", sortAddr))
			break
		}
		for _, name := range p.addrOrder {
			if p.addr[name] != sortAddr {
				continue
			}
			if size, ok := p.size[name]; ok && size < 1 {
				order = append(order, name)
			}
		}
		for _, name := range p.addrOrder {
			if p.addr[name] != sortAddr {
				continue
			}
			if !contains(order, name) {
				order = append(order, name)
			}
		}
	}
	return order
}

// UpdateSizes back-fills missing sizes and clamps oversized ones, walking
// the ordered sections from the highest address down. Each section's budget
// is the gap to the next section above it; the highest section's budget runs
// to the end of the configured address space, which exceeds the image size
// because uninitialized sections occupy no file bytes. The limit imposed by
// the address space bit width is never exceeded, keeping one alignment unit
// of headroom below it.
func (p *Plan) UpdateSizes(order []string, logger log.Logger) error {
	next := int64(p.Base) + int64(p.SpaceLen) + 1
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		delta := next - p.addr[name]
		if delta < 0 {
			if i == len(order)-1 {
				return errors.Errorf("address space length too small to fit section %q", name)
			}
			return errors.Errorf("trusting addresses leads to negative distance after %q", name)
		}
		if p.addr[name]+delta > AddrSpaceLimit+1-int64(p.SectAlign) {
			delta = AddrSpaceLimit + 1 - int64(p.SectAlign) - p.addr[name]
			if delta < 0 {
				return errors.Errorf("trusting address limits leads to negative distance after %q", name)
			}
		}
		if size, ok := p.size[name]; ok {
			if size > delta {
				level.Warn(logger).Log("msg", "section size reduced due to overlapping",
					"section", name, "size", fmt.Sprintf("%#x", delta))
				p.size[name] = delta
			}
		} else {
			p.SetSize(name, delta)
		}
		next = p.addr[name]
	}
	return nil
}

// sectionAlign infers a section's natural alignment: start from twice the
// expected section alignment and halve until both address and size divide
// evenly. Alignment 1 always satisfies both, so the loop terminates.
func (p *Plan) sectionAlign(name string) uint32 {
	align := int64(p.SectAlign) << 1
	for p.addr[name]%align != 0 {
		align >>= 1
	}
	for p.size[name]%align != 0 {
		align >>= 1
	}
	return uint32(align)
}

// Finalize orders the plan, reconciles all sizes and derives per-section
// alignment and file position. The image is a linear memory dump, so a
// section's file position is its address shifted down by the base, clamped
// at zero. The returned layout is the immutable input of the container
// builder.
func (p *Plan) Finalize(logger log.Logger) ([]Section, error) {
	order := p.Order(logger)
	if err := p.UpdateSizes(order, logger); err != nil {
		return nil, err
	}
	sections := make([]Section, 0, len(order))
	for _, name := range order {
		pos := p.addr[name] - int64(p.Base)
		if pos < 0 {
			pos = 0
		}
		s := Section{
			Name:    name,
			Addr:    uint32(p.addr[name]),
			Size:    p.size[name],
			Align:   p.sectionAlign(name),
			FilePos: uint32(pos),
		}
		level.Info(logger).Log("msg", "section finalized", "section", name,
			"align", fmt.Sprintf("%#02x", s.Align), "filepos", fmt.Sprintf("%#08x", s.FilePos))
		sections = append(sections, s)
	}
	return sections, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
