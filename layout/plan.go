// Package layout derives a consistent section layout for a flattened memory
// image from the position of the exception index anchor section and any
// explicit user overrides. Addresses and sizes are kept as wide integers
// while the plan is being settled; they are only narrowed to the 32-bit
// address space once the layout is final.
package layout

import "sort"

// AddrSpaceLimit is the highest representable address. Only 32-bit address
// spaces are supported; 64-bit images would need a wider limit and a
// different entry validator.
const AddrSpaceLimit = int64(1)<<32 - 1

// A Plan accumulates section addresses and sizes while they are being
// settled. A section is known to the plan once either its address or size
// has been set; insertion order is preserved, because it decides both the
// chaining order of uninitialized sibling sections and the tie-break order
// of the final section table.
type Plan struct {
	Base      uint32
	SpaceLen  uint32 // address space length after Base
	FuncAlign uint32
	SectAlign uint32

	addrOrder []string
	addr      map[string]int64
	sizeOrder []string
	size      map[string]int64
}

// New returns an empty plan for the given address space geometry.
func New(base, spaceLen, funcAlign, sectAlign uint32) *Plan {
	return &Plan{
		Base:      base,
		SpaceLen:  spaceLen,
		FuncAlign: funcAlign,
		SectAlign: sectAlign,
		addr:      make(map[string]int64),
		size:      make(map[string]int64),
	}
}

// SetAddr assigns a section's memory address. The first assignment wins;
// settling never overwrites an explicit override.
func (p *Plan) SetAddr(name string, addr int64) {
	if _, ok := p.addr[name]; !ok {
		p.addrOrder = append(p.addrOrder, name)
		p.addr[name] = addr
	}
}

// SetSize assigns a section's size in bytes. The first assignment wins.
func (p *Plan) SetSize(name string, size int64) {
	if _, ok := p.size[name]; !ok {
		p.sizeOrder = append(p.sizeOrder, name)
		p.size[name] = size
	}
}

// Addr reports the section's address, if settled.
func (p *Plan) Addr(name string) (int64, bool) {
	a, ok := p.addr[name]
	return a, ok
}

// Size reports the section's size, if settled.
func (p *Plan) Size(name string) (int64, bool) {
	s, ok := p.size[name]
	return s, ok
}

// sortedAddrs returns the distinct settled addresses in ascending order.
func (p *Plan) sortedAddrs() []int64 {
	seen := make(map[int64]bool, len(p.addr))
	var addrs []int64
	for _, a := range p.addr {
		if !seen[a] {
			seen[a] = true
			addrs = append(addrs, a)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
