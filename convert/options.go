package convert

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"moria.us/bin2elf/layout"
)

// Default geometry of the conversion. The alignment constants match what
// arm-none-eabi-ld produces for the firmware images this tool targets:
// Thumb functions align to 2, sections to 16.
const (
	DefaultBaseAddr     = 0x1000000
	DefaultAddrSpaceLen = 0x2000000
	DefaultFuncAlign    = 2
	DefaultSectAlign    = 0x10
)

// An Override pins a section's address and/or size, taking precedence over
// detection and inference for that field.
type Override struct {
	Name    string
	Addr    uint32
	Size    uint32
	HasAddr bool
	HasSize bool
}

var overrideRe = regexp.MustCompile(
	`^([0-9A-Za-z._-]+)(?:@(0[xX][0-9A-Fa-f]+|[0-9]+))?(?::(0[xX][0-9A-Fa-f]+|[0-9]+))?$`)

// ParseOverride parses a SECT@ADDR:LEN section parameter. Both the address
// and the length part are optional; numbers may carry a 0x prefix.
func ParseOverride(s string) (Override, error) {
	m := overrideRe.FindStringSubmatch(s)
	if m == nil {
		return Override{}, errors.Errorf("malformed section parameter %q, expected SECT@ADDR:LEN", s)
	}
	ov := Override{Name: m[1]}
	if m[2] != "" {
		v, err := strconv.ParseUint(m[2], 0, 32)
		if err != nil {
			return Override{}, errors.Wrapf(err, "section %q address", ov.Name)
		}
		ov.Addr = uint32(v)
		ov.HasAddr = true
	}
	if m[3] != "" {
		v, err := strconv.ParseUint(m[3], 0, 32)
		if err != nil {
			return Override{}, errors.Wrapf(err, "section %q length", ov.Name)
		}
		ov.Size = uint32(v)
		ov.HasSize = true
	}
	return ov, nil
}

// Options configure one conversion run.
type Options struct {
	BaseAddr     uint32 // load address of the image start
	AddrSpaceLen uint32 // expected extent of used addresses past BaseAddr
	FuncAlign    uint32 // zero means DefaultFuncAlign
	SectAlign    uint32 // zero means DefaultSectAlign
	Overrides    []Override
	DryRun       bool
	Logger       log.Logger // nil silences all reporting
}

// normalize fills alignment defaults and grows the address space to cover
// the highest explicit override, so a user pinning a far section does not
// also have to recompute -l by hand.
func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
	if o.FuncAlign == 0 {
		o.FuncAlign = DefaultFuncAlign
	}
	if o.SectAlign == 0 {
		o.SectAlign = DefaultSectAlign
	}
	last := -1
	for i, ov := range o.Overrides {
		if ov.HasAddr && (last < 0 || ov.Addr > o.Overrides[last].Addr) {
			last = i
		}
	}
	if last >= 0 && o.Overrides[last].HasSize {
		ov := o.Overrides[last]
		end := int64(ov.Addr) + int64(ov.Size) - int64(o.BaseAddr)
		if end > int64(o.AddrSpaceLen) {
			if end > layout.AddrSpaceLimit {
				end = layout.AddrSpaceLimit
			}
			o.AddrSpaceLen = uint32(end)
			level.Info(o.Logger).Log("msg", "address space length auto-expanded",
				"addrspacelen", fmt.Sprintf("%#08x", o.AddrSpaceLen))
		}
	}
}
