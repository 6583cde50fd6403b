package layout

import (
	"fmt"
	"io"
	"regexp"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"moria.us/bin2elf/exidx"
)

// TextSection, DataSection and BssSection are the section names whose
// boundaries are inferred from the anchor. Repeated uninitialized regions
// use the BssSection name with a numeric suffix.
const (
	TextSection = ".text"
	DataSection = ".data"
	BssSection  = ".bss"
)

var bssSiblingRe = regexp.MustCompile(`^[.]bss[0-9]+$`)

// SettleExceptionIndex locates the anchor section, by scanning the image
// unless an explicit address override skips detection entirely. An address
// override without a size implies a provisional length of one section
// alignment unit.
func (p *Plan) SettleExceptionIndex(r io.ReaderAt, logger log.Logger) error {
	name := exidx.SectionName
	sectLen := int64(p.SectAlign)
	if _, ok := p.Addr(name); !ok {
		pos, length, err := exidx.Locate(r, exidx.Params{
			Base:      p.Base,
			FuncAlign: p.FuncAlign,
			SectAlign: p.SectAlign,
		}, logger)
		if err != nil {
			return err
		}
		p.SetAddr(name, int64(p.Base)+int64(pos))
		sectLen = int64(length)
	}
	p.SetSize(name, sectLen)
	p.logSettled(name, logger)
	return nil
}

// SettleText infers the code region, assumed to fill the image from its
// start up to the anchor. Nothing before the code region can be inferred
// without overrides, and most images have nothing there, so none is
// assumed. An anchor too close to the image start leaves no room for code
// at all, which no address inference can recover from.
func (p *Plan) SettleText(logger log.Logger) error {
	exAddr, ok := p.Addr(exidx.SectionName)
	if !ok {
		return errors.Errorf("settling %q requires %q settled", TextSection, exidx.SectionName)
	}
	exPos := exAddr - int64(p.Base)

	name := TextSection
	if _, ok := p.Addr(name); !ok {
		if exPos <= int64(p.FuncAlign)*8 {
			return errors.Errorf("no place for %q section before the %q section", name, exidx.SectionName)
		}
		p.SetAddr(name, int64(p.Base))
	}
	if _, ok := p.Size(name); !ok {
		addr, _ := p.Addr(name)
		p.SetSize(name, exPos-(addr-int64(p.Base)))
	}
	p.logSettled(name, logger)
	return nil
}

// SettleData places the initialized-data region directly after the anchor,
// running to the end of the image unless overridden.
func (p *Plan) SettleData(imageSize int64, logger log.Logger) error {
	exAddr, ok := p.Addr(exidx.SectionName)
	if !ok {
		return errors.Errorf("settling %q requires %q settled", DataSection, exidx.SectionName)
	}
	exLen, _ := p.Size(exidx.SectionName)
	pos := exAddr - int64(p.Base) + exLen

	name := DataSection
	if _, ok := p.Addr(name); !ok {
		p.SetAddr(name, int64(p.Base)+pos)
	} else {
		addr, _ := p.Addr(name)
		pos = addr - int64(p.Base)
	}
	p.SetSize(name, imageSize-pos)
	p.logSettled(name, logger)
	return nil
}

// SettleBss places the uninitialized region after the data region, sized to
// the rest of the address space. Sections store no content in the image, so
// further .bssN siblings cannot be inferred; they chain after the primary
// one in the order their explicit sizes were declared. They can be used for
// hardware-mapped areas as well.
func (p *Plan) SettleBss(logger log.Logger) error {
	dataAddr, ok := p.Addr(DataSection)
	if !ok {
		return errors.Errorf("settling %q requires %q settled", BssSection, DataSection)
	}
	dataLen, _ := p.Size(DataSection)
	pos := dataAddr - int64(p.Base)
	sectLen := dataLen

	name := BssSection
	if _, ok := p.Addr(name); !ok {
		pos += sectLen
		p.SetAddr(name, int64(p.Base)+pos)
	} else {
		addr, _ := p.Addr(name)
		pos = addr - int64(p.Base)
	}
	if _, ok := p.Size(name); !ok {
		sectLen = int64(p.SpaceLen) - pos
		if sectLen < 0 {
			sectLen = 0
		}
		p.SetSize(name, sectLen)
	} else {
		sectLen, _ = p.Size(name)
	}
	p.logSettled(name, logger)

	// Sibling sections require a declared size.
	for _, sect := range p.sizeOrder {
		if !bssSiblingRe.MatchString(sect) {
			continue
		}
		if _, ok := p.Addr(sect); !ok {
			pos += sectLen
			p.SetAddr(sect, int64(p.Base)+pos)
		} else {
			addr, _ := p.Addr(sect)
			pos = addr - int64(p.Base)
		}
		sectLen, _ = p.Size(sect)
		p.logSettled(sect, logger)
	}
	return nil
}

func (p *Plan) logSettled(name string, logger log.Logger) {
	addr, _ := p.Addr(name)
	size, _ := p.Size(name)
	level.Info(logger).Log("msg", "set section", "section", name,
		"addr", fmt.Sprintf("%#08x", addr), "size", fmt.Sprintf("%#08x", size))
}
