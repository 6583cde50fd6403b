package convert

import (
	"debug/elf"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"moria.us/bin2elf/elffile"
	"moria.us/bin2elf/layout"
)

// sectSuffixRe matches numeric-suffix sibling names like ".bss2"; the
// unsuffixed part names the template descriptor to clone.
var sectSuffixRe = regexp.MustCompile(`^([.].*[^0-9])([0-9]+)$`)

// cloneSibling materializes a descriptor for a numeric-suffix sibling
// section by cloning the template descriptor of the unsuffixed base name and
// inserting the clone after the previous sibling, or after the base section
// when no prior sibling exists.
func cloneSibling(f *elffile.File, name string) (*elffile.Section, error) {
	m := sectSuffixRe.FindStringSubmatch(name)
	if m == nil {
		return nil, errors.Errorf("could not find section %q in template", name)
	}
	base := m[1]
	tmpl := f.Section(base)
	if tmpl == nil {
		return nil, errors.Errorf("could not find section %q in template to clone %q from", base, name)
	}
	clone := tmpl.Clone(name)
	num, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, errors.Wrapf(err, "section %q suffix", name)
	}
	prev := fmt.Sprintf("%s%d", base, num-1)
	if f.Section(prev) == nil {
		prev = base
	}
	if err := f.InsertAfter(prev, clone); err != nil {
		return nil, err
	}
	return clone, nil
}

// applyLayout patches the template's section descriptors according to the
// finalized layout: address and alignment always; size only for
// uninitialized sections; payload bytes from the image for everything else.
func applyLayout(f *elffile.File, sections []layout.Section, image io.ReaderAt, logger log.Logger) error {
	var payload uint64
	for _, ls := range sections {
		sect := f.Section(ls.Name)
		if sect == nil {
			var err error
			sect, err = cloneSibling(f, ls.Name)
			if err != nil {
				return stageErr(StageTemplate, ls.Name, err)
			}
		}
		level.Info(logger).Log("msg", "preparing section", "section", ls.Name,
			"filepos", fmt.Sprintf("%#08x", ls.FilePos))
		sect.Addr = ls.Addr
		sect.Addralign = ls.Align
		switch {
		case sect.Type == elf.SHT_NOBITS:
			// No content is stored for these; only the declared extent.
			if ls.Size > 0 {
				sect.Size = uint32(ls.Size)
			} else {
				sect.Size = 0
			}
		case ls.Size <= 0:
			sect.SetData(nil)
		default:
			buf := make([]byte, ls.Size)
			if _, err := image.ReadAt(buf, int64(ls.FilePos)); err != nil {
				return stageErr(StageRead, ls.Name,
					errors.Wrapf(err, "could not read %d bytes at %#08x", ls.Size, ls.FilePos))
			}
			sect.SetData(buf)
			payload += uint64(ls.Size)
		}
	}
	level.Debug(logger).Log("msg", "template patched", "payload", humanize.IBytes(payload))
	return nil
}
