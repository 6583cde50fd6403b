package elffile

import (
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	ehdrSize     = 52
	shentSize    = 40
	shstrtabName = ".shstrtab"
)

func alignUp(pos, align uint32) uint32 {
	if align > 1 && pos%align != 0 {
		pos += align - pos%align
	}
	return pos
}

// A datawriter accumulates output blocks, padding with zeroes up to
// requested positions.
type datawriter struct {
	pos  uint32
	data [][]byte
}

func (w *datawriter) write(d []byte) {
	w.pos += uint32(len(d))
	w.data = append(w.data, d)
}

func (w *datawriter) padTo(pos uint32) {
	if pos > w.pos {
		w.write(make([]byte, pos-w.pos))
	}
}

// nameTable rebuilds the section name string table, returning the blob and
// the per-section name offsets. Cloned sibling sections get their names
// appended here, which is why the table cannot be reused from the template.
func (f *File) nameTable() ([]byte, []uint32) {
	blob := []byte{0}
	offs := make([]uint32, len(f.Sections))
	for i, s := range f.Sections {
		if s.Name == "" {
			continue
		}
		offs[i] = uint32(len(blob))
		blob = append(blob, s.Name...)
		blob = append(blob, 0)
	}
	return blob, offs
}

// dumpBlocks lays the file out and returns its contents as a list of byte
// blocks: ELF header, section payloads in table order, then the section
// header table. Section payloads keep their descriptor's alignment within
// the file; SHT_NOBITS sections get a position but no bytes.
func (f *File) dumpBlocks() ([][]byte, error) {
	shstr := f.Section(shstrtabName)
	if shstr == nil {
		return nil, errors.Errorf("no %s section", shstrtabName)
	}
	blob, nameOffs := f.nameTable()
	shstr.SetData(blob)

	// Assign file offsets.
	offsets := make([]uint32, len(f.Sections))
	pos := uint32(ehdrSize)
	for i, s := range f.Sections {
		if i == 0 {
			continue
		}
		pos = alignUp(pos, s.Addralign)
		offsets[i] = pos
		if s.Type != elf.SHT_NOBITS {
			pos += uint32(len(s.Data))
		}
	}
	shoff := alignUp(pos, 4)

	le := binary.LittleEndian
	var h [ehdrSize]byte
	h[0], h[1], h[2], h[3] = '\x7f', 'E', 'L', 'F'
	h[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	h[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	h[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	h[elf.EI_OSABI] = byte(f.OSABI)
	h[elf.EI_ABIVERSION] = f.ABIVersion
	le.PutUint16(h[16:], uint16(f.Type))
	le.PutUint16(h[18:], uint16(f.Machine))
	le.PutUint32(h[20:], uint32(elf.EV_CURRENT))
	le.PutUint32(h[24:], f.Entry)
	le.PutUint32(h[32:], shoff)         // e_shoff; no program headers
	le.PutUint32(h[36:], f.Flags)       // e_flags
	le.PutUint16(h[40:], ehdrSize)      // e_ehsize
	le.PutUint16(h[46:], shentSize)     // e_shentsize
	le.PutUint16(h[48:], uint16(len(f.Sections)))
	le.PutUint16(h[50:], uint16(f.sectionIndex(shstrtabName)))

	var d datawriter
	d.write(h[:])
	for i, s := range f.Sections {
		if i == 0 || s.Type == elf.SHT_NOBITS || len(s.Data) == 0 {
			continue
		}
		d.padTo(offsets[i])
		d.write(s.Data)
	}
	d.padTo(shoff)
	for i, s := range f.Sections {
		var sh [shentSize]byte
		size := s.Size
		if s.Type != elf.SHT_NOBITS && s.Type != elf.SHT_NULL {
			size = uint32(len(s.Data))
		}
		le.PutUint32(sh[0:], nameOffs[i])
		le.PutUint32(sh[4:], uint32(s.Type))
		le.PutUint32(sh[8:], uint32(s.Flags))
		le.PutUint32(sh[12:], s.Addr)
		le.PutUint32(sh[16:], offsets[i])
		le.PutUint32(sh[20:], size)
		le.PutUint32(sh[24:], s.Link)
		le.PutUint32(sh[28:], s.Info)
		le.PutUint32(sh[32:], s.Addralign)
		le.PutUint32(sh[36:], s.Entsize)
		d.write(sh[:])
	}
	return d.data, nil
}

// WriteTo serializes the file to a writer.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	blocks, err := f.dumpBlocks()
	if err != nil {
		return 0, err
	}
	var amt int64
	for _, d := range blocks {
		n, err := w.Write(d)
		amt += int64(n)
		if err != nil {
			return amt, err
		}
	}
	return amt, nil
}
