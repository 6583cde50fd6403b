// Package elffile provides a mutable model of a 32-bit little-endian ELF
// file, loaded from a template whose header fields and section descriptors
// are patched and then serialized back out. Only the pieces a section-table
// rewrite needs are modeled; program headers are not carried over.
package elffile

import (
	"debug/elf"
	"fmt"

	"github.com/pkg/errors"
)

// SHT_ARM_EXIDX is the ARM-specific section type of the exception index
// table; debug/elf only covers the generic type range.
const SHT_ARM_EXIDX elf.SectionType = 0x70000001

// A Section is one mutable section descriptor plus its payload. For
// SHT_NOBITS sections only Size is meaningful; for all others Size follows
// the payload.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
	Data      []byte
}

// SetData replaces the section payload and keeps Size consistent with it.
func (s *Section) SetData(b []byte) {
	s.Data = b
	s.Size = uint32(len(b))
}

// Clone returns an independent copy of the section under a new name.
func (s *Section) Clone(name string) *Section {
	c := *s
	c.Name = name
	c.Data = append([]byte(nil), s.Data...)
	return &c
}

// A File is an ELF32 object: the header fields worth preserving from the
// template, and the section list. Sections[0] is the null section.
type File struct {
	Type       elf.Type
	Machine    elf.Machine
	OSABI      elf.OSABI
	ABIVersion uint8
	Entry      uint32
	Flags      uint32 // e_flags, e.g. the ARM EABI version

	Sections []*Section
}

// Section returns the section with the given name, or nil.
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// sectionIndex returns the index of the named section, or -1.
func (f *File) sectionIndex(name string) int {
	for i, s := range f.Sections {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// InsertAfter inserts s directly after the named sibling section.
func (f *File) InsertAfter(sibling string, s *Section) error {
	i := f.sectionIndex(sibling)
	if i < 0 {
		return errors.Errorf("no section %q to insert %q after", sibling, s.Name)
	}
	f.Sections = append(f.Sections, nil)
	copy(f.Sections[i+2:], f.Sections[i+1:])
	f.Sections[i+1] = s
	return nil
}

func (f *File) String() string {
	return fmt.Sprintf("ELF32 %s %s, %d sections, entry %#08x",
		f.Type, f.Machine, len(f.Sections), f.Entry)
}
