package elffile

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// e_flags lives past the fields debug/elf surfaces; offset within an ELF32
// header.
const flagsOff32 = 0x24

// Open opens the named file with os.Open and reads the ELF template
// structure.
func Open(name string) (*File, error) {
	fp, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	f, err := Read(fp)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return f, nil
}

// Read reads an ELF template from r. The template must be a 32-bit
// little-endian ELF; anything else cannot describe the address spaces this
// tool reconstructs.
func Read(r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer ef.Close()
	if ef.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("ELF has class %s, expected ELFCLASS32", ef.Class)
	}
	if ef.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("ELF has data %s, expected ELFDATA2LSB", ef.Data)
	}

	var rawFlags [4]byte
	if _, err := r.ReadAt(rawFlags[:], flagsOff32); err != nil {
		return nil, errors.Wrap(err, "could not read e_flags")
	}

	f := &File{
		Type:       ef.Type,
		Machine:    ef.Machine,
		OSABI:      ef.OSABI,
		ABIVersion: ef.ABIVersion,
		Entry:      uint32(ef.Entry),
		Flags:      binary.LittleEndian.Uint32(rawFlags[:]),
	}
	for i, es := range ef.Sections {
		s := &Section{
			Name:      es.Name,
			Type:      es.Type,
			Flags:     es.Flags,
			Addr:      uint32(es.Addr),
			Size:      uint32(es.Size),
			Link:      es.Link,
			Info:      es.Info,
			Addralign: uint32(es.Addralign),
			Entsize:   uint32(es.Entsize),
		}
		if es.Type != elf.SHT_NOBITS && es.Type != elf.SHT_NULL {
			data, err := es.Data()
			if err != nil {
				return nil, errors.Wrapf(err, "section %d %q", i, es.Name)
			}
			s.Data = data
		}
		f.Sections = append(f.Sections, s)
	}
	if len(f.Sections) == 0 {
		return nil, errors.New("template has no section table")
	}
	if f.Section(shstrtabName) == nil {
		return nil, errors.Errorf("template has no %s section", shstrtabName)
	}
	return f, nil
}
