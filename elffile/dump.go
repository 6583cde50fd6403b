package elffile

import (
	"bufio"
	"debug/elf"
	"fmt"
	"io"
)

const hexDigits = "0123456789abcdef"

// appendHexStr formats the leading payload bytes as a hex-and-ASCII pair,
// for eyeballing whether a section picked up the bytes it was supposed to.
func appendHexStr(d []byte, b []byte) []byte {
	for _, c := range b {
		d = append(d, hexDigits[c>>4], hexDigits[c&15], ' ')
	}
	d = append(d, ' ', '"')
	for _, c := range b {
		if 0x20 <= c && c <= 0x7e {
			d = append(d, c)
		} else {
			d = append(d, '.')
		}
	}
	return append(d, '"')
}

func flagStr(fl elf.SectionFlag) string {
	var s [3]byte
	s[0], s[1], s[2] = '-', '-', '-'
	if fl&elf.SHF_ALLOC != 0 {
		s[0] = 'a'
	}
	if fl&elf.SHF_WRITE != 0 {
		s[1] = 'w'
	}
	if fl&elf.SHF_EXECINSTR != 0 {
		s[2] = 'x'
	}
	return string(s[:])
}

// DumpText writes a human-readable rendition of the file header and section
// table, so a resolved layout can be reviewed without opening the output in
// an analysis tool.
func (f *File) DumpText(w io.Writer) error {
	b := bufio.NewWriter(w)
	fmt.Fprintf(b, "%s\n", f)
	fmt.Fprintf(b, "machine flags 0x%08x\n", f.Flags)
	fmt.Fprintf(b, "%3s %-20s %-14s %3s %10s %10s %7s\n",
		"idx", "name", "type", "flg", "addr", "size", "align")
	for i, s := range f.Sections {
		size := s.Size
		if s.Type != elf.SHT_NOBITS && s.Type != elf.SHT_NULL {
			size = uint32(len(s.Data))
		}
		fmt.Fprintf(b, "%3d %-20s %-14s %3s 0x%08x 0x%08x %7d\n",
			i, s.Name, typeStr(s.Type), flagStr(s.Flags), s.Addr, size, s.Addralign)
		if len(s.Data) > 0 {
			n := len(s.Data)
			if n > 16 {
				n = 16
			}
			line := append([]byte("      "), appendHexStr(nil, s.Data[:n])...)
			line = append(line, '\n')
			b.Write(line)
		}
	}
	return b.Flush()
}

func typeStr(t elf.SectionType) string {
	switch t {
	case elf.SHT_NULL:
		return "NULL"
	case elf.SHT_PROGBITS:
		return "PROGBITS"
	case elf.SHT_NOBITS:
		return "NOBITS"
	case elf.SHT_STRTAB:
		return "STRTAB"
	case elf.SHT_SYMTAB:
		return "SYMTAB"
	case SHT_ARM_EXIDX:
		return "ARM_EXIDX"
	default:
		return t.String()
	}
}
