package elffile_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moria.us/bin2elf/elffile"
)

// newTemplate builds the kind of section skeleton a conversion template
// provides: code, exception index, data, uninitialized data, and the name
// table.
func newTemplate() *elffile.File {
	return &elffile.File{
		Type:    elf.ET_EXEC,
		Machine: elf.EM_ARM,
		Flags:   0x05000000, // EABI v5
		Sections: []*elffile.Section{
			{Name: "", Type: elf.SHT_NULL},
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addralign: 4},
			{Name: ".ARM.exidx", Type: elffile.SHT_ARM_EXIDX, Flags: elf.SHF_ALLOC, Link: 1, Addralign: 4},
			{Name: ".data", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addralign: 4},
			{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addralign: 4},
			{Name: ".shstrtab", Type: elf.SHT_STRTAB, Addralign: 1},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := newTemplate()
	f.Entry = 0x1000000
	text := f.Section(".text")
	text.Addr = 0x1000000
	text.SetData([]byte{0x70, 0x47, 0x00, 0xbf}) // bx lr; nop
	bss := f.Section(".bss")
	bss.Addr = 0x1001000
	bss.Size = 0x4000

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	// The stdlib reader is the arbiter of whether the output is a valid
	// ELF file.
	ef, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, elf.ELFCLASS32, ef.Class)
	assert.Equal(t, elf.EM_ARM, ef.Machine)
	assert.Equal(t, uint64(0x1000000), ef.Entry)

	st := ef.Section(".text")
	require.NotNil(t, st)
	assert.Equal(t, uint64(0x1000000), st.Addr)
	data, err := st.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x70, 0x47, 0x00, 0xbf}, data)

	sb := ef.Section(".bss")
	require.NotNil(t, sb)
	assert.Equal(t, elf.SHT_NOBITS, sb.Type)
	assert.Equal(t, uint64(0x4000), sb.Size)

	// And our own reader must accept its own output.
	f2, err := elffile.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x05000000), f2.Flags)
	assert.Equal(t, uint32(0x1000000), f2.Entry)
	require.NotNil(t, f2.Section(".ARM.exidx"))
	assert.Equal(t, elffile.SHT_ARM_EXIDX, f2.Section(".ARM.exidx").Type)
}

func TestCloneInsertAfter(t *testing.T) {
	f := newTemplate()
	bss := f.Section(".bss")
	bss.Size = 0x100

	clone := bss.Clone(".bss2")
	clone.Size = 0x40
	require.NoError(t, f.InsertAfter(".bss", clone))

	// The clone sits directly after its sibling and is independent.
	names := make([]string, 0, len(f.Sections))
	for _, s := range f.Sections {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"", ".text", ".ARM.exidx", ".data", ".bss", ".bss2", ".shstrtab"}, names)
	assert.Equal(t, uint32(0x100), f.Section(".bss").Size)
	assert.Equal(t, uint32(0x40), f.Section(".bss2").Size)
	assert.Equal(t, elf.SHT_NOBITS, clone.Type)

	// Cloned names survive serialization.
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	ef, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NotNil(t, ef.Section(".bss2"))
	assert.Equal(t, uint64(0x40), ef.Section(".bss2").Size)
}

func TestInsertAfterMissingSibling(t *testing.T) {
	f := newTemplate()
	err := f.InsertAfter(".nonexistent", f.Section(".bss").Clone(".bss2"))
	assert.Error(t, err)
}

func TestSectionLookup(t *testing.T) {
	f := newTemplate()
	assert.Nil(t, f.Section(".missing"))
	require.NotNil(t, f.Section(".data"))
}

func TestDumpText(t *testing.T) {
	f := newTemplate()
	f.Section(".text").SetData([]byte("ABCD"))
	var buf bytes.Buffer
	require.NoError(t, f.DumpText(&buf))
	out := buf.String()
	assert.Contains(t, out, ".ARM.exidx")
	assert.Contains(t, out, "PROGBITS")
	assert.Contains(t, out, `"ABCD"`)
}
