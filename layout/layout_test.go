package layout

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moria.us/bin2elf/exidx"
)

const testBase = uint32(0x1000000)

func testPlan() *Plan {
	return New(testBase, 0x2000000, 2, 0x10)
}

// cantUnwindEntry writes an index entry at off pointing at target, with the
// CantUnwind sentinel as its second word.
func cantUnwindEntry(img []byte, off, target uint32) {
	field := uint32(int64(testBase+target)-int64(testBase+off)) & 0x7fffffff
	binary.LittleEndian.PutUint32(img[off:], field)
	binary.LittleEndian.PutUint32(img[off+4:], exidx.CantUnwind)
}

func TestSettleWithAnchorOverride(t *testing.T) {
	logger := log.NewNopLogger()
	p := testPlan()
	p.SetAddr(exidx.SectionName, int64(testBase)+0x1000)

	require.NoError(t, p.SettleExceptionIndex(bytes.NewReader(nil), logger))
	size, ok := p.Size(exidx.SectionName)
	require.True(t, ok)
	// Overridden address without a size implies one alignment unit.
	assert.Equal(t, int64(0x10), size)

	require.NoError(t, p.SettleText(logger))
	addr, _ := p.Addr(TextSection)
	size, _ = p.Size(TextSection)
	assert.Equal(t, int64(testBase), addr)
	assert.Equal(t, int64(0x1000), size)

	require.NoError(t, p.SettleData(0x2000, logger))
	addr, _ = p.Addr(DataSection)
	size, _ = p.Size(DataSection)
	assert.Equal(t, int64(testBase)+0x1010, addr)
	assert.Equal(t, int64(0xff0), size)

	require.NoError(t, p.SettleBss(logger))
	addr, _ = p.Addr(BssSection)
	size, _ = p.Size(BssSection)
	assert.Equal(t, int64(testBase)+0x2000, addr)
	assert.Equal(t, int64(0x2000000-0x2000), size)
}

func TestSettleScansImage(t *testing.T) {
	logger := log.NewNopLogger()
	img := make([]byte, 0x40)
	for i := 0; i < 0x20; i++ {
		img[i] = 0xff
	}
	cantUnwindEntry(img, 0x20, 0x2)
	cantUnwindEntry(img, 0x28, 0x2)

	p := testPlan()
	require.NoError(t, p.SettleExceptionIndex(bytes.NewReader(img), logger))
	addr, ok := p.Addr(exidx.SectionName)
	require.True(t, ok)
	assert.Equal(t, int64(testBase)+0x20, addr)
	size, _ := p.Size(exidx.SectionName)
	assert.Equal(t, int64(0x10), size)

	require.NoError(t, p.SettleText(logger))
	size, _ = p.Size(TextSection)
	assert.Equal(t, int64(0x20), size)
}

func TestSettleTextInsufficientSpace(t *testing.T) {
	p := testPlan()
	p.SetAddr(exidx.SectionName, int64(testBase)+0x10)
	require.NoError(t, p.SettleExceptionIndex(bytes.NewReader(nil), log.NewNopLogger()))
	err := p.SettleText(log.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no place")
}

func TestSettleBssSiblings(t *testing.T) {
	logger := log.NewNopLogger()
	p := testPlan()
	p.SetAddr(exidx.SectionName, int64(testBase)+0x1000)
	p.SetSize(BssSection, 0x1000)
	p.SetSize(".bss2", 0x100)
	p.SetSize(".bss3", 0x40)

	require.NoError(t, p.SettleExceptionIndex(bytes.NewReader(nil), logger))
	require.NoError(t, p.SettleText(logger))
	require.NoError(t, p.SettleData(0x2000, logger))
	require.NoError(t, p.SettleBss(logger))

	addr, _ := p.Addr(BssSection)
	assert.Equal(t, int64(testBase)+0x2000, addr)
	// Siblings chain after the primary region in declaration order.
	addr, ok := p.Addr(".bss2")
	require.True(t, ok)
	assert.Equal(t, int64(testBase)+0x3000, addr)
	addr, ok = p.Addr(".bss3")
	require.True(t, ok)
	assert.Equal(t, int64(testBase)+0x3100, addr)
}

func TestOrderZeroSizedFirst(t *testing.T) {
	p := testPlan()
	p.SetAddr(".data", int64(testBase)+0x200)
	p.SetSize(".data", 0x100)
	p.SetAddr(".empty", int64(testBase)+0x200)
	p.SetSize(".empty", 0)
	p.SetAddr(".text", int64(testBase))
	p.SetSize(".text", 0x200)

	order := p.Order(log.NewNopLogger())
	assert.Equal(t, []string{".text", ".empty", ".data"}, order)
}

func TestOrderDropsBeyondLimit(t *testing.T) {
	p := testPlan()
	p.SetAddr(".text", int64(testBase))
	p.SetSize(".text", 0x100)
	p.SetAddr(".bss", AddrSpaceLimit+1)
	p.SetSize(".bss", 0x100)

	var buf bytes.Buffer
	order := p.Order(log.NewLogfmtLogger(&buf))
	assert.Equal(t, []string{".text"}, order)
	assert.Contains(t, buf.String(), "beyond address space limit")
}

func TestUpdateSizesBackfillAndClamp(t *testing.T) {
	p := New(testBase, 0x10000, 2, 0x10)
	p.SetAddr(".text", int64(testBase))
	p.SetSize(".text", 0x300) // overlaps .data by 0x100
	p.SetAddr(".data", int64(testBase)+0x200)
	p.SetAddr(".bss", int64(testBase)+0x400)
	p.SetSize(".bss", 0x100)

	var buf bytes.Buffer
	logger := log.NewLogfmtLogger(&buf)
	order := p.Order(logger)
	require.NoError(t, p.UpdateSizes(order, logger))

	// Explicit oversize is clamped to exactly close the gap, with a
	// warning; a missing size becomes the full budget.
	size, _ := p.Size(".text")
	assert.Equal(t, int64(0x200), size)
	assert.Contains(t, buf.String(), "reduced")
	size, _ = p.Size(".data")
	assert.Equal(t, int64(0x200), size)
	size, _ = p.Size(".bss")
	assert.Equal(t, int64(0x100), size)
	for _, name := range order {
		size, _ := p.Size(name)
		assert.GreaterOrEqual(t, size, int64(0), name)
	}
}

func TestUpdateSizesNoRoom(t *testing.T) {
	p := New(testBase, 0x1000, 2, 0x10)
	p.SetAddr(".bss", int64(testBase)+0x2000) // past the address space end
	order := p.Order(log.NewNopLogger())
	err := p.UpdateSizes(order, log.NewNopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address space length too small")
}

func TestFinalize(t *testing.T) {
	p := testPlan()
	p.SetAddr(exidx.SectionName, int64(testBase)+0x1000)
	p.SetSize(exidx.SectionName, 0x20)
	require.NoError(t, p.SettleText(log.NewNopLogger()))
	require.NoError(t, p.SettleData(0x2000, log.NewNopLogger()))
	require.NoError(t, p.SettleBss(log.NewNopLogger()))

	sections, err := p.Finalize(log.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, sections, 4)

	byName := map[string]Section{}
	for _, s := range sections {
		byName[s.Name] = s
	}
	text := byName[TextSection]
	assert.Equal(t, testBase, text.Addr)
	assert.Equal(t, int64(0x1000), text.Size)
	assert.Equal(t, uint32(0x20), text.Align)
	assert.Equal(t, uint32(0), text.FilePos)

	ex := byName[exidx.SectionName]
	assert.Equal(t, testBase+0x1000, ex.Addr)
	assert.Equal(t, uint32(0x1000), ex.FilePos)
	assert.Equal(t, uint32(0x20), ex.Align)

	data := byName[DataSection]
	assert.Equal(t, testBase+0x1020, data.Addr)
	assert.Equal(t, int64(0xfe0), data.Size)
	assert.Equal(t, uint32(0x1020), data.FilePos)

	bss := byName[BssSection]
	assert.Equal(t, testBase+0x2000, bss.Addr)
	assert.Equal(t, int64(0x2000000-0x2000), bss.Size)
}

func TestFinalizeAlignment(t *testing.T) {
	p := testPlan()
	p.SetAddr(".odd", int64(testBase)+0x1001)
	p.SetSize(".odd", 0x7)
	p.SetAddr(".text", int64(testBase))
	sections, err := p.Finalize(log.NewNopLogger())
	require.NoError(t, err)
	for _, s := range sections {
		if s.Name == ".odd" {
			assert.Equal(t, uint32(1), s.Align)
		}
	}
}
