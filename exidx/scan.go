package exidx

import (
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// SectionName is the name of the anchor section this package locates.
const SectionName = ".ARM.exidx"

// ErrNotFound is reported by Locate when neither the entry scanner nor the
// empty-region fallback produced a plausible section.
var ErrNotFound = errors.New("no matches found for section " + SectionName)

// Params describe the presumed memory geometry used while scanning.
type Params struct {
	Base      uint32 // load address of the image start
	FuncAlign uint32 // alignment of function entry points (2 for Thumb)
	SectAlign uint32 // expected section alignment
}

// isProperEntry decides whether e is a plausible index entry, assuming the
// code region spans [Base, Base+arrPos) and the entry itself is stored at
// image offset entPos. Three disjoint accept paths exist: the CantUnwind
// sentinel, an inline unwind descriptor, and a prel31 reference to an
// out-of-line table entry whose first word must in turn point at a
// function-aligned address inside the code region.
func (p Params) isProperEntry(r io.ReaderAt, e Entry, arrPos, entPos uint32, logger log.Logger) bool {
	// The ABI states this offset has bit 31 clear.
	if e.TabOffs == 0 || e.TabOffs&0x80000000 != 0 {
		return false
	}
	base := int64(p.Base)
	regionEnd := base + int64(arrPos)
	// The first word must resolve to a function start inside the code
	// region preceding the table.
	funcAddr := int64(Prel31ToAddr(e.TabOffs, p.Base+entPos))
	if funcAddr <= base || funcAddr >= regionEnd || funcAddr%int64(p.FuncAlign) != 0 {
		return false
	}
	if e.Word == CantUnwind {
		level.Debug(logger).Log("msg", "matching entry", "section", SectionName,
			"pos", fmt.Sprintf("%#08x", entPos), "func", fmt.Sprintf("%#08x", funcAddr), "kind", "cantunwind")
		return true
	}
	if e.Word&0x80000000 != 0 {
		// Inline descriptor: bits 30-28 are reserved and must be zero;
		// the personality routine index and opcodes live below.
		if e.Word&0x70000000 != 0 {
			return false
		}
		level.Debug(logger).Log("msg", "matching entry", "section", SectionName,
			"pos", fmt.Sprintf("%#08x", entPos), "func", fmt.Sprintf("%#08x", funcAddr),
			"kind", "inline", "idx", (e.Word>>24)&7)
		return true
	}
	// Remaining option: a prel31 offset to an out-of-line table entry in
	// .ARM.extab. That section is assumed adjacent to ours, so accept only
	// offsets landing shortly before the presumed table start or shortly
	// after the current entry. The window multipliers are empirical; they
	// match what shipped firmware layouts produce.
	tbentAddr := int64(Prel31ToAddr(e.Word, p.Base+entPos))
	align := int64(p.SectAlign)
	if !(tbentAddr >= regionEnd-align*0x10 && tbentAddr <= regionEnd-4 ||
		tbentAddr < base+int64(entPos)+align*0x20 && tbentAddr >= base+int64(entPos)+EntrySize) {
		return false
	}
	// Entry size is unknown but always a multiple of 4.
	if tbentAddr%4 != 0 {
		return false
	}
	// The out-of-line entry starts with the personality routine address;
	// it must be a plausible function pointer as well.
	persAddr, err := readWord(r, tbentAddr-base)
	if err != nil {
		return false
	}
	if pa := int64(persAddr); pa <= base || pa >= regionEnd || pa%int64(p.FuncAlign) != 0 {
		return false
	}
	level.Debug(logger).Log("msg", "matching entry", "section", SectionName,
		"pos", fmt.Sprintf("%#08x", entPos), "func", fmt.Sprintf("%#08x", funcAddr),
		"kind", "table", "tbent", fmt.Sprintf("%#08x", tbentAddr))
	return true
}

// Scan searches for the longest plausible run of index entries, trying
// candidate positions at successive multiples of the section alignment from
// startPos. Scanning continues to the end of the image even after a match,
// because a later candidate may be the real table and an earlier one a false
// positive; the last match wins and multiple matches are warned about. A run
// cut short by the end of the image never counts. Returns the image offset
// and byte length of the located table.
func Scan(r io.ReaderAt, p Params, startPos uint32, logger log.Logger) (uint32, uint32, bool) {
	var (
		matchCount   int
		matchPos     uint32
		matchEntries uint32
		reachedEOF   bool
	)
	for pos := startPos; !reachedEOF; pos += p.SectAlign {
		// Count consecutive valid entries at this candidate position.
		var entryCount uint32
		entryPos := pos
		for {
			e, err := readEntry(r, int64(entryPos))
			if err != nil {
				reachedEOF = true
				break
			}
			if !p.isProperEntry(r, e, pos, entryPos, logger) {
				break
			}
			entryCount++
			entryPos += EntrySize
		}
		// Do not allow an entry run ending at EOF.
		if reachedEOF {
			break
		}
		// The area between the last entry and the next alignment boundary
		// must be zero filler.
		if entryCount > 0 && entryPos%p.SectAlign != 0 {
			pad := make([]byte, p.SectAlign-entryPos%p.SectAlign)
			n, _ := r.ReadAt(pad, int64(entryPos))
			if !uniformZero(pad[:n]) {
				entryCount = 0
			}
		}
		if entryCount > 0 {
			level.Info(logger).Log("msg", "matching section", "section", SectionName,
				"pos", fmt.Sprintf("%#08x", pos), "entries", entryCount)
			matchPos = pos
			matchEntries = entryCount
			matchCount++
		}
	}
	if matchCount > 1 {
		level.Warn(logger).Log("msg", "multiple matches found for section",
			"section", SectionName, "matches", matchCount,
			"align", fmt.Sprintf("%#02x", p.SectAlign))
	}
	if matchCount < 1 {
		return 0, 0, false
	}
	return matchPos, matchEntries * EntrySize, true
}

// ScanEmpty is the last resort used when the table appears to have no
// entries: find a zero-filled block ending at an aligned offset, which is
// how the boundary between code and data usually looks. The located section
// has zero length.
func ScanEmpty(r io.ReaderAt, sectAlign, startPos uint32, logger log.Logger) (uint32, bool) {
	var (
		matchCount int
		matchPos   uint32
	)
	buf := make([]byte, sectAlign)
	for pos := startPos; ; pos += sectAlign {
		n, _ := r.ReadAt(buf, int64(pos))
		if uint32(n) != sectAlign {
			break
		}
		if uniformZero(buf) {
			matchPos = pos + sectAlign
			matchCount++
		} else if matchCount > 0 {
			break
		}
	}
	if matchCount < 1 {
		return 0, false
	}
	return matchPos, true
}

func uniformZero(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Locate runs the full detection cascade: entry scan at the expected section
// alignment, retry at half that alignment, then the empty-region fallback.
// Exhausting all three is fatal for a conversion.
func Locate(r io.ReaderAt, p Params, logger log.Logger) (uint32, uint32, error) {
	if p.SectAlign < EntrySize {
		return 0, 0, errors.Errorf("section alignment %#x smaller than an index entry", p.SectAlign)
	}
	if pos, length, ok := Scan(r, p, 0, logger); ok {
		return pos, length, nil
	}
	half := p
	half.SectAlign = p.SectAlign >> 1
	if pos, length, ok := Scan(r, half, 0, logger); ok {
		return pos, length, nil
	}
	level.Warn(logger).Log("msg", "real section not found, looking for empty one; consider manually providing its address",
		"section", SectionName)
	if pos, ok := ScanEmpty(r, p.SectAlign, 0, logger); ok {
		return pos, 0, nil
	}
	return 0, 0, ErrNotFound
}
