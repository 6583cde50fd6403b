// Package convert turns a flattened ARM firmware image back into a
// structured ELF file. The exception index table is located heuristically
// (or placed by explicit overrides), the surrounding code, data and
// uninitialized regions are inferred from it, the resulting constraints are
// reconciled into a consistent layout, and the layout is applied onto an
// ELF template.
package convert

import (
	"fmt"
	"io"

	"github.com/go-kit/log/level"

	"moria.us/bin2elf/elffile"
	"moria.us/bin2elf/exidx"
	"moria.us/bin2elf/layout"
)

// Convert runs one complete conversion: settle all sections, finalize the
// layout, and patch tmpl in place. The patched template is returned for the
// caller to serialize; in dry-run mode the caller simply doesn't. Any
// failure is an *Error and leaves no usable result.
func Convert(opts Options, image io.ReaderAt, imageSize int64, tmpl *elffile.File) (*elffile.File, error) {
	opts.normalize()
	logger := opts.Logger
	level.Info(logger).Log("msg", "memory base address set",
		"baseaddr", fmt.Sprintf("%#08x", opts.BaseAddr))

	plan := layout.New(opts.BaseAddr, opts.AddrSpaceLen, opts.FuncAlign, opts.SectAlign)
	for _, ov := range opts.Overrides {
		if ov.HasAddr {
			plan.SetAddr(ov.Name, int64(ov.Addr))
		}
		if ov.HasSize {
			plan.SetSize(ov.Name, int64(ov.Size))
		}
	}

	level.Info(logger).Log("msg", "searching for sections")
	if err := plan.SettleExceptionIndex(image, logger); err != nil {
		return nil, stageErr(StageScan, exidx.SectionName, err)
	}
	if err := plan.SettleText(logger); err != nil {
		return nil, stageErr(StageLayout, layout.TextSection, err)
	}
	if err := plan.SettleData(imageSize, logger); err != nil {
		return nil, stageErr(StageLayout, layout.DataSection, err)
	}
	if err := plan.SettleBss(logger); err != nil {
		return nil, stageErr(StageLayout, layout.BssSection, err)
	}
	sections, err := plan.Finalize(logger)
	if err != nil {
		return nil, stageErr(StageLayout, "", err)
	}

	level.Info(logger).Log("msg", "updating entry point and section headers")
	tmpl.Entry = opts.BaseAddr
	if err := applyLayout(tmpl, sections, image, logger); err != nil {
		return nil, err
	}
	return tmpl, nil
}
