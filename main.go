// Command bin2elf converts a flattened ARM firmware image (the output of
// objcopy -O binary on a linked ELF) back into an ELF file, so that standard
// analysis tools can work with it. Section boundaries are recovered by
// locating the .ARM.exidx exception index table and inferring the rest of
// the layout around it; an ELF template supplies the structural skeleton.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"

	"moria.us/bin2elf/convert"
	"moria.us/bin2elf/elffile"
)

const version = "0.3.1"

var cfg struct {
	fwPartFile   string
	elfFile      string
	tmpltFile    string
	addrSpaceLen addrValue
	baseAddr     addrValue
	sections     []string
	dryRun       bool
	verbose      int
}

// An addrValue is a 32-bit flag value accepting both decimal and 0x-prefixed
// input, the way addresses are usually quoted.
type addrValue uint32

func (v *addrValue) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return err
	}
	*v = addrValue(n)
	return nil
}

func (v *addrValue) String() string {
	return fmt.Sprintf("%#x", uint32(*v))
}

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]),
		"Convert a flattened ARM firmware image into an ELF file for analysis.").UsageWriter(os.Stdout)
	app.Version(version)
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Increase verbosity; repeat for more detail.").Short('v').CounterVar(&cfg.verbose)

	mkelfCmd := app.Command("mkelf", "Make an ELF file from a binary image.")
	mkelfCmd.Flag("fwpartfile", "Executable ARM firmware binary module file.").
		Short('p').Required().ExistingFileVar(&cfg.fwPartFile)
	mkelfCmd.Flag("elffile", "Output ELF file name (default: fwpartfile base name with .elf extension).").
		Short('o').StringVar(&cfg.elfFile)
	mkelfCmd.Flag("tmpltfile", "Template ELF file to take header fields and section skeleton from.").
		Short('t').Default("arm_bin2elf_template.elf").StringVar(&cfg.tmpltFile)
	cfg.addrSpaceLen = convert.DefaultAddrSpaceLen
	mkelfCmd.Flag("addrspacelen", "Address space length after base; used addresses are expected to end at baseaddr+addrspacelen, which sizes the last section.").
		Short('l').SetValue(&cfg.addrSpaceLen)
	cfg.baseAddr = convert.DefaultBaseAddr
	mkelfCmd.Flag("baseaddr", "Base address; the first section from the BIN file starts at this memory location.").
		Short('b').SetValue(&cfg.baseAddr)
	mkelfCmd.Flag("section", "Set section position and/or length as SECT@ADDR:LEN; overrides detection. Numeric-suffix names (.bss2) clone the template section.").
		Short('s').PlaceHolder("SECT@ADDR:LEN").StringsVar(&cfg.sections)
	mkelfCmd.Flag("dry-run", "Do not write any files or make permanent changes.").BoolVar(&cfg.dryRun)

	parsedCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	switch {
	case cfg.verbose <= 0:
		logger = level.NewFilter(logger, level.AllowWarn())
	case cfg.verbose == 1:
		logger = level.NewFilter(logger, level.AllowInfo())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	switch parsedCmd {
	case mkelfCmd.FullCommand():
		if err := mkelf(logger); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(10)
		}
	}
}

func mkelf(logger log.Logger) error {
	if cfg.elfFile == "" {
		base := filepath.Base(cfg.fwPartFile)
		cfg.elfFile = strings.TrimSuffix(base, filepath.Ext(base)) + ".elf"
	}
	overrides := make([]convert.Override, 0, len(cfg.sections))
	for _, s := range cfg.sections {
		ov, err := convert.ParseOverride(s)
		if err != nil {
			return err
		}
		overrides = append(overrides, ov)
	}

	fw, err := os.Open(cfg.fwPartFile)
	if err != nil {
		return err
	}
	defer fw.Close()
	st, err := fw.Stat()
	if err != nil {
		return err
	}

	tmpl, err := elffile.Open(cfg.tmpltFile)
	if err != nil {
		return err
	}

	out, err := convert.Convert(convert.Options{
		BaseAddr:     uint32(cfg.baseAddr),
		AddrSpaceLen: uint32(cfg.addrSpaceLen),
		Overrides:    overrides,
		DryRun:       cfg.dryRun,
		Logger:       logger,
	}, fw, st.Size(), tmpl)
	if err != nil {
		return err
	}

	if cfg.dryRun {
		if cfg.verbose > 1 {
			if err := out.DumpText(os.Stderr); err != nil {
				return err
			}
		}
		level.Info(logger).Log("msg", "dry run, output not written", "elffile", cfg.elfFile)
		return nil
	}

	fp, err := os.Create(cfg.elfFile)
	if err != nil {
		return err
	}
	defer fp.Close()
	n, err := out.WriteTo(fp)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "ELF written", "elffile", cfg.elfFile, "bytes", n)
	return fp.Close() // Double-close is OK
}
