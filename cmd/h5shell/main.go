// h5shell is an interactive shell for poking at memory-resident files
// and the library's free-list arenas.
//
// Usage:
//
//	h5shell [opts] [backing-file]
//
// Options:
//
//	-i, --increment    Buffer growth increment in bytes
//	-p, --page-size    Dirty-tracking page size (0 uses the config value)
//	-t, --track        Enable write tracking
//	-c, --config       Explicit config file (HuJSON)
//	-v, --verbose      Debug logging
//
// Commands (in REPL):
//
//	write <addr> <text>     Write text at addr
//	read <addr> <len>       Hex-dump len bytes at addr
//	fill <addr> <len> <b>   Write len copies of byte b at addr
//	eoa [addr]              Show or set the end-of-address
//	regions                 List dirty regions
//	flush                   Flush to the backing store
//	truncate                Round the buffer up to eoa
//	dump <path>             Atomically write the file image to path
//	stats                   Free-list and lock statistics
//	gc                      Collect all free lists
//	info                    Show file state
//	help                    Show this help
//	exit / quit / q         Exit
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/qkoziol/hdf5"
	"github.com/qkoziol/hdf5/internal/config"
	"github.com/qkoziol/hdf5/internal/freelist"
	"github.com/qkoziol/hdf5/internal/fs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "h5shell: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("h5shell", pflag.ContinueOnError)

	increment := flags.Uint64P("increment", "i", 0, "buffer growth increment in bytes")
	pageSize := flags.Uint64P("page-size", "p", 0, "dirty-tracking page size")
	track := flags.BoolP("track", "t", false, "enable write tracking")
	configPath := flags.StringP("config", "c", "", "explicit config file")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")

	if err := flags.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg, sources, err := config.Load(workDir, *configPath, os.Environ())
	if err != nil {
		return err
	}

	if sources.Project != "" {
		logger.Debug("loaded config", "path", sources.Project)
	}

	freelist.SetLimits(cfg.Limits())

	if *increment == 0 {
		*increment = cfg.CoreIncrement
	}
	if *pageSize == 0 {
		*pageSize = cfg.PageSize
	}
	if !*track {
		*track = cfg.WriteTracking
	}

	backing := flags.Arg(0)

	file, err := hdf5.OpenMemFile(backing, hdf5.MemFileConfig{
		Increment:           *increment,
		ReadWrite:           true,
		Create:              true,
		BackingStore:        backing != "",
		WriteTracking:       *track,
		PageSize:            *pageSize,
		IgnoreDisabledLocks: cfg.IgnoreDisabledFileLocks,
	})
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("closing file", "err", closeErr)
		}
	}()

	logger.Info("opened memory file",
		"backing", backing, "increment", *increment,
		"tracking", file.Tracking(), "page_size", *pageSize)

	repl := &repl{file: file, fsys: fs.NewReal(), logger: logger, out: os.Stdout}

	return repl.loop()
}

type repl struct {
	file   *hdf5.MemFile
	fsys   fs.FS
	logger *slog.Logger
	out    io.Writer
}

func (r *repl) loop() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string

		for _, cmd := range []string{
			"write", "read", "fill", "eoa", "regions", "flush",
			"truncate", "dump", "stats", "gc", "info", "help", "quit",
		} {
			if strings.HasPrefix(cmd, prefix) {
				out = append(out, cmd+" ")
			}
		}

		return out
	})

	for {
		input, err := line.Prompt("h5> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == "exit" || input == "quit" || input == "q" {
			return nil
		}

		if err := r.dispatch(strings.Fields(input)); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *repl) dispatch(fields []string) error {
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "write":
		return r.cmdWrite(args)
	case "read":
		return r.cmdRead(args)
	case "fill":
		return r.cmdFill(args)
	case "eoa":
		return r.cmdEOA(args)
	case "regions":
		return r.cmdRegions()
	case "flush":
		return r.file.Flush()
	case "truncate":
		return r.file.Truncate(false)
	case "dump":
		return r.cmdDump(args)
	case "stats":
		return r.cmdStats()
	case "gc":
		hdf5.GarbageCollect()

		return nil
	case "info":
		return r.cmdInfo()
	case "help":
		fmt.Fprintln(r.out, "commands: write read fill eoa regions flush truncate dump stats gc info help quit")

		return nil
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}

	return v, nil
}

func (r *repl) cmdWrite(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: write <addr> <text>")
	}

	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	return r.file.Write(addr, []byte(strings.Join(args[1:], " ")))
}

func (r *repl) cmdRead(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: read <addr> <len>")
	}

	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		return fmt.Errorf("bad length %q", args[1])
	}

	buf := make([]byte, n)
	if err := r.file.Read(addr, buf); err != nil {
		return err
	}

	fmt.Fprint(r.out, hex.Dump(buf))

	return nil
}

func (r *repl) cmdFill(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: fill <addr> <len> <byte>")
	}

	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		return fmt.Errorf("bad length %q", args[1])
	}

	b, err := strconv.ParseUint(args[2], 0, 8)
	if err != nil {
		return fmt.Errorf("bad byte %q", args[2])
	}

	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(b)
	}

	return r.file.Write(addr, buf)
}

func (r *repl) cmdEOA(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "eoa=%d eof=%d\n", r.file.EOA(), r.file.EOF())

		return nil
	}

	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	return r.file.SetEOA(addr)
}

func (r *repl) cmdRegions() error {
	regions := r.file.Regions()
	if len(regions) == 0 {
		fmt.Fprintln(r.out, "no dirty regions")

		return nil
	}

	for _, reg := range regions {
		fmt.Fprintf(r.out, "[%d, %d] (%d bytes)\n", reg[0], reg[1], reg[1]-reg[0]+1)
	}

	return nil
}

func (r *repl) cmdDump(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: dump <path>")
	}

	if err := r.fsys.WriteFileAtomic(args[0], r.file.Image()); err != nil {
		return err
	}

	r.logger.Info("dumped image", "path", args[0], "bytes", r.file.EOF())

	return nil
}

func (r *repl) cmdStats() error {
	reg, arr, blk, fac := freelist.FreedBytes()

	fmt.Fprintf(r.out, "free lists parked bytes: regular=%d array=%d block=%d factory=%d\n",
		reg, arr, blk, fac)
	fmt.Fprintf(r.out, "api lock attempts: %d\n", hdf5.MutexAttemptCount())
	fmt.Fprintf(r.out, "thread id: %d\n", hdf5.ThreadID())

	return nil
}

func (r *repl) cmdInfo() error {
	fmt.Fprintf(r.out, "name=%q eoa=%d eof=%d dirty=%t tracking=%t\n",
		r.file.Name(), r.file.EOA(), r.file.EOF(), r.file.Dirty(), r.file.Tracking())

	return nil
}
