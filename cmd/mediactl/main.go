package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kr/pretty"
	"golang.org/x/term"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/engine"
	"github.com/wippyai/wasm-media/gateway"
)

func main() {
	var (
		enginePath  = flag.String("engine", "", "Path to the engine wasm (plain, zstd, gzip or lz4)")
		buildID     = flag.String("build", build.DefaultID, "Engine build")
		opName      = flag.String("op", "", "Operation: probe, transcode, encode, modify")
		inPath      = flag.String("in", "", "Input file")
		outPath     = flag.String("out", "", "Output file (- for stdout)")
		src         = flag.String("src", "", "Source container")
		dst         = flag.String("dst", "", "Destination container")
		codec       = flag.String("codec", "", "Destination codec (omit to let the engine choose)")
		opts        = flag.String("opts", "", "Destination container options (k:v,k:v)")
		profileName = flag.String("profile", "", "Output profile for encode and modify")
		rate        = flag.Int("rate", 48000, "Sample rate for encode")
		channels    = flag.Int("channels", 1, "Channel count for encode")
		memoryMiB   = flag.Uint64("memory", 128, "Engine memory budget in MiB")
		cacheDir    = flag.String("cache", "", "Compilation cache directory")
		verbose     = flag.Bool("v", false, "Verbose engine and host logging")
		list        = flag.Bool("list", false, "List builds and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *list {
		listBuilds()
		return
	}

	if *enginePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: mediactl -engine <engine.wasm> -op <op> -in <file> [-out <file>] [flags]")
		fmt.Fprintln(os.Stderr, "       mediactl -engine <engine.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       mediactl -list")
		os.Exit(1)
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	engine.SetLogger(log)

	cfg := &engine.Config{
		Logger:             log,
		Stderr:             os.Stderr,
		CacheDir:           *cacheDir,
		InitialMemoryBytes: *memoryMiB << 20,
	}
	if *verbose {
		cfg.Stdout = os.Stderr
	}

	if *interactive {
		if err := runInteractive(*enginePath, *buildID, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	op, err := parseOp(*opName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	r := request{
		op:       op,
		src:      *src,
		dst:      *dst,
		codec:    *codec,
		opts:     *opts,
		profile:  *profileName,
		rate:     *rate,
		channels: *channels,
	}
	if *verbose {
		r.verbose = 1
	}

	if err := run(*enginePath, *buildID, *inPath, *outPath, cfg, r); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(enginePath, buildID, inPath, outPath string, cfg *engine.Config, r request) error {
	ctx := context.Background()

	if inPath == "" {
		return fmt.Errorf("-in is required")
	}
	input, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	r.input = input

	rt, h, err := openHandle(ctx, enginePath, buildID, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)
	defer h.Close(ctx)

	gw := gateway.New(h, gateway.WithLogger(cfg.Logger))
	res, err := execute(ctx, gw, r)
	if err != nil {
		return fmt.Errorf("%s: %w", r.op, err)
	}

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	if res.probed || res.header.Present != 0 {
		out := os.Stdout
		if !tty && outPath == "" {
			out = os.Stderr
		}
		fmt.Fprintf(out, "%s on %s:\n%# v\n", r.op, h.Build(), pretty.Formatter(res.header))
	}
	if res.probed {
		return nil
	}

	switch {
	case outPath != "":
		return writeOutput(outPath, res.data)
	case !tty:
		return writeOutput("-", res.data)
	default:
		fmt.Printf("%d bytes of output; use -out to save them\n", len(res.data))
		return nil
	}
}

func listBuilds() {
	for _, id := range build.IDs() {
		b, _ := build.Lookup(id)
		marker := " "
		if id == build.DefaultID {
			marker = "*"
		}
		fmt.Printf("%s %s  profiles %s\n", marker, id, b.Profiles)
		for _, op := range build.Ops() {
			spec, err := b.Op(op)
			if err != nil {
				continue
			}
			sig, _ := b.Signature(spec.Entry)
			layout := ""
			if spec.Convention == build.Header {
				layout = " " + spec.Layout.String()
			}
			fmt.Printf("    %-10s %-13s %d args, %s%s\n", op, spec.Entry, sig.Arity(), spec.Convention, layout)
		}
	}
}
