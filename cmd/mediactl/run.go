package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/engine"
	"github.com/wippyai/wasm-media/gateway"
	"github.com/wippyai/wasm-media/header"
	"github.com/wippyai/wasm-media/marshal"
)

// request is one operation as given on the command line or in the TUI.
type request struct {
	op       build.Op
	input    []byte
	src      string
	dst      string
	codec    string
	opts     string
	profile  string
	rate     int
	channels int
	verbose  int32
}

type response struct {
	data   []byte
	header header.Header
	probed bool
}

var opAliases = map[string]build.Op{
	"probe":      build.OpProbe,
	"transcode":  build.OpTranscode,
	"encode":     build.OpEncodeMux,
	"encode+mux": build.OpEncodeMux,
	"encode_mux": build.OpEncodeMux,
	"modify":     build.OpModify,
}

func parseOp(s string) (build.Op, error) {
	op, ok := opAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown operation %q (probe, transcode, encode, modify)", s)
	}
	return op, nil
}

// openHandle loads the engine binary at path and instantiates it.
func openHandle(ctx context.Context, path, buildID string, cfg *engine.Config) (*engine.Runtime, *engine.Handle, error) {
	b := build.Default()
	if buildID != "" {
		var err error
		if b, err = build.Lookup(buildID); err != nil {
			return nil, nil, err
		}
	}

	wasm, err := engine.ReadModule(path)
	if err != nil {
		return nil, nil, err
	}

	rt, err := engine.NewRuntime(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create runtime: %w", err)
	}
	eng, err := rt.Load(ctx, wasm, b)
	if err != nil {
		rt.Close(ctx)
		return nil, nil, err
	}
	h, err := eng.NewHandle(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, nil, err
	}
	return rt, h, nil
}

func execute(ctx context.Context, gw *gateway.Gateway, r request) (*response, error) {
	switch r.op {
	case build.OpProbe:
		res, err := gw.Probe(ctx, gateway.ProbeRequest{
			Input:        r.input,
			SrcContainer: r.src,
			Verbose:      r.verbose,
		})
		if err != nil {
			return nil, err
		}
		return &response{header: res.Header, probed: true}, nil

	case build.OpTranscode:
		opts, err := marshal.ParseOptions(r.opts)
		if err != nil {
			return nil, err
		}
		codec := marshal.None
		if r.codec != "" {
			codec = marshal.Some(r.codec)
		}
		res, err := gw.Transcode(ctx, gateway.TranscodeRequest{
			Input:        r.input,
			SrcContainer: r.src,
			DstContainer: r.dst,
			DstCodec:     codec,
			Options:      opts,
			Verbose:      r.verbose,
		})
		if err != nil {
			return nil, err
		}
		return &response{data: res.Data, header: res.Header}, nil

	case build.OpEncodeMux, build.OpModify:
		code, ok := gw.Build().Profiles.Lookup(r.profile)
		if !ok {
			return nil, fmt.Errorf("unknown profile %q for %s (one of %s)",
				r.profile, gw.Build().ID, strings.Join(gw.Build().Profiles.Names(), ", "))
		}
		var (
			res *gateway.Result
			err error
		)
		if r.op == build.OpModify {
			res, err = gw.Modify(ctx, gateway.ModifyRequest{Input: r.input, Profile: code})
		} else {
			res, err = gw.EncodeMux(ctx, gateway.EncodeRequest{
				Input:      r.input,
				SampleRate: int32(r.rate),
				Channels:   int32(r.channels),
				Profile:    code,
			})
		}
		if err != nil {
			return nil, err
		}
		return &response{data: res.Data}, nil
	}
	return nil, fmt.Errorf("unsupported operation %s", r.op)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	return zap.NewDevelopment()
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
