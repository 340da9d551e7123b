package gateway

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-media/build"
	"github.com/wippyai/wasm-media/errors"
	"github.com/wippyai/wasm-media/header"
	"github.com/wippyai/wasm-media/marshal"
	"github.com/wippyai/wasm-media/profile"
)

// ProbeRequest asks the engine to describe a media buffer.
type ProbeRequest struct {
	Input        []byte
	SrcContainer string
	Verbose      int32
}

// ProbeResult holds the detected stream properties.
type ProbeResult struct {
	Header header.Header
}

// TranscodeRequest converts a media buffer to another container and codec.
type TranscodeRequest struct {
	Input        []byte
	SrcContainer string
	DstContainer string
	// DstCodec is passed as a null pointer when absent.
	DstCodec marshal.String
	// Options are muxer options for the destination container. Builds
	// whose transcode takes no options reject a non-empty map.
	Options marshal.Options
	Verbose int32
}

// EncodeRequest encodes raw samples and muxes them with a profile.
type EncodeRequest struct {
	Input      []byte
	SampleRate int32
	Channels   int32
	Profile    profile.Code
}

// ModifyRequest re-encodes a buffer in place with a profile.
type ModifyRequest struct {
	Input   []byte
	Profile profile.Code
}

// Result is an operation's output, copied out of engine memory.
type Result struct {
	Data []byte
	// Header is zero for operations without a result record.
	Header header.Header
}

// Probe reports the stream properties of req.Input.
func (g *Gateway) Probe(ctx context.Context, req ProbeRequest) (*ProbeResult, error) {
	var res *ProbeResult
	err := g.run(ctx, build.OpProbe, len(req.Input), func(c *call) (int, error) {
		in, n, err := c.input(req.Input, false)
		if err != nil {
			return 0, err
		}
		src, err := marshal.CString(c.sess, req.SrcContainer)
		if err != nil {
			return 0, err
		}

		ret, err := c.invoke(
			api.EncodeU32(in.Ptr),
			api.EncodeU32(n),
			api.EncodeU32(src.Ptr),
			api.EncodeI32(req.Verbose),
		)
		if err != nil {
			return 0, err
		}
		h, err := c.header(uint32(ret), in.Ptr)
		if err != nil {
			return 0, err
		}
		res = &ProbeResult{Header: h}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Transcode converts req.Input. The output is read from the buffer the
// result header points at, or from the input buffer for layouts without
// an out pointer.
func (g *Gateway) Transcode(ctx context.Context, req TranscodeRequest) (*Result, error) {
	var res *Result
	err := g.run(ctx, build.OpTranscode, len(req.Input), func(c *call) (int, error) {
		if len(req.Options) > 0 && c.sig.Arity() < 6 {
			return 0, errors.New(errors.PhaseConfig, errors.KindUnsupported).
				Path(g.build.ID, c.spec.Entry).
				Detail("build %s takes no container options", g.build.ID).
				Build()
		}

		in, n, err := c.input(req.Input, c.spec.InPlaceOutput())
		if err != nil {
			return 0, err
		}
		src, err := marshal.CString(c.sess, req.SrcContainer)
		if err != nil {
			return 0, err
		}
		dst, err := marshal.CString(c.sess, req.DstContainer)
		if err != nil {
			return 0, err
		}
		codec, err := marshal.OptionalString(c.sess, req.DstCodec)
		if err != nil {
			return 0, err
		}
		opts, err := marshal.OptionMap(c.sess, req.Options)
		if err != nil {
			return 0, err
		}

		ret, err := c.invoke(
			api.EncodeU32(in.Ptr),
			api.EncodeU32(n),
			api.EncodeU32(src.Ptr),
			api.EncodeU32(dst.Ptr),
			api.EncodeU32(codec.Ptr),
			api.EncodeU32(opts.Ptr),
			api.EncodeI32(req.Verbose),
		)
		if err != nil {
			return 0, err
		}
		h, err := c.header(uint32(ret), in.Ptr)
		if err != nil {
			return 0, err
		}
		data, err := c.output(in, h)
		if err != nil {
			return 0, err
		}
		res = &Result{Data: data, Header: h}
		return len(data), nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EncodeMux encodes req.Input and muxes it with req.Profile. The engine
// writes its output over the input buffer.
func (g *Gateway) EncodeMux(ctx context.Context, req EncodeRequest) (*Result, error) {
	var res *Result
	err := g.run(ctx, build.OpEncodeMux, len(req.Input), func(c *call) (int, error) {
		if err := g.checkProfile(req.Profile); err != nil {
			return 0, err
		}
		in, n, err := c.input(req.Input, true)
		if err != nil {
			return 0, err
		}

		ret, err := c.invoke(
			api.EncodeU32(in.Ptr),
			api.EncodeU32(n),
			api.EncodeI32(req.SampleRate),
			api.EncodeI32(req.Channels),
			api.EncodeI32(int32(req.Profile)),
		)
		if err != nil {
			return 0, err
		}
		data, err := c.inPlace(in, uint32(ret))
		if err != nil {
			return 0, err
		}
		res = &Result{Data: data}
		return len(data), nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Modify re-encodes req.Input in place with req.Profile.
func (g *Gateway) Modify(ctx context.Context, req ModifyRequest) (*Result, error) {
	var res *Result
	err := g.run(ctx, build.OpModify, len(req.Input), func(c *call) (int, error) {
		if err := g.checkProfile(req.Profile); err != nil {
			return 0, err
		}
		in, n, err := c.input(req.Input, true)
		if err != nil {
			return 0, err
		}

		ret, err := c.invoke(
			api.EncodeU32(in.Ptr),
			api.EncodeU32(n),
			api.EncodeI32(int32(req.Profile)),
		)
		if err != nil {
			return 0, err
		}
		data, err := c.inPlace(in, uint32(ret))
		if err != nil {
			return 0, err
		}
		res = &Result{Data: data}
		return len(data), nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// checkProfile rejects codes outside the build's profile generation. It
// cannot tell whether the engine binary itself agrees.
func (g *Gateway) checkProfile(p profile.Code) error {
	if g.build.Profiles.Supports(p) {
		return nil
	}
	return errors.New(errors.PhaseConfig, errors.KindUnsupported).
		Path(g.build.ID, p.String()).
		Detail("profile %s is not in registry %s", p, g.build.Profiles).
		Value(uint8(p)).
		Build()
}
