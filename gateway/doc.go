// Package gateway runs the engine's media operations on a Handle.
//
// Each operation opens one marshaling session, writes its inputs into
// engine memory in the entry point's argument order, calls the entry
// point, decodes the result and copies the output bytes into Go memory.
// The session is released on every path, including engine failures and
// traps, so a handle's arena is empty between calls.
//
// Which entry point, argument count, result convention and header layout
// an operation uses is taken from the handle's build:
//
//	gw := gateway.New(h)
//	res, err := gw.Transcode(ctx, gateway.TranscodeRequest{
//	    Input:        wav,
//	    SrcContainer: "wav",
//	    DstContainer: "ogg",
//	    DstCodec:     marshal.Some("libopus"),
//	})
//
// A Gateway inherits the Handle's concurrency rules: one call at a time.
// Overlapping calls fail with a KindBusy error.
package gateway
