// Package convert holds the Buffer, Image, Content-Stream, Page, and
// Document converters (L2-L6): everything that actually moves pixel and
// content-stream bytes through the color engine adapter.
package convert

import (
	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
	"github.com/ConRes/conres.io-sub001/pkg/engine/policy"
)

// ProfileResolver turns an opaque profile reference (as carried on a
// colorspace.Descriptor or plan chain link) into an open profile handle.
// The buffer converter never decides what bytes back a reference; that is
// the Asset Fetcher + Profile Resolver's job (L9).
type ProfileResolver interface {
	ResolveProfileRef(ref string) (icc.ProfileHandle, error)
}

// Options is the buffer converter's input (§4.3).
type Options struct {
	InputColorSpace  colorspace.Descriptor
	OutputColorSpace colorspace.Descriptor

	// BitsPerComponent is a fallback used for both directions when the
	// direction-specific fields below are zero. Exactly one of
	// {BitsPerComponent, (InputBitsPerComponent and OutputBitsPerComponent)}
	// must be set.
	BitsPerComponent       int
	InputBitsPerComponent  int
	OutputBitsPerComponent int

	InputEndian  colorspace.Endianness
	OutputEndian colorspace.Endianness

	Intent     colorspace.RenderingIntent
	BPCEnabled bool

	IntermediateProfiles []string
	Category             colorspace.Category
}

func (o Options) resolvedBits() (inBits, outBits int, err error) {
	explicitSplit := o.InputBitsPerComponent != 0 || o.OutputBitsPerComponent != 0
	if o.BitsPerComponent != 0 && explicitSplit {
		return 0, 0, errors.Wrap(engineerr.ErrInvalidArgument, "convert: bits_per_component and input/output_bits_per_component are mutually exclusive")
	}
	if explicitSplit {
		if o.InputBitsPerComponent == 0 || o.OutputBitsPerComponent == 0 {
			return 0, 0, errors.Wrap(engineerr.ErrInvalidArgument, "convert: both input and output bits_per_component must be set when either is")
		}
		return o.InputBitsPerComponent, o.OutputBitsPerComponent, nil
	}
	if o.BitsPerComponent == 0 {
		return 0, 0, errors.Wrap(engineerr.ErrInvalidArgument, "convert: no bit depth specified")
	}
	return o.BitsPerComponent, o.BitsPerComponent, nil
}

// Result is the buffer converter's output.
type Result struct {
	OutputBuf      []byte
	InputChannels  int
	OutputChannels int
	PixelCount     int
}

// BufferConverter is the Buffer Converter (L2): convert(input_buf, options)
// -> output_buf + metadata, with a process-local LRU transform cache.
type BufferConverter struct {
	adapter  *icc.Adapter
	resolver ProfileResolver
	cache    *transformCache
}

// NewBufferConverter builds a converter over adapter with a cache of the
// given capacity (§4.3 "LRU with configurable capacity").
func NewBufferConverter(adapter *icc.Adapter, resolver ProfileResolver, cacheCapacity int) *BufferConverter {
	return &BufferConverter{
		adapter:  adapter,
		resolver: resolver,
		cache:    newTransformCache(adapter, cacheCapacity),
	}
}

// Close releases every transform the converter's cache holds.
func (c *BufferConverter) Close() {
	c.cache.Close()
}

// SetResolver swaps the converter's profile resolver, dropping every
// compiled transform the cache currently holds. A cached transform's
// handles were opened by resolving a profile_ref through the previous
// resolver; under a different resolver the same ref string can legitimately
// name a different stream (e.g. the same object number in a different
// document context), so a stale cache entry cannot be trusted across the
// swap.
func (c *BufferConverter) SetResolver(resolver ProfileResolver) {
	c.cache.Close()
	c.resolver = resolver
}

// Convert implements the seven-step contract in §4.3.
func (c *BufferConverter) Convert(input []byte, opts Options) (Result, error) {
	inBits, outBits, err := opts.resolvedBits()
	if err != nil {
		return Result{}, err
	}
	if inBits == 16 && opts.InputEndian == colorspace.EndiannessNone {
		return Result{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: 16-bit input requires endianness")
	}
	if inBits == 32 && opts.InputEndian != colorspace.EndiannessNone {
		return Result{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: 32-bit float input forbids endianness")
	}

	desc := colorspace.ConversionDescriptor{
		InputColorSpace:      opts.InputColorSpace,
		InputBits:            inBits,
		InputEndian:          opts.InputEndian,
		OutputColorSpace:     opts.OutputColorSpace,
		OutputBits:           outBits,
		OutputEndian:         opts.OutputEndian,
		Intent:               opts.Intent,
		BPCEnabled:           opts.BPCEnabled,
		IntermediateProfiles: opts.IntermediateProfiles,
		Category:             opts.Category,
	}
	plan, err := policy.Evaluate(desc)
	if err != nil {
		return Result{}, err
	}

	inChannels := plan.EngineInputFormat.Channels()
	if inChannels <= 0 {
		return Result{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: input color space has no fixed channel count")
	}
	inBytesPerPixel := inChannels * (plan.EngineInputFormat.Bits / 8)
	if inBytesPerPixel <= 0 || len(input)%inBytesPerPixel != 0 {
		return Result{}, errors.Wrap(engineerr.ErrBufferMisaligned, "convert: input buffer length is not a multiple of channel count * pixel size")
	}
	pixelCount := len(input) / inBytesPerPixel

	handle, err := c.cache.getOrCreate(plan.Key(), plan.HasFlag(colorspace.FlagNoCache), func() (icc.TransformHandle, error) {
		return c.compile(plan)
	})
	if err != nil {
		return Result{}, err
	}

	outChannels := plan.EngineOutputFormat.Channels()
	outBytesPerPixel := outChannels * (plan.EngineOutputFormat.Bits / 8)
	outBuf := make([]byte, pixelCount*outBytesPerPixel)

	if err := c.adapter.ApplyTransform(handle, input, outBuf, pixelCount); err != nil {
		return Result{}, err
	}

	if plan.HasFlag(colorspace.FlagNoCache) {
		_ = c.adapter.Close(handle)
	}

	return Result{
		OutputBuf:      outBuf,
		InputChannels:  inChannels,
		OutputChannels: outChannels,
		PixelCount:     pixelCount,
	}, nil
}

func (c *BufferConverter) compile(plan colorspace.Plan) (icc.TransformHandle, error) {
	chain := make([]icc.ProfileHandle, len(plan.ProfileChain))
	for i, link := range plan.ProfileChain {
		switch {
		case link.IsLab:
			h, err := c.adapter.BuiltinProfile(icc.BuiltinLabD50)
			if err != nil {
				return 0, err
			}
			chain[i] = h
		case link.IsGray:
			h, err := c.adapter.BuiltinProfile(icc.BuiltinSGray)
			if err != nil {
				return 0, err
			}
			chain[i] = h
		default:
			h, err := c.resolver.ResolveProfileRef(link.ProfileRef)
			if err != nil {
				return 0, err
			}
			chain[i] = h
		}
	}

	intent := colorspace.IntentRelativeColorimetric
	if len(plan.IntentPerLink) > 0 {
		intent = plan.IntentPerLink[0]
	}

	return c.adapter.CreateMultiprofileTransform(chain, plan.EngineInputFormat, plan.EngineOutputFormat, intent, plan.Flags)
}
