package convert

import (
	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// ImageRecord is a detached copy of an image's color-bearing bytes (§4.4,
// §5 "workers see only detached image records copied out of streams"). It
// carries no reference to the live PDF stream dict it was extracted from;
// the page converter (L5) is responsible for extraction and write-back.
type ImageRecord struct {
	ColorSpace       colorspace.Descriptor
	BitsPerComponent int
	Width, Height    int

	// Content holds the decoded (filter-pipeline-reversed) sample bytes for
	// a direct-pixel image, or the unconverted index bytes for an indexed
	// image — indices are never touched by a color conversion.
	Content []byte

	// Palette holds the decoded lookup-table bytes for an indexed image's
	// base color space; empty for direct-pixel images.
	Palette []byte

	// UsesFlate records whether the source stream used Flate so re-encode
	// (performed by the page converter, not here) can match it.
	UsesFlate bool
}

// ImageConvertOptions is the destination side of an image conversion, set by
// the page/document converter from the chain's plan (§4.4 step 3).
type ImageConvertOptions struct {
	DestinationProfileRef  string
	DestinationFamily      colorspace.Family
	IntermediateProfiles   []string
	Intent                 colorspace.RenderingIntent
	BPCEnabled             bool
	OutputBitsPerComponent int // 0 preserves the record's input bit depth
}

// ImageConverter is the Image Converter (L3). It holds no PDF object-model
// dependency: every field it touches is plain bytes, so the same value can
// run inline on the page converter's goroutine or inside a worker (§4.9).
type ImageConverter struct {
	buffers *BufferConverter
}

// NewImageConverter builds an image converter over a buffer converter. Each
// worker in the pool owns its own BufferConverter (and therefore its own
// transform cache), per §4.9's "private transform cache" requirement.
func NewImageConverter(buffers *BufferConverter) *ImageConverter {
	return &ImageConverter{buffers: buffers}
}

// ConvertImage implements convert_image(image_record) -> new_image_record
// (§4.4). Indexed images convert only the palette; direct-pixel images run
// their full content through the buffer converter.
func (c *ImageConverter) ConvertImage(rec ImageRecord, opts ImageConvertOptions) (ImageRecord, error) {
	outBits := opts.OutputBitsPerComponent
	if outBits == 0 {
		outBits = rec.BitsPerComponent
	}

	if rec.ColorSpace.Family == colorspace.FamilyIndexed {
		return c.convertIndexed(rec, opts)
	}
	return c.convertDirect(rec, opts, outBits)
}

func (c *ImageConverter) convertDirect(rec ImageRecord, opts ImageConvertOptions, outBits int) (ImageRecord, error) {
	result, err := c.buffers.Convert(rec.Content, Options{
		InputColorSpace:        rec.ColorSpace,
		OutputColorSpace:       colorspace.Descriptor{Family: opts.DestinationFamily, ProfileRef: opts.DestinationProfileRef},
		InputBitsPerComponent:  rec.BitsPerComponent,
		OutputBitsPerComponent: outBits,
		Intent:                 opts.Intent,
		BPCEnabled:             opts.BPCEnabled,
		IntermediateProfiles:   opts.IntermediateProfiles,
		Category:               colorspace.CategoryImage,
	})
	if err != nil {
		return ImageRecord{}, errors.Wrap(err, "convert: image pixel conversion")
	}

	out := rec
	out.ColorSpace = colorspace.Descriptor{
		Family:     colorspace.FamilyICCBased,
		Channels:   result.OutputChannels,
		ProfileRef: opts.DestinationProfileRef,
	}
	out.BitsPerComponent = outBits
	out.Content = result.OutputBuf
	return out, nil
}

func (c *ImageConverter) convertIndexed(rec ImageRecord, opts ImageConvertOptions) (ImageRecord, error) {
	base := rec.ColorSpace.Base
	if base == nil {
		return ImageRecord{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: indexed image with no base color space")
	}

	result, err := c.buffers.Convert(rec.Palette, Options{
		InputColorSpace:        *base,
		OutputColorSpace:       colorspace.Descriptor{Family: opts.DestinationFamily, ProfileRef: opts.DestinationProfileRef},
		InputBitsPerComponent:  8, // palette entries are always byte components regardless of the index's own bit depth
		OutputBitsPerComponent: 8,
		Intent:                 opts.Intent,
		BPCEnabled:             opts.BPCEnabled,
		Category:               colorspace.CategoryIndexedPalette,
	})
	if err != nil {
		return ImageRecord{}, errors.Wrap(err, "convert: indexed palette conversion")
	}

	newBase := colorspace.Descriptor{
		Family:     colorspace.FamilyICCBased,
		Channels:   result.OutputChannels,
		ProfileRef: opts.DestinationProfileRef,
	}
	out := rec
	out.ColorSpace = colorspace.Descriptor{
		Family: colorspace.FamilyIndexed,
		Base:   &newBase,
		HiVal:  rec.ColorSpace.HiVal,
		Lookup: result.OutputBuf,
	}
	out.Palette = result.OutputBuf
	// Index bytes (rec.Content) and the index's own bit depth are untouched:
	// only the palette's component values changed.
	return out, nil
}
