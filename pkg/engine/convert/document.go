package convert

import (
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
)

// DocumentConversionOptions names the single destination every page, image,
// and content stream in the document converts toward (§4.7 step 2:
// "resolve the destination profile once... broadcast it").
type DocumentConversionOptions struct {
	DestinationProfileBytes []byte
	DestinationFamily       colorspace.Family
	DestinationDescription  string // feeds the /OutputIntents identifier (§4.7 step 5)
	IntermediateProfiles    []string
	Intent                  colorspace.RenderingIntent
	BPCEnabled              bool

	// Pages restricts conversion to this 1-based page-index set; nil/empty
	// converts every page (§4.7 step 3's "page-filter").
	Pages map[int]bool

	// Concurrency bounds how many pages convert at once. 0 means
	// unbounded (one goroutine per page). A worker pool (L8) passed as the
	// ImageDispatcher bounds image conversions separately and leaves this
	// page-level limit as it is.
	Concurrency int
}

// DocumentConverter is the Document Converter (L6): it owns one destination
// profile for the whole document, dispatches every page to L5, and performs
// the document-wide post-processing pass (§4.7).
type DocumentConverter struct {
	ctx     *model.Context
	adapter *icc.Adapter
	images  ImageDispatcher
}

// NewDocumentConverter builds a document converter over a live document. The
// ImageDispatcher is an InlineImageDispatcher or a worker.Pool (L8), which
// implements ImageDispatcher directly and is passed here unchanged (§5's
// "workers see only detached image records").
func NewDocumentConverter(ctx *model.Context, adapter *icc.Adapter, images ImageDispatcher) *DocumentConverter {
	return &DocumentConverter{ctx: ctx, adapter: adapter, images: images}
}

// ConvertColor implements convert_color(document, context) (§4.7).
func (c *DocumentConverter) ConvertColor(opts DocumentConversionOptions, onPageConverted func(int)) error {
	if err := c.ctx.EnsurePageCount(); err != nil {
		return errors.Wrap(err, "convert: determine page count")
	}

	profileHandle, err := c.adapter.OpenProfile(opts.DestinationProfileBytes)
	if err != nil {
		return errors.Wrap(err, "convert: open destination profile")
	}
	defer c.adapter.Close(profileHandle)

	destStreamRef, err := c.internDestinationProfileStream(opts.DestinationProfileBytes)
	if err != nil {
		return errors.Wrap(err, "convert: intern destination profile stream")
	}

	pageOpts := PageConversionOptions{
		DestinationProfileRef: iccProfileRef(destStreamRef.ObjectNumber.Value()),
		DestinationFamily:     opts.DestinationFamily,
		IntermediateProfiles:  opts.IntermediateProfiles,
		Intent:                opts.Intent,
		BPCEnabled:            opts.BPCEnabled,
	}

	resolver := NewDocumentProfileResolver(c.ctx.XRefTable, c.adapter)
	buffers := NewBufferConverter(c.adapter, resolver, 32)
	defer buffers.Close()

	images := c.images
	if images == nil {
		images = InlineImageDispatcher{Images: NewImageConverter(buffers)}
	}
	content := NewContentStreamConverter(OperandConverterFor(buffers, ImageConvertOptions{
		DestinationProfileRef: pageOpts.DestinationProfileRef,
		DestinationFamily:     opts.DestinationFamily,
		IntermediateProfiles:  opts.IntermediateProfiles,
		Intent:                opts.Intent,
		BPCEnabled:            opts.BPCEnabled,
	}), destinationResourceName)

	if err := c.convertPages(pageOpts, images, content, opts, onPageConverted); err != nil {
		return err
	}

	return c.postProcess(opts, destStreamRef)
}

const destinationResourceName = "ConvertedICC"

func (c *DocumentConverter) convertPages(pageOpts PageConversionOptions, images ImageDispatcher, content *ContentStreamConverter, opts DocumentConversionOptions, onPageConverted func(int)) error {
	pc := NewPageConverter(c.ctx.XRefTable, images, content)

	limit := opts.Concurrency
	if limit <= 0 {
		limit = c.ctx.PageCount
	}
	if limit <= 0 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for page := 1; page <= c.ctx.PageCount; page++ {
		if opts.Pages != nil && len(opts.Pages) > 0 && !opts.Pages[page] {
			continue
		}
		page := page
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := pc.ConvertPage(page, pageOpts, onPageConverted); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// internDestinationProfileStream writes the destination ICC profile bytes
// into the document exactly once as a plain (uncompressed) stream object,
// returning the indirect reference every ICCBased color-space node this
// conversion installs will point at.
func (c *DocumentConverter) internDestinationProfileStream(profileBytes []byte) (*types.IndirectRef, error) {
	return InternICCProfileStream(c.ctx.XRefTable, profileBytes)
}

// InternICCProfileStream writes profileBytes into xRefTable exactly once as
// a plain (uncompressed) stream object carrying an /N entry, returning the
// indirect reference an ICCBased color-space array (or an
// convert.ICCProfileRef-formatted profile_ref) can point at. Shared between
// the document converter's own destination-profile interning and the
// scheduler's interning of a manifest-resolved intermediate profile into
// whichever context (original or cloned) a chain is about to execute
// against — both need the same "bytes in, document-backed ref out" step.
func InternICCProfileStream(xRefTable *model.XRefTable, profileBytes []byte) (*types.IndirectRef, error) {
	sd, err := xRefTable.NewStreamDictForBuf(profileBytes)
	if err != nil {
		return nil, err
	}
	sd.InsertInt("N", iccComponentCount(profileBytes))
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return xRefTable.IndRefForNewObject(*sd)
}

// iccComponentCount is a coarse best-effort read of an ICC profile header's
// color-space signature (bytes 16-19) to populate /N without depending on
// the L0 adapter for something this shallow.
func iccComponentCount(profileBytes []byte) int {
	if len(profileBytes) < 20 {
		return 3
	}
	switch string(profileBytes[16:20]) {
	case "GRAY":
		return 1
	case "CMYK":
		return 4
	default:
		return 3
	}
}

// postProcess implements §4.7 step 5: retag every CalGray/CalRGB/Lab
// color-space node to the destination ICCBased array (an ICCBased alternate
// the node may already name is not looked for), retarget transparency group
// blending spaces, and install a single /OutputIntents entry.
func (c *DocumentConverter) postProcess(opts DocumentConversionOptions, destStreamRef *types.IndirectRef) error {
	if err := c.rewriteCalibratedColorSpaces(destStreamRef); err != nil {
		return errors.Wrap(err, "convert: rewrite calibrated color spaces")
	}
	if err := c.rewriteTransparencyGroups(opts.DestinationFamily); err != nil {
		return errors.Wrap(err, "convert: rewrite transparency groups")
	}
	return c.installOutputIntent(opts, destStreamRef)
}

func (c *DocumentConverter) rewriteCalibratedColorSpaces(destStreamRef *types.IndirectRef) error {
	iccArr := iccBasedArray(*destStreamRef)
	for _, entry := range c.ctx.XRefTable.Table {
		if entry == nil || entry.Free || entry.Object == nil {
			continue
		}
		d, ok := asDict(entry.Object)
		if !ok {
			continue
		}
		for _, key := range []string{"ColorSpace", "CS"} {
			arr := d.ArrayEntry(key)
			if arr == nil || len(arr) == 0 {
				continue
			}
			name, ok := arr[0].(types.Name)
			if !ok {
				continue
			}
			switch string(name) {
			case "CalGray", "CalRGB", "Lab":
				d.Update(key, iccArr)
			}
		}
	}
	return nil
}

func (c *DocumentConverter) rewriteTransparencyGroups(destFamily colorspace.Family) error {
	name, err := deviceFamilyName(destFamily)
	if err != nil {
		return err
	}
	for page := 1; page <= c.ctx.PageCount; page++ {
		pageDict, _, _, err := c.ctx.XRefTable.PageDict(page, false)
		if err != nil || pageDict == nil {
			continue
		}
		group, err := resolveDictEntry(c.ctx.XRefTable, pageDict, "Group")
		if err != nil || group == nil {
			continue
		}
		if st := group.NameEntry("S"); st == nil || *st != "Transparency" {
			continue
		}
		group.Update("CS", types.Name(name))
	}
	return nil
}

func deviceFamilyName(f colorspace.Family) (string, error) {
	switch f {
	case colorspace.FamilyDeviceGray:
		return "DeviceGray", nil
	case colorspace.FamilyDeviceRGB:
		return "DeviceRGB", nil
	case colorspace.FamilyDeviceCMYK:
		return "DeviceCMYK", nil
	default:
		return "", errors.Wrap(engineerr.ErrInvalidArgument, "convert: destination family has no device color space name")
	}
}

// installOutputIntent writes a single /OutputIntents array on the document
// catalog (replacing any prior entry) naming the destination profile.
func (c *DocumentConverter) installOutputIntent(opts DocumentConversionOptions, destStreamRef *types.IndirectRef) error {
	catalog, err := c.ctx.XRefTable.Catalog()
	if err != nil {
		return err
	}

	identifier := opts.DestinationDescription
	if identifier == "" {
		identifier = "Converted Output Profile"
	}

	outputIntentDict := types.Dict{
		"Type":                      types.Name("OutputIntent"),
		"S":                         types.Name("GTS_PDFX"),
		"OutputConditionIdentifier": types.StringLiteral(identifier),
		"Info":                      types.StringLiteral(identifier),
		"DestOutputProfile":         *destStreamRef,
	}
	indRef, err := c.ctx.XRefTable.IndRefForNewObject(outputIntentDict)
	if err != nil {
		return err
	}

	catalog.Update("OutputIntents", types.Array{*indRef})
	return nil
}

func asDict(o types.Object) (types.Dict, bool) {
	switch v := o.(type) {
	case types.Dict:
		return v, true
	case types.StreamDict:
		return v.Dict, true
	default:
		return nil, false
	}
}
