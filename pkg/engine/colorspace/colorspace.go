// Package colorspace holds the shared data model every engine layer speaks:
// color-space descriptors, pixel formats, conversion descriptors and plans,
// and the rendering-intent enumeration. Nothing here touches I/O or the PDF
// object model directly; layers above translate to and from it.
package colorspace

import "fmt"

// Family names the color-space families a descriptor can belong to.
type Family int

const (
	FamilyDeviceGray Family = iota
	FamilyDeviceRGB
	FamilyDeviceCMYK
	FamilyCalGray
	FamilyCalRGB
	FamilyLab
	FamilyICCBased
	FamilyIndexed
	FamilyDeviceN
	FamilySeparation
	FamilyPattern
)

func (f Family) String() string {
	switch f {
	case FamilyDeviceGray:
		return "DeviceGray"
	case FamilyDeviceRGB:
		return "DeviceRGB"
	case FamilyDeviceCMYK:
		return "DeviceCMYK"
	case FamilyCalGray:
		return "CalGray"
	case FamilyCalRGB:
		return "CalRGB"
	case FamilyLab:
		return "Lab"
	case FamilyICCBased:
		return "ICCBased"
	case FamilyIndexed:
		return "Indexed"
	case FamilyDeviceN:
		return "DeviceN"
	case FamilySeparation:
		return "Separation"
	case FamilyPattern:
		return "Pattern"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Descriptor is a PDF color-space descriptor, tagged by Family. Only the
// fields relevant to the Family are populated; this mirrors the PDFObject /
// ColorSpaceDescriptor tagged-variant shape rather than a class hierarchy.
type Descriptor struct {
	Family Family

	// CalGray / CalRGB / Lab parameters.
	WhitePoint [3]float64
	BlackPoint [3]float64
	Gamma      []float64 // CalGray: len 1; CalRGB: len 3
	Matrix     [9]float64
	LabRange   [4]float64 // amin, amax, bmin, bmax

	// ICCBased.
	Channels   int
	ProfileRef string // opaque reference into the host document, resolved by the caller

	// Indexed.
	Base   *Descriptor
	HiVal  int
	Lookup []byte

	// DeviceN / Separation.
	Names         []string
	TintTransform string // opaque function reference, not evaluated here
	Alternate     *Descriptor
}

// HasProfile reports whether the descriptor names an ICC-backed family, i.e.
// one the policy layer can source a profile handle for.
func (d Descriptor) HasProfile() bool {
	return d.Family == FamilyICCBased
}

// NumComponents returns the number of color components implied by the
// descriptor's family, or 0 when the family carries no fixed component count
// (e.g. Pattern, or Indexed whose components come from its Base).
func (d Descriptor) NumComponents() int {
	switch d.Family {
	case FamilyDeviceGray, FamilyCalGray:
		return 1
	case FamilyDeviceRGB, FamilyCalRGB, FamilyLab:
		return 3
	case FamilyDeviceCMYK:
		return 4
	case FamilyICCBased:
		return d.Channels
	case FamilyIndexed:
		return 1
	case FamilyDeviceN:
		return len(d.Names)
	case FamilySeparation:
		return 1
	default:
		return 0
	}
}

// Category classifies the kind of object a conversion descriptor describes,
// per the data model's "category" field.
type Category int

const (
	CategoryImage Category = iota
	CategoryContentStream
	CategoryIndexedPalette
)

func (c Category) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryContentStream:
		return "content_stream"
	case CategoryIndexedPalette:
		return "indexed_palette"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Endianness applies to 16-bit pixel formats only.
type Endianness int

const (
	EndiannessNone Endianness = iota
	EndiannessBig
	EndiannessLittle
)

// RenderingIntent enumerates the four ICC intents plus the engine's custom
// preserve-K-only GCR intent.
type RenderingIntent int

const (
	IntentPerceptual RenderingIntent = iota
	IntentRelativeColorimetric
	IntentSaturation
	IntentAbsoluteColorimetric
	IntentPreserveKOnlyRelativeGCR
)

func (i RenderingIntent) String() string {
	switch i {
	case IntentPerceptual:
		return "Perceptual"
	case IntentRelativeColorimetric:
		return "RelativeColorimetric"
	case IntentSaturation:
		return "Saturation"
	case IntentAbsoluteColorimetric:
		return "AbsoluteColorimetric"
	case IntentPreserveKOnlyRelativeGCR:
		return "PreserveKOnlyRelativeGCR"
	default:
		return fmt.Sprintf("RenderingIntent(%d)", int(i))
	}
}

// Flag is a bit in the plan's flag bitset (§3 "Conversion plan").
type Flag uint32

const (
	FlagBPC Flag = 1 << iota
	FlagMultiprofileBPCScaling
	FlagNoCache
	FlagAdaptiveBPCClamping
)

// PixelFormat is the (color_type, bits_per_component, endianness) triple the
// engine adapter and buffer converter speak.
type PixelFormat struct {
	ColorType Family
	Bits      int // 8, 16, or 32 (float)
	Endian    Endianness
	// NumChannels overrides the family-implied component count; required
	// for ICCBased formats, whose channel count is not determined by the
	// family alone. Zero means "derive from ColorType".
	NumChannels int
}

// Channels returns the pixel format's component count.
func (f PixelFormat) Channels() int {
	if f.NumChannels != 0 {
		return f.NumChannels
	}
	return Descriptor{Family: f.ColorType}.NumComponents()
}

// ConversionDescriptor is the policy layer's input (§3 "Conversion descriptor").
type ConversionDescriptor struct {
	InputColorSpace  Descriptor
	InputBits        int
	InputEndian      Endianness
	OutputColorSpace Descriptor
	OutputBits       int
	OutputEndian     Endianness
	Intent           RenderingIntent
	BPCEnabled       bool
	// IntermediateProfiles, when non-empty, overrides the policy's own
	// intermediate-injection rule (§4.2 "Intermediate injection").
	IntermediateProfiles []string
	Category             Category
}

// ProfileChainLink names one profile in a conversion plan's chain: either an
// opaque profile reference resolved by the caller, or one of the engine's two
// profile-less PCS-native sentinels (Lab, sGray).
type ProfileChainLink struct {
	ProfileRef string
	IsLab      bool
	IsGray     bool // DeviceGray/CalGray with no embedded ICC profile behind it
}

// Plan is the policy layer's output (§3 "Conversion plan").
type Plan struct {
	EngineInputFormat  PixelFormat
	EngineOutputFormat PixelFormat
	ProfileChain       []ProfileChainLink
	IntentPerLink      []RenderingIntent
	Flags              Flag
	NeedsMultiprofile  bool
}

// HasFlag reports whether f is set in the plan's flag bitset.
func (p Plan) HasFlag(f Flag) bool {
	return p.Flags&f != 0
}

// CacheKey identifies a compiled transform (§3 "Transform cache key"). Built
// from only the fields that determine the compiled transform's behavior, not
// the whole Plan, so equivalent plans produced by different callers share a
// cache entry.
type CacheKey struct {
	ProfileChain string // joined ProfileChainLink refs, order-sensitive
	IntentChain  string // joined RenderingIntent values, order-sensitive
	Flags        Flag
	InputFormat  PixelFormat
	OutputFormat PixelFormat
}

// Key builds the cache key for a plan.
func (p Plan) Key() CacheKey {
	profileChain := ""
	for i, link := range p.ProfileChain {
		if i > 0 {
			profileChain += ">"
		}
		switch {
		case link.IsLab:
			profileChain += "lab"
		case link.IsGray:
			profileChain += "sgray"
		default:
			profileChain += link.ProfileRef
		}
	}
	intentChain := ""
	for i, intent := range p.IntentPerLink {
		if i > 0 {
			intentChain += ">"
		}
		intentChain += intent.String()
	}
	return CacheKey{
		ProfileChain: profileChain,
		IntentChain:  intentChain,
		Flags:        p.Flags,
		InputFormat:  p.EngineInputFormat,
		OutputFormat: p.EngineOutputFormat,
	}
}
