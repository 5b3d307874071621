// Package policy is the Conversion Policy (L1): a pure, stateless decision
// function from a conversion descriptor to a conversion plan. It performs no
// I/O and holds no state; every plan is reproducible from its descriptor.
package policy

import (
	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// Evaluate turns a conversion descriptor into a conversion plan by applying
// the rule categories of §4.2 in priority order: format selection,
// intermediate injection, flag composition, fallbacks.
func Evaluate(d colorspace.ConversionDescriptor) (colorspace.Plan, error) {
	plan := colorspace.Plan{}

	inFmt, err := selectFormat(d.InputColorSpace.Family, d.InputBits, d.InputEndian)
	if err != nil {
		return plan, err
	}
	outFmt, err := selectFormat(d.OutputColorSpace.Family, d.OutputBits, d.OutputEndian)
	if err != nil {
		return plan, err
	}
	plan.EngineInputFormat = inFmt
	plan.EngineOutputFormat = outFmt

	intent := resolveIntentFallback(d)

	chain, needsMultiprofile := buildProfileChain(d)
	plan.ProfileChain = chain
	plan.NeedsMultiprofile = needsMultiprofile

	intentPerLink := make([]colorspace.RenderingIntent, len(chain))
	for i := range intentPerLink {
		intentPerLink[i] = intent
	}
	plan.IntentPerLink = intentPerLink

	plan.Flags = composeFlags(d)

	return plan, nil
}

// selectFormat picks the engine pixel format for one side of the
// conversion, validating and normalizing the bit depth and endianness.
func selectFormat(family colorspace.Family, bits int, endian colorspace.Endianness) (colorspace.PixelFormat, error) {
	switch bits {
	case 1, 2, 4:
		// Sub-byte depths are always upsampled to 8-bit before the engine
		// call; the policy reports the post-upsample format.
		bits = 8
		endian = colorspace.EndiannessNone
	case 8:
		endian = colorspace.EndiannessNone
	case 16:
		if endian == colorspace.EndiannessNone {
			return colorspace.PixelFormat{}, errors.Wrap(engineerr.ErrInvalidArgument, "policy: 16-bit format requires explicit endianness")
		}
	case 32:
		if endian != colorspace.EndiannessNone {
			return colorspace.PixelFormat{}, errors.Wrap(engineerr.ErrInvalidArgument, "policy: 32-bit float format forbids endianness")
		}
	default:
		return colorspace.PixelFormat{}, errors.Wrapf(engineerr.ErrInvalidArgument, "policy: unsupported bit depth %d", bits)
	}

	channels := colorspace.Descriptor{Family: family}.NumComponents()
	return colorspace.PixelFormat{
		ColorType:   family,
		Bits:        bits,
		Endian:      endian,
		NumChannels: channels,
	}, nil
}

// resolveIntentFallback applies the Lab/K-only-GCR fallback rule: Lab inputs
// under the custom K-only GCR intent fall back to Relative Colorimetric,
// since GCR's gray-component-replacement model is defined in terms of a
// device ink set Lab does not have.
func resolveIntentFallback(d colorspace.ConversionDescriptor) colorspace.RenderingIntent {
	if d.Intent == colorspace.IntentPreserveKOnlyRelativeGCR && d.InputColorSpace.Family == colorspace.FamilyLab {
		return colorspace.IntentRelativeColorimetric
	}
	return d.Intent
}

// buildProfileChain decides whether an intermediate working-space profile
// is needed and assembles the profile_chain's reference list. Indexed
// palettes never use a multiprofile chain: the policy forces palette-only
// conversion down the standard two-profile buffer path regardless of what
// the descriptor's family pairing would otherwise suggest.
func buildProfileChain(d colorspace.ConversionDescriptor) ([]colorspace.ProfileChainLink, bool) {
	srcRef := chainLinkFor(d.InputColorSpace)
	dstRef := chainLinkFor(d.OutputColorSpace)

	if d.Category == colorspace.CategoryIndexedPalette {
		return []colorspace.ProfileChainLink{srcRef, dstRef}, false
	}

	if len(d.IntermediateProfiles) > 0 {
		chain := make([]colorspace.ProfileChainLink, 0, len(d.IntermediateProfiles)+2)
		chain = append(chain, srcRef)
		for _, ref := range d.IntermediateProfiles {
			chain = append(chain, colorspace.ProfileChainLink{ProfileRef: ref})
		}
		chain = append(chain, dstRef)
		return chain, true
	}

	if needsIntermediate(d) {
		// The destination's own profile doubles as the intermediate
		// working space: this is the common "convert via destination
		// gamut" shape used for Gray<->CMYK K-only GCR and RGB<->CMYK
		// with black-point-compensation scaling.
		return []colorspace.ProfileChainLink{srcRef, dstRef, dstRef}, true
	}

	return []colorspace.ProfileChainLink{srcRef, dstRef}, false
}

// chainLinkFor builds a profile chain link for one side of a conversion.
// DeviceGray/CalGray without a profile reference route through the engine's
// profile-less sGray sentinel rather than an empty profile reference.
func chainLinkFor(d colorspace.Descriptor) colorspace.ProfileChainLink {
	switch {
	case d.Family == colorspace.FamilyLab:
		return colorspace.ProfileChainLink{IsLab: true}
	case (d.Family == colorspace.FamilyDeviceGray || d.Family == colorspace.FamilyCalGray) && d.ProfileRef == "":
		return colorspace.ProfileChainLink{IsGray: true}
	default:
		return colorspace.ProfileChainLink{ProfileRef: d.ProfileRef}
	}
}

func needsIntermediate(d colorspace.ConversionDescriptor) bool {
	srcFamily, dstFamily := familyGroup(d.InputColorSpace.Family), familyGroup(d.OutputColorSpace.Family)
	if srcFamily == dstFamily {
		return false
	}

	grayCMYKWithGCR := (srcFamily == groupGray && dstFamily == groupCMYK || srcFamily == groupCMYK && dstFamily == groupGray) &&
		d.Intent == colorspace.IntentPreserveKOnlyRelativeGCR
	rgbCMYKWithBPC := (srcFamily == groupRGB && dstFamily == groupCMYK || srcFamily == groupCMYK && dstFamily == groupRGB) && d.BPCEnabled

	return grayCMYKWithGCR || rgbCMYKWithBPC
}

type familyGroupKind int

const (
	groupOther familyGroupKind = iota
	groupGray
	groupRGB
	groupCMYK
)

func familyGroup(f colorspace.Family) familyGroupKind {
	switch f {
	case colorspace.FamilyDeviceGray, colorspace.FamilyCalGray:
		return groupGray
	case colorspace.FamilyDeviceRGB, colorspace.FamilyCalRGB:
		return groupRGB
	case colorspace.FamilyDeviceCMYK:
		return groupCMYK
	default:
		return groupOther
	}
}

// composeFlags sets the plan's flag bitset per the descriptor's options.
func composeFlags(d colorspace.ConversionDescriptor) colorspace.Flag {
	var flags colorspace.Flag
	if d.BPCEnabled {
		flags |= colorspace.FlagBPC
	}
	if needsIntermediate(d) && familyGroup(d.InputColorSpace.Family) != familyGroup(d.OutputColorSpace.Family) {
		if d.BPCEnabled {
			flags |= colorspace.FlagMultiprofileBPCScaling
		}
	}
	if d.Category == colorspace.CategoryIndexedPalette {
		// Palette lookup tables are small and converted once; caching the
		// transform used to convert them buys nothing and pins cache slots
		// that image/content-stream traffic would reuse more often.
		flags |= colorspace.FlagNoCache
	}
	return flags
}
