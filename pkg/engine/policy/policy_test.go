package policy

import (
	"testing"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
)

func TestEvaluate_16BitRequiresEndianness(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:  colorspace.Descriptor{Family: colorspace.FamilyDeviceRGB},
		InputBits:        16,
		OutputColorSpace: colorspace.Descriptor{Family: colorspace.FamilyDeviceCMYK},
		OutputBits:       8,
	}
	if _, err := Evaluate(d); err == nil {
		t.Fatal("expected error for 16-bit input without endianness")
	}
}

func TestEvaluate_SubByteUpsampledTo8(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:  colorspace.Descriptor{Family: colorspace.FamilyDeviceGray},
		InputBits:        1,
		OutputColorSpace: colorspace.Descriptor{Family: colorspace.FamilyDeviceGray},
		OutputBits:       8,
	}
	plan, err := Evaluate(d)
	if err != nil {
		t.Fatal(err)
	}
	if plan.EngineInputFormat.Bits != 8 {
		t.Fatalf("want upsampled to 8 bits, got %d", plan.EngineInputFormat.Bits)
	}
}

func TestEvaluate_32BitFloatForbidsEndianness(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:  colorspace.Descriptor{Family: colorspace.FamilyDeviceRGB},
		InputBits:        32,
		InputEndian:      colorspace.EndiannessBig,
		OutputColorSpace: colorspace.Descriptor{Family: colorspace.FamilyDeviceRGB},
		OutputBits:       8,
	}
	if _, err := Evaluate(d); err == nil {
		t.Fatal("expected error for 32-bit float with endianness set")
	}
}

func TestEvaluate_ExplicitIntermediateOverridesPolicy(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:      colorspace.Descriptor{Family: colorspace.FamilyDeviceRGB},
		InputBits:            8,
		OutputColorSpace:     colorspace.Descriptor{Family: colorspace.FamilyDeviceRGB},
		OutputBits:           8,
		IntermediateProfiles: []string{"working-space"},
	}
	plan, err := Evaluate(d)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.NeedsMultiprofile {
		t.Fatal("expected explicit intermediate_profiles to force a multiprofile chain")
	}
	if len(plan.ProfileChain) != 3 {
		t.Fatalf("want chain length 3 (src, intermediate, dst), got %d", len(plan.ProfileChain))
	}
}

func TestEvaluate_GrayCMYKWithGCRInjectsIntermediate(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:  colorspace.Descriptor{Family: colorspace.FamilyDeviceGray},
		InputBits:        8,
		OutputColorSpace: colorspace.Descriptor{Family: colorspace.FamilyDeviceCMYK},
		OutputBits:       8,
		Intent:           colorspace.IntentPreserveKOnlyRelativeGCR,
	}
	plan, err := Evaluate(d)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.NeedsMultiprofile {
		t.Fatal("expected Gray->CMYK under K-only GCR to inject an intermediate")
	}
}

func TestEvaluate_IndexedPaletteNeverMultiprofile(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:      colorspace.Descriptor{Family: colorspace.FamilyDeviceGray},
		InputBits:            8,
		OutputColorSpace:     colorspace.Descriptor{Family: colorspace.FamilyDeviceCMYK},
		OutputBits:           8,
		Intent:               colorspace.IntentPreserveKOnlyRelativeGCR,
		IntermediateProfiles: []string{"ignored-for-indexed"},
		Category:             colorspace.CategoryIndexedPalette,
	}
	plan, err := Evaluate(d)
	if err != nil {
		t.Fatal(err)
	}
	if plan.NeedsMultiprofile {
		t.Fatal("indexed palettes must never use the multiprofile direct API")
	}
	if len(plan.ProfileChain) != 2 {
		t.Fatalf("want 2-link direct chain for indexed palette, got %d", len(plan.ProfileChain))
	}
	if plan.Flags&colorspace.FlagNoCache == 0 {
		t.Fatal("expected NOCACHE flag for indexed palette conversion")
	}
}

func TestEvaluate_LabUnderGCRFallsBackToRelativeColorimetric(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:  colorspace.Descriptor{Family: colorspace.FamilyLab},
		InputBits:        8,
		OutputColorSpace: colorspace.Descriptor{Family: colorspace.FamilyDeviceCMYK},
		OutputBits:       8,
		Intent:           colorspace.IntentPreserveKOnlyRelativeGCR,
	}
	plan, err := Evaluate(d)
	if err != nil {
		t.Fatal(err)
	}
	for _, intent := range plan.IntentPerLink {
		if intent != colorspace.IntentRelativeColorimetric {
			t.Fatalf("want Lab+K-only-GCR to fall back to Relative Colorimetric, got %v", intent)
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	d := colorspace.ConversionDescriptor{
		InputColorSpace:  colorspace.Descriptor{Family: colorspace.FamilyDeviceRGB},
		InputBits:        16,
		InputEndian:      colorspace.EndiannessBig,
		OutputColorSpace: colorspace.Descriptor{Family: colorspace.FamilyDeviceCMYK},
		OutputBits:       8,
		BPCEnabled:       true,
	}
	plan1, err := Evaluate(d)
	if err != nil {
		t.Fatal(err)
	}
	plan2, err := Evaluate(d)
	if err != nil {
		t.Fatal(err)
	}
	if plan1.Key() != plan2.Key() {
		t.Fatalf("same descriptor produced different plan keys: %+v vs %+v", plan1.Key(), plan2.Key())
	}
}
