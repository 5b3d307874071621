package icc

import (
	"math"
	"testing"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
)

func rgbDevice(n int) []float64 {
	v := float64(n) / 255.0
	return []float64{v, v, v}
}

func withinEps(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestApplyPreserveKOnlyGCR_WhiteIsFullyK0(t *testing.T) {
	// A hypothetical relative-colorimetric device output for white that
	// still carries a touch of ink; the K-only pass must zero it all.
	out := applyPreserveKOnlyGCR(colorspace.FamilyDeviceRGB, rgbDevice(255), []float64{0.01, 0.01, 0.01, 0.0})
	for i, v := range out {
		if v > 2.0/255.0 {
			t.Fatalf("channel %d = %v, want <= 2/255", i, v)
		}
	}
}

func TestApplyPreserveKOnlyGCR_BlackIsRichBlackSuppressedToK(t *testing.T) {
	// A "rich black" relative-colorimetric result for device black.
	out := applyPreserveKOnlyGCR(colorspace.FamilyDeviceRGB, rgbDevice(0), []float64{0.6, 0.5, 0.5, 0.6})
	for i := 0; i < 3; i++ {
		if out[i] > 2.0/255.0 {
			t.Fatalf("CMY channel %d = %v, want <= 2/255", i, out[i])
		}
	}
	if out[3] < 253.0/255.0 {
		t.Fatalf("K = %v, want >= 253/255", out[3])
	}
}

func TestApplyPreserveKOnlyGCR_NeutralGrayLadder(t *testing.T) {
	for _, n := range []int{32, 64, 96, 128, 160, 192, 224} {
		out := applyPreserveKOnlyGCR(colorspace.FamilyDeviceRGB, rgbDevice(n), []float64{0.2, 0.15, 0.18, 0.3})
		for i := 0; i < 3; i++ {
			if out[i] > 2.0/255.0 {
				t.Fatalf("n=%d: CMY channel %d = %v, want <= 2/255", n, i, out[i])
			}
		}
	}
}

func TestApplyPreserveKOnlyGCR_MaximumGCRProfileIsIdentity(t *testing.T) {
	// A "maximum GCR" destination profile never puts overlapping ink on
	// more than one of C/M/Y; relative colorimetric output already has
	// min(C,M,Y) == 0 for chromatic colors and CMY == 0, K == 1-gray for
	// neutrals, so the K-only pass must be a no-op.
	relColorimetric := []float64{0.4, 0.0, 0.2, 0.55}
	out := applyPreserveKOnlyGCR(colorspace.FamilyDeviceRGB, []float64{0.8, 0.3, 0.5}, relColorimetric)
	for i := range out {
		if !withinEps(out[i], relColorimetric[i], 1e-9) {
			t.Fatalf("channel %d changed: got %v, want %v (chromatic max-GCR identity)", i, out[i], relColorimetric[i])
		}
	}

	neutralRelColorimetric := []float64{0, 0, 0, 1 - 128.0/255.0}
	out2 := applyPreserveKOnlyGCR(colorspace.FamilyDeviceRGB, rgbDevice(128), neutralRelColorimetric)
	for i := range out2 {
		if !withinEps(out2[i], neutralRelColorimetric[i], 1e-9) {
			t.Fatalf("neutral channel %d changed: got %v, want %v", i, out2[i], neutralRelColorimetric[i])
		}
	}
}

func TestIsNeutralSource(t *testing.T) {
	cases := []struct {
		family colorspace.Family
		v      []float64
		want   bool
	}{
		{colorspace.FamilyDeviceGray, []float64{0.5}, true},
		{colorspace.FamilyDeviceRGB, []float64{0.5, 0.5, 0.5}, true},
		{colorspace.FamilyDeviceRGB, []float64{0.5, 0.6, 0.5}, false},
		{colorspace.FamilyLab, []float64{0.5, 0.5, 0.5}, true},
		{colorspace.FamilyLab, []float64{0.5, 0.7, 0.5}, false},
	}
	for _, c := range cases {
		if got := isNeutralSource(c.family, c.v); got != c.want {
			t.Errorf("isNeutralSource(%v, %v) = %v, want %v", c.family, c.v, got, c.want)
		}
	}
}
