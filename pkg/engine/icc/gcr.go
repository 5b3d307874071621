package icc

import "github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"

// applyPreserveKOnlyGCR implements the custom "Preserve-K-Only Relative
// Colorimetric GCR" intent (§4.1, glossary). It runs as a post-process on
// top of an ordinary Relative Colorimetric device conversion:
//
//   - Neutrals (detected on the *source* side, before any profile math) are
//     forced fully onto the K axis: C = M = Y = 0, K = max(K already
//     produced, 1 - source gray level). This is what makes pure white/black
//     and the mid-gray ladder land on the documented boundary thresholds
//     regardless of how the destination profile's own relative colorimetric
//     LUT happened to separate them.
//   - Chromatic colors receive a conventional gray-component-replacement
//     pass: the common minimum across C, M, Y is moved onto K instead.
//
// On a destination profile whose relative colorimetric LUT already performs
// maximum GCR (no redundant overlap between C, M, Y), both rules are no-ops,
// which is what makes the intent byte-identical to plain Relative
// Colorimetric on such profiles (§8 boundary behavior).
func applyPreserveKOnlyGCR(srcFamily colorspace.Family, srcDevice []float64, out []float64) []float64 {
	if len(out) != 4 {
		return out
	}

	if isNeutralSource(srcFamily, srcDevice) {
		gray := sourceGrayLevel(srcFamily, srcDevice)
		k := out[3]
		if target := 1 - gray; target > k {
			k = target
		}
		return []float64{0, 0, 0, clamp01(k)}
	}

	c, m, y, k := out[0], out[1], out[2], out[3]
	common := min3(c, m, y)
	return []float64{c - common, m - common, y - common, clamp01(k + common)}
}

func isNeutralSource(family colorspace.Family, v []float64) bool {
	const epsilon = 1.0 / 255.0
	switch family {
	case colorspace.FamilyDeviceGray, colorspace.FamilyCalGray:
		return true
	case colorspace.FamilyDeviceRGB, colorspace.FamilyCalRGB:
		if len(v) != 3 {
			return false
		}
		hi := max3(v[0], v[1], v[2])
		lo := min3(v[0], v[1], v[2])
		return hi-lo <= epsilon
	case colorspace.FamilyLab:
		if len(v) != 3 {
			return false
		}
		// v is normalized per normaliseLab: a, b centered at 0.5.
		return abs(v[1]-0.5) <= epsilon && abs(v[2]-0.5) <= epsilon
	default:
		return false
	}
}

func sourceGrayLevel(family colorspace.Family, v []float64) float64 {
	switch family {
	case colorspace.FamilyDeviceGray, colorspace.FamilyCalGray:
		return v[0]
	case colorspace.FamilyDeviceRGB, colorspace.FamilyCalRGB:
		return (v[0] + v[1] + v[2]) / 3
	case colorspace.FamilyLab:
		return v[0] // L channel, already normalized to [0,1]
	default:
		return 0
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
