package icc

import "math"

// d50WhitePoint is the CIE D50 reference white in XYZ, used whenever a link
// in a transform chain is the Lab sentinel profile rather than a parsed ICC
// profile (seehuhn's Transform only exposes Lab<->XYZ math for profiles it
// has decoded; the Lab_D50 builtin has none, so this engine carries its own
// minimal conversion for that one passthrough case).
var d50WhitePoint = [3]float64{0.9642, 1.0000, 0.8249}

func labToXYZ(l, a, b float64) (x, y, z float64) {
	fy := (l + 16) / 116
	fx := a/500 + fy
	fz := fy - b/200

	const threshold = 6.0 / 29.0
	const scale = 108.0 / 841.0
	const offset = 16.0 / 116.0

	cube := func(f float64) float64 {
		if f > threshold {
			return f * f * f
		}
		return (f - offset) * scale
	}

	xr, yr, zr := cube(fx), cube(fy), cube(fz)
	return xr * d50WhitePoint[0], yr * d50WhitePoint[1], zr * d50WhitePoint[2]
}

func xyzToLab(x, y, z float64) (l, a, b float64) {
	const threshold = 216.0 / 24389.0
	const scale = 841.0 / 108.0
	const offset = 16.0 / 116.0

	f := func(t float64) float64 {
		if t > threshold {
			return math.Cbrt(t)
		}
		return t*scale + offset
	}

	fx := f(x / d50WhitePoint[0])
	fy := f(y / d50WhitePoint[1])
	fz := f(z / d50WhitePoint[2])

	l = 116*fy - 16
	a = 500 * (fx - fy)
	b = 200 * (fy - fz)
	return l, a, b
}
