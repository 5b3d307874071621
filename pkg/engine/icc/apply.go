package icc

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// ApplyTransform runs the compiled transform's pixel arithmetic over
// pixelCount pixels of inBuf, writing normalized device values through the
// chain's links and into outBuf. Synchronous, per §4.1's contract.
func (a *Adapter) ApplyTransform(h TransformHandle, inBuf, outBuf []byte, pixelCount int) error {
	a.mu.Lock()
	te, ok := a.transforms[h]
	a.mu.Unlock()
	if !ok {
		return errors.Wrap(engineerr.ErrInvalidArgument, "icc: unknown transform handle")
	}

	inChannels := te.inFormat.Channels()
	outChannels := te.outFormat.Channels()

	in, err := decodePixels(inBuf, te.inFormat, inChannels, pixelCount)
	if err != nil {
		return err
	}

	hasKOnlyGCR := false
	for _, intent := range te.intentChain {
		if intent == colorspace.IntentPreserveKOnlyRelativeGCR {
			hasKOnlyGCR = true
			break
		}
	}

	out := make([][]float64, pixelCount)
	last := len(te.profileChain) - 1
	for p := 0; p < pixelCount; p++ {
		device := in[p]
		x, y, z := deviceToPCS(te, 0, device)
		for i := 1; i < last; i++ {
			dev := pcsToDevice(te, i, x, y, z)
			x, y, z = deviceToPCS(te, i, dev)
		}
		deviceOut := pcsToDevice(te, last, x, y, z)

		if hasKOnlyGCR && outChannels == 4 {
			deviceOut = applyPreserveKOnlyGCR(te.inFormat.ColorType, device, deviceOut)
		}
		out[p] = deviceOut
	}

	return encodePixels(out, te.outFormat, outChannels, outBuf)
}

func deviceToPCS(te *transformEntry, link int, device []float64) (x, y, z float64) {
	switch te.linkKinds[link] {
	case linkKindLab:
		l, aa, bb := denormaliseLab(device)
		return labToXYZ(l, aa, bb)
	case linkKindGray:
		y := device[0]
		return d50WhitePoint[0] * y, d50WhitePoint[1] * y, d50WhitePoint[2] * y
	default:
		return te.toPCS[link].ToXYZ(device)
	}
}

func pcsToDevice(te *transformEntry, link int, x, y, z float64) []float64 {
	switch te.linkKinds[link] {
	case linkKindLab:
		l, aa, bb := xyzToLab(x, y, z)
		return normaliseLab(l, aa, bb)
	case linkKindGray:
		if d50WhitePoint[1] == 0 {
			return []float64{0}
		}
		return []float64{clamp01(y / d50WhitePoint[1])}
	default:
		return te.fromPCS[link].FromXYZ(x, y, z)
	}
}

func normaliseLab(l, a, b float64) []float64 {
	return []float64{l / 100.0, (a + 128.0) / 255.0, (b + 128.0) / 255.0}
}

func denormaliseLab(v []float64) (l, a, b float64) {
	if len(v) < 3 {
		return 0, 0, 0
	}
	return v[0] * 100.0, v[1]*255.0 - 128.0, v[2]*255.0 - 128.0
}

// decodePixels reads pixelCount pixels of `channels` components each from
// buf according to format, producing normalized [0,1] float64 vectors.
func decodePixels(buf []byte, format colorspace.PixelFormat, channels, pixelCount int) ([][]float64, error) {
	bytesPerComponent := format.Bits / 8
	want := pixelCount * channels * bytesPerComponent
	if len(buf) < want {
		return nil, errors.Wrap(engineerr.ErrBufferMisaligned, "icc: input buffer shorter than pixelCount*channels*bytesPerComponent")
	}

	out := make([][]float64, pixelCount)
	offset := 0
	for p := 0; p < pixelCount; p++ {
		pixel := make([]float64, channels)
		for c := 0; c < channels; c++ {
			switch format.Bits {
			case 8:
				pixel[c] = float64(buf[offset]) / 255.0
				offset++
			case 16:
				var v uint16
				if format.Endian == colorspace.EndiannessLittle {
					v = binary.LittleEndian.Uint16(buf[offset:])
				} else {
					v = binary.BigEndian.Uint16(buf[offset:])
				}
				pixel[c] = float64(v) / 65535.0
				offset += 2
			case 32:
				bits := binary.NativeEndian.Uint32(buf[offset:])
				pixel[c] = float64(math.Float32frombits(bits))
				offset += 4
			default:
				return nil, errors.Wrapf(engineerr.ErrInvalidArgument, "icc: unsupported bit depth %d", format.Bits)
			}
		}
		out[p] = pixel
	}
	return out, nil
}

// encodePixels is decodePixels's inverse.
func encodePixels(pixels [][]float64, format colorspace.PixelFormat, channels int, buf []byte) error {
	bytesPerComponent := format.Bits / 8
	need := len(pixels) * channels * bytesPerComponent
	if len(buf) < need {
		return errors.Wrap(engineerr.ErrBufferMisaligned, "icc: output buffer shorter than pixelCount*channels*bytesPerComponent")
	}

	offset := 0
	for _, pixel := range pixels {
		for c := 0; c < channels; c++ {
			v := clamp01(pixel[c])
			switch format.Bits {
			case 8:
				buf[offset] = byte(v*255.0 + 0.5)
				offset++
			case 16:
				u := uint16(v*65535.0 + 0.5)
				if format.Endian == colorspace.EndiannessLittle {
					binary.LittleEndian.PutUint16(buf[offset:], u)
				} else {
					binary.BigEndian.PutUint16(buf[offset:], u)
				}
				offset += 2
			case 32:
				binary.NativeEndian.PutUint32(buf[offset:], math.Float32bits(float32(v)))
				offset += 4
			default:
				return errors.Wrapf(engineerr.ErrInvalidArgument, "icc: unsupported bit depth %d", format.Bits)
			}
		}
	}
	return nil
}
