package convert

import (
	"strings"
	"testing"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
)

// identityConverter passes gray and CMYK operands through unchanged and maps
// every RGB operand triple to CMYK black, so tests can assert purely on
// operator/operand rewriting, independent of the color math already covered
// by the icc/policy package tests.
func identityConverter(t *testing.T) OperandConverter {
	t.Helper()
	return func(family colorspace.Family, operands []float64) ([]float64, error) {
		switch family {
		case colorspace.FamilyDeviceGray:
			return []float64{operands[0]}, nil
		case colorspace.FamilyDeviceRGB:
			return []float64{0, 0, 0, 1}, nil // RGB always maps down to CMYK black in these tests
		default:
			return operands, nil
		}
	}
}

func TestContentConvert_RGBFillBecomesCMYK(t *testing.T) {
	c := NewContentStreamConverter(identityConverter(t), "/DestICC")
	in := []byte("1 0 0 rg 10 10 20 20 re f\n")
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	got := string(out)
	if !strings.Contains(got, "k") || strings.Contains(got, "rg") {
		t.Fatalf("want rg rewritten to k, got %q", got)
	}
	if !strings.Contains(got, "10 10 20 20 re f") {
		t.Fatalf("want untouched operators preserved byte-for-byte, got %q", got)
	}
}

func TestContentConvert_UntouchedOperatorsRoundTripByteForByte(t *testing.T) {
	c := NewContentStreamConverter(identityConverter(t), "/DestICC")
	in := []byte("q\n1 0 0 1 0 0 cm\n0x92 marker (literal) Tj\nQ\n")
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Fatalf("content with no color operators must round-trip byte-for-byte:\nin:  %q\nout: %q", in, out)
	}
}

func TestContentConvert_PatternSCNPassesThrough(t *testing.T) {
	c := NewContentStreamConverter(identityConverter(t), "/DestICC")
	in := []byte("/P1 scn\n")
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Fatalf("pattern scn must pass through untouched, got %q", out)
	}
}

func TestContentConvert_CSRewritesToDestinationResource(t *testing.T) {
	c := NewContentStreamConverter(identityConverter(t), "/DestICC")
	in := []byte("/CS0 cs\n1 0 0 scn\n")
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "/DestICC cs") {
		t.Fatalf("want cs operand rewritten to destination resource, got %q", out)
	}
}

func TestContentConvert_GrayFillOneOperand(t *testing.T) {
	c := NewContentStreamConverter(identityConverter(t), "/DestICC")
	in := []byte("0.5 g\n")
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "g") {
		t.Fatalf("want gray fill operator preserved as g, got %q", out)
	}
}
