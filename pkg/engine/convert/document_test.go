package convert

import (
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
)

func newTestContext(t *testing.T) *model.Context {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	ctx, err := pdfcpu.CreateContextWithXRefTable(conf, nil)
	if err != nil {
		t.Fatalf("CreateContextWithXRefTable: %v", err)
	}
	return ctx
}

func TestIccComponentCount_ReadsColorSpaceSignature(t *testing.T) {
	header := func(sig string) []byte {
		b := make([]byte, 20)
		copy(b[16:20], sig)
		return b
	}
	if n := iccComponentCount(header("GRAY")); n != 1 {
		t.Fatalf("want 1 channel for GRAY, got %d", n)
	}
	if n := iccComponentCount(header("CMYK")); n != 4 {
		t.Fatalf("want 4 channels for CMYK, got %d", n)
	}
	if n := iccComponentCount(header("RGB ")); n != 3 {
		t.Fatalf("want 3 channels for RGB, got %d", n)
	}
	if n := iccComponentCount([]byte{1, 2, 3}); n != 3 {
		t.Fatalf("want 3-channel fallback for a too-short header, got %d", n)
	}
}

func TestInternDestinationProfileStream_InsertsPlainStreamWithNEntry(t *testing.T) {
	ctx := newTestContext(t)
	dc := NewDocumentConverter(ctx, nil, nil)

	profileBytes := make([]byte, 24)
	copy(profileBytes[16:20], "CMYK")

	ref, err := dc.internDestinationProfileStream(profileBytes)
	if err != nil {
		t.Fatalf("internDestinationProfileStream: %v", err)
	}

	entry, found := ctx.XRefTable.FindTableEntryForIndRef(ref)
	if !found {
		t.Fatal("want xref entry for interned profile stream")
	}
	sd, ok := entry.Object.(types.StreamDict)
	if !ok {
		t.Fatalf("want a StreamDict entry, got %T", entry.Object)
	}
	n := sd.IntEntry("N")
	if n == nil || *n != 4 {
		t.Fatalf("want /N=4 for a CMYK profile, got %v", n)
	}
}

func TestDeviceFamilyName_MapsDeviceFamiliesOnly(t *testing.T) {
	cases := map[colorspace.Family]string{
		colorspace.FamilyDeviceGray: "DeviceGray",
		colorspace.FamilyDeviceRGB:  "DeviceRGB",
		colorspace.FamilyDeviceCMYK: "DeviceCMYK",
	}
	for family, want := range cases {
		got, err := deviceFamilyName(family)
		if err != nil {
			t.Fatalf("deviceFamilyName(%v): %v", family, err)
		}
		if got != want {
			t.Fatalf("deviceFamilyName(%v) = %q, want %q", family, got, want)
		}
	}
	if _, err := deviceFamilyName(colorspace.FamilyLab); err == nil {
		t.Fatal("want error for a non-device destination family")
	}
}

func TestAsDict_UnwrapsDictAndStreamDictNotOtherTypes(t *testing.T) {
	d := types.Dict{"A": types.Integer(1)}
	if got, ok := asDict(d); !ok || got["A"] != types.Integer(1) {
		t.Fatalf("want Dict unwrapped as-is, got %v %v", got, ok)
	}

	sd := types.NewStreamDict(types.Dict{"B": types.Integer(2)}, 0, nil, nil, nil)
	if got, ok := asDict(sd); !ok || got["B"] != types.Integer(2) {
		t.Fatalf("want StreamDict's embedded Dict unwrapped, got %v %v", got, ok)
	}

	if _, ok := asDict(types.Integer(1)); ok {
		t.Fatal("want false for a non-dict object")
	}
}

func TestRewriteCalibratedColorSpaces_RetagsCalRGBNotICCBased(t *testing.T) {
	ctx := newTestContext(t)
	dc := NewDocumentConverter(ctx, nil, nil)

	destProfile := types.NewDict()
	destSd := types.NewStreamDict(destProfile, 0, nil, nil, nil)
	destSd.Raw = []byte{1, 2, 3}
	destRef, err := ctx.XRefTable.IndRefForNewObject(destSd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}

	calRGBHolder := types.Dict{"ColorSpace": types.Array{types.Name("CalRGB"), types.Dict{}}}
	calRGBRef, err := ctx.XRefTable.IndRefForNewObject(calRGBHolder)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}

	iccHolder := types.Dict{"ColorSpace": types.Array{types.Name("ICCBased"), *destRef}}
	iccRef, err := ctx.XRefTable.IndRefForNewObject(iccHolder)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}

	if err := dc.rewriteCalibratedColorSpaces(destRef); err != nil {
		t.Fatalf("rewriteCalibratedColorSpaces: %v", err)
	}

	calEntry, _ := ctx.XRefTable.FindTableEntryForIndRef(calRGBRef)
	calDict := calEntry.Object.(types.Dict)
	arr := calDict.ArrayEntry("ColorSpace")
	if arr[0] != types.Name("ICCBased") {
		t.Fatalf("want CalRGB retagged to ICCBased, got %v", arr[0])
	}

	iccEntry, _ := ctx.XRefTable.FindTableEntryForIndRef(iccRef)
	iccDict := iccEntry.Object.(types.Dict)
	iccArr := iccDict.ArrayEntry("ColorSpace")
	if len(iccArr) != 2 {
		t.Fatalf("want untouched 2-entry ICCBased array, got %v", iccArr)
	}
}

func TestInstallOutputIntent_UsesDestinationDescription(t *testing.T) {
	ctx := newTestContext(t)
	dc := NewDocumentConverter(ctx, nil, nil)

	destSd := types.NewStreamDict(types.NewDict(), 0, nil, nil, nil)
	destSd.Raw = []byte{1}
	destRef, err := ctx.XRefTable.IndRefForNewObject(destSd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}

	if err := dc.installOutputIntent(DocumentConversionOptions{DestinationDescription: "sRGB v4"}, destRef); err != nil {
		t.Fatalf("installOutputIntent: %v", err)
	}

	catalog, err := ctx.XRefTable.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	arr := catalog.ArrayEntry("OutputIntents")
	if len(arr) != 1 {
		t.Fatalf("want single OutputIntents entry, got %v", arr)
	}
	ref, ok := arr[0].(types.IndirectRef)
	if !ok {
		t.Fatalf("want OutputIntents entry to be an indirect ref, got %T", arr[0])
	}
	entry, _ := ctx.XRefTable.FindTableEntryForIndRef(&ref)
	oiDict := entry.Object.(types.Dict)
	id := oiDict.StringLiteralEntry("OutputConditionIdentifier")
	if id == nil || string(*id) != "sRGB v4" {
		t.Fatalf("want identifier %q, got %v", "sRGB v4", id)
	}
}

func TestInstallOutputIntent_ReplacesPriorEntry(t *testing.T) {
	ctx := newTestContext(t)
	dc := NewDocumentConverter(ctx, nil, nil)

	destSd := types.NewStreamDict(types.NewDict(), 0, nil, nil, nil)
	destSd.Raw = []byte{1}
	destRef, err := ctx.XRefTable.IndRefForNewObject(destSd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}

	if err := dc.installOutputIntent(DocumentConversionOptions{}, destRef); err != nil {
		t.Fatalf("installOutputIntent (first): %v", err)
	}
	if err := dc.installOutputIntent(DocumentConversionOptions{DestinationDescription: "second"}, destRef); err != nil {
		t.Fatalf("installOutputIntent (second): %v", err)
	}

	catalog, err := ctx.XRefTable.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	arr := catalog.ArrayEntry("OutputIntents")
	if len(arr) != 1 {
		t.Fatalf("want a single replaced OutputIntents entry, got %d", len(arr))
	}
}

func TestRewriteTransparencyGroups_NoopWhenNoPages(t *testing.T) {
	ctx := newTestContext(t)
	dc := NewDocumentConverter(ctx, nil, nil)
	if err := dc.rewriteTransparencyGroups(colorspace.FamilyDeviceCMYK); err != nil {
		t.Fatalf("rewriteTransparencyGroups: %v", err)
	}
}
