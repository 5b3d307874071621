package convert

import (
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
)

// fakeImageDispatcher returns a fixed ImageRecord regardless of what it is
// asked to convert, so page-converter tests can exercise write-back without
// pulling in the full buffer/image conversion stack.
type fakeImageDispatcher struct {
	out ImageRecord
	err error
	got ImageRecord
}

func (d *fakeImageDispatcher) DispatchImage(rec ImageRecord, opts ImageConvertOptions) (ImageRecord, error) {
	d.got = rec
	return d.out, d.err
}

func noopOperandConverter(family colorspace.Family, operands []float64) ([]float64, error) {
	return operands, nil
}

func newTestPageConverter(t *testing.T, images ImageDispatcher) (*PageConverter, *types.IndirectRef) {
	t.Helper()
	xRefTable := newTestXRefTable(t)

	destProfile := types.NewDict()
	destProfile.InsertInt("N", 3)
	sd := types.NewStreamDict(destProfile, 0, nil, nil, nil)
	sd.Raw = []byte{9, 9, 9}
	destRef, err := xRefTable.IndRefForNewObject(sd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}

	content := NewContentStreamConverter(noopOperandConverter, "CSDest")
	return NewPageConverter(xRefTable, images, content), destRef
}

func TestInternICCProfileStream_AcceptsDocumentBackedRef(t *testing.T) {
	pc, destRef := newTestPageConverter(t, nil)
	ref, err := pc.internICCProfileStream(iccProfileRef(destRef.ObjectNumber.Value()))
	if err != nil {
		t.Fatalf("internICCProfileStream: %v", err)
	}
	if ref.ObjectNumber.Value() != destRef.ObjectNumber.Value() {
		t.Fatalf("want object number %d, got %d", destRef.ObjectNumber.Value(), ref.ObjectNumber.Value())
	}
}

func TestInternICCProfileStream_RejectsNonDocumentRef(t *testing.T) {
	pc, _ := newTestPageConverter(t, nil)
	if _, err := pc.internICCProfileStream("manifest:cmyk-v4"); err == nil {
		t.Fatal("want error for a manifest-level (not document-backed) profile ref")
	}
}

func TestInstallDestinationColorSpaceResource_CreatesColorSpaceDict(t *testing.T) {
	pc, destRef := newTestPageConverter(t, nil)
	resources := types.Dict{}
	opts := PageConversionOptions{DestinationProfileRef: iccProfileRef(destRef.ObjectNumber.Value())}

	if err := pc.installDestinationColorSpaceResource(resources, opts); err != nil {
		t.Fatalf("installDestinationColorSpaceResource: %v", err)
	}

	csEntry, found := resources.Find("ColorSpace")
	if !found {
		t.Fatal("want ColorSpace resource entry created")
	}
	csDict, ok := csEntry.(types.Dict)
	if !ok {
		t.Fatalf("want ColorSpace entry to be a Dict, got %T", csEntry)
	}
	entry, found := csDict.Find("CSDest")
	if !found {
		t.Fatal("want CSDest entry installed under the content converter's resource name")
	}
	arr, ok := entry.(types.Array)
	if !ok || len(arr) != 2 || arr[0] != types.Name("ICCBased") {
		t.Fatalf("want [ICCBased ref], got %v", entry)
	}
}

func TestInstallDestinationColorSpaceResource_NoopWithoutContentConverter(t *testing.T) {
	xRefTable := newTestXRefTable(t)
	pc := NewPageConverter(xRefTable, nil, nil)
	resources := types.Dict{}
	if err := pc.installDestinationColorSpaceResource(resources, PageConversionOptions{}); err != nil {
		t.Fatalf("installDestinationColorSpaceResource: %v", err)
	}
	if _, found := resources.Find("ColorSpace"); found {
		t.Fatal("want no ColorSpace resource entry when there is no content converter")
	}
}

func TestConvertImageXObject_WritesBackICCBasedDirectImage(t *testing.T) {
	dispatcher := &fakeImageDispatcher{out: ImageRecord{
		ColorSpace:       colorspace.Descriptor{Family: colorspace.FamilyICCBased, ProfileRef: "icc:placeholder"},
		BitsPerComponent: 8,
		Content:          []byte{1, 2, 3},
		UsesFlate:        true,
	}}
	pc, destRef := newTestPageConverter(t, dispatcher)
	dispatcher.out.ColorSpace.ProfileRef = iccProfileRef(destRef.ObjectNumber.Value())

	imgDict := types.NewDict()
	imgDict.InsertName("Type", "XObject")
	imgDict.InsertName("Subtype", "Image")
	imgDict.Insert("ColorSpace", types.Name("DeviceRGB"))
	imgDict.InsertInt("BitsPerComponent", 8)
	imgDict.InsertInt("Width", 2)
	imgDict.InsertInt("Height", 1)
	sd := types.NewStreamDict(imgDict, 0, nil, nil, nil)
	sd.Raw = []byte{10, 20, 30, 40, 50, 60}
	ref, err := pc.xRefTable.IndRefForNewObject(sd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}
	entry, _ := pc.xRefTable.FindTableEntryForIndRef(ref)
	stored := entry.Object.(types.StreamDict)

	if err := pc.convertImageXObject(*ref, &stored, types.Dict{}, PageConversionOptions{}); err != nil {
		t.Fatalf("convertImageXObject: %v", err)
	}

	if dispatcher.got.ColorSpace.Family != colorspace.FamilyDeviceRGB {
		t.Fatalf("want dispatcher to receive DeviceRGB record, got %v", dispatcher.got.ColorSpace.Family)
	}

	entry, found := pc.xRefTable.FindTableEntryForIndRef(ref)
	if !found {
		t.Fatal("want xref entry present after write-back")
	}
	written := entry.Object.(types.StreamDict)
	csEntry, _ := written.Find("ColorSpace")
	arr, ok := csEntry.(types.Array)
	if !ok || arr[0] != types.Name("ICCBased") {
		t.Fatalf("want rewritten ColorSpace to be ICCBased array, got %v", csEntry)
	}
	if !written.HasSoleFilterNamed("FlateDecode") {
		t.Fatal("want FlateDecode filter reinstalled since UsesFlate was true")
	}
}

func TestConvertImageXObject_SkipsImagesWithoutColorSpace(t *testing.T) {
	dispatcher := &fakeImageDispatcher{}
	pc, _ := newTestPageConverter(t, dispatcher)

	imgDict := types.NewDict()
	imgDict.InsertName("Subtype", "Image")
	sd := types.NewStreamDict(imgDict, 0, nil, nil, nil)
	sd.Raw = []byte{1}
	ref, err := pc.xRefTable.IndRefForNewObject(sd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}
	entry, _ := pc.xRefTable.FindTableEntryForIndRef(ref)
	stored := entry.Object.(types.StreamDict)

	if err := pc.convertImageXObject(*ref, &stored, types.Dict{}, PageConversionOptions{}); err != nil {
		t.Fatalf("convertImageXObject: %v", err)
	}
	if dispatcher.got.Width != 0 || dispatcher.got.Content != nil {
		t.Fatal("want dispatcher never invoked for an image mask with no /ColorSpace")
	}
}

func TestConvertImageXObject_SkipsPatternColorSpace(t *testing.T) {
	dispatcher := &fakeImageDispatcher{}
	pc, _ := newTestPageConverter(t, dispatcher)

	imgDict := types.NewDict()
	imgDict.InsertName("Subtype", "Image")
	imgDict.Insert("ColorSpace", types.Name("Pattern"))
	sd := types.NewStreamDict(imgDict, 0, nil, nil, nil)
	sd.Raw = []byte{1}
	ref, err := pc.xRefTable.IndRefForNewObject(sd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}
	entry, _ := pc.xRefTable.FindTableEntryForIndRef(ref)
	stored := entry.Object.(types.StreamDict)

	if err := pc.convertImageXObject(*ref, &stored, types.Dict{}, PageConversionOptions{}); err != nil {
		t.Fatalf("convertImageXObject: %v", err)
	}
	if dispatcher.got.Width != 0 {
		t.Fatal("want dispatcher never invoked for a Pattern-space image")
	}
}

func TestConvertResources_SkipsAlreadySeenXObjects(t *testing.T) {
	dispatcher := &fakeImageDispatcher{}
	pc, _ := newTestPageConverter(t, dispatcher)

	otherDict := types.NewDict()
	otherDict.InsertName("Subtype", "PS")
	otherSd := types.NewStreamDict(otherDict, 0, nil, nil, nil)
	otherSd.Raw = []byte{1}
	otherRef, err := pc.xRefTable.IndRefForNewObject(otherSd)
	if err != nil {
		t.Fatalf("IndRefForNewObject: %v", err)
	}

	resources := types.Dict{
		"XObject": types.Dict{
			"Fm0": *otherRef,
		},
	}
	seen := map[int]bool{otherRef.ObjectNumber.Value(): true}

	if err := pc.convertResources(resources, PageConversionOptions{}, seen); err != nil {
		t.Fatalf("convertResources: %v", err)
	}
	if dispatcher.got.Width != 0 {
		t.Fatal("want no dispatch for an already-seen XObject")
	}
}

func TestConvertPageContents_HandlesArrayOfContentStreams(t *testing.T) {
	pc, _ := newTestPageConverter(t, nil)

	mkStream := func(b []byte) types.IndirectRef {
		sd := types.NewStreamDict(types.NewDict(), 0, nil, nil, nil)
		sd.Raw = b
		ref, err := pc.xRefTable.IndRefForNewObject(sd)
		if err != nil {
			t.Fatalf("IndRefForNewObject: %v", err)
		}
		return *ref
	}
	ref1 := mkStream([]byte("1 0 0 rg\n"))
	ref2 := mkStream([]byte("0 0 0 RG\n"))

	pageDict := types.Dict{"Contents": types.Array{ref1, ref2}}
	if err := pc.convertPageContents(pageDict, PageConversionOptions{}); err != nil {
		t.Fatalf("convertPageContents: %v", err)
	}

	entry1, _ := pc.xRefTable.FindTableEntryForIndRef(&ref1)
	written1 := entry1.Object.(types.StreamDict)
	if len(written1.Content) == 0 {
		t.Fatal("want first content stream rewritten with non-empty content")
	}
}

func TestConvertPageContents_NoopWithoutContentsEntry(t *testing.T) {
	pc, _ := newTestPageConverter(t, nil)
	if err := pc.convertPageContents(types.Dict{}, PageConversionOptions{}); err != nil {
		t.Fatalf("convertPageContents: %v", err)
	}
}
