package convert

import (
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
)

// iccProfileRef formats the opaque profile_ref a colorspace.Descriptor
// carries for an ICCBased space: the object number backing its stream, so a
// DocumentProfileResolver can turn it back into profile bytes without a
// separate side table.
func iccProfileRef(objNr int) string {
	return "icc:" + strconv.Itoa(objNr)
}

// ICCProfileRef is the exported form of iccProfileRef, for callers outside
// this package (the scheduler, interning a manifest-resolved intermediate
// profile into a document before a chain executes) that need to name a
// freshly-interned stream the same way an in-document ICCBased space would.
func ICCProfileRef(objNr int) string {
	return iccProfileRef(objNr)
}

// BuiltinLabProfileRef names the engine's profile-less Lab_D50 PCS-native
// builtin as a profile_ref, for an intermediate chain link resolved from a
// manifest color space whose profile is the reserved "Lab" sentinel rather
// than fetched bytes (§4.10's ProfileKindBuiltinLab; see manifest.ColorSpace).
const BuiltinLabProfileRef = "builtin:lab"

func objNrFromICCProfileRef(ref string) (int, bool) {
	n, ok := strings.CutPrefix(ref, "icc:")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DocumentProfileResolver implements ProfileResolver by reading ICC profile
// bytes straight out of a live document's ICCBased stream objects. Profiles
// already embedded in the document never go through the asset fetcher
// (§4.10); that collaborator is only for profiles named in the conversion
// manifest, resolved by the document/scheduler layers above this one.
type DocumentProfileResolver struct {
	xRefTable *model.XRefTable
	adapter   *icc.Adapter
	cache     map[string]icc.ProfileHandle
}

func NewDocumentProfileResolver(xRefTable *model.XRefTable, adapter *icc.Adapter) *DocumentProfileResolver {
	return &DocumentProfileResolver{
		xRefTable: xRefTable,
		adapter:   adapter,
		cache:     map[string]icc.ProfileHandle{},
	}
}

func (r *DocumentProfileResolver) ResolveProfileRef(ref string) (icc.ProfileHandle, error) {
	if h, ok := r.cache[ref]; ok {
		if err := r.adapter.Retain(h); err != nil {
			return 0, err
		}
		return h, nil
	}

	if ref == BuiltinLabProfileRef {
		h, err := r.adapter.BuiltinProfile(icc.BuiltinLabD50)
		if err != nil {
			return 0, err
		}
		r.cache[ref] = h
		return h, nil
	}

	objNr, ok := objNrFromICCProfileRef(ref)
	if !ok {
		return 0, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: unrecognized profile ref %q", ref)
	}

	sd, _, err := r.xRefTable.DereferenceStreamDict(*types.NewIndirectRef(objNr, 0))
	if err != nil {
		return 0, errors.Wrapf(err, "convert: dereference ICCBased stream for %q", ref)
	}
	if sd == nil {
		return 0, errors.Wrapf(engineerr.ErrProfileMalformed, "convert: no stream for %q", ref)
	}
	if err := sd.Decode(); err != nil {
		return 0, errors.Wrapf(err, "convert: decode ICCBased stream for %q", ref)
	}

	h, err := r.adapter.OpenProfile(sd.Content)
	if err != nil {
		return 0, errors.Wrapf(err, "convert: open ICC profile for %q", ref)
	}
	r.cache[ref] = h
	return h, nil
}

// resolveColorSpace translates a PDF color-space object (a Name naming a
// device space or a resource-dictionary entry, or an Array describing an
// ICCBased/Indexed/CalGray/CalRGB/Lab/Separation/DeviceN space) into the
// engine's own colorspace.Descriptor. resources is the page or Form
// XObject's /Resources dict, consulted when obj is a Name that is not one of
// the three device spaces (it must then name a /ColorSpace resource entry).
func resolveColorSpace(xRefTable *model.XRefTable, resources types.Dict, obj types.Object) (colorspace.Descriptor, error) {
	o, err := xRefTable.Dereference(obj)
	if err != nil {
		return colorspace.Descriptor{}, err
	}

	switch v := o.(type) {
	case types.Name:
		switch string(v) {
		case "DeviceGray", "CalGray", "G":
			return colorspace.Descriptor{Family: colorspace.FamilyDeviceGray}, nil
		case "DeviceRGB", "RGB":
			return colorspace.Descriptor{Family: colorspace.FamilyDeviceRGB}, nil
		case "DeviceCMYK", "CMYK":
			return colorspace.Descriptor{Family: colorspace.FamilyDeviceCMYK}, nil
		case "Pattern":
			return colorspace.Descriptor{Family: colorspace.FamilyPattern}, nil
		default:
			csResources, err := resolveDictEntry(xRefTable, resources, "ColorSpace")
			if err != nil {
				return colorspace.Descriptor{}, err
			}
			if csResources == nil {
				return colorspace.Descriptor{}, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: color space resource %q not found", v)
			}
			entry, found := csResources.Find(string(v))
			if !found {
				return colorspace.Descriptor{}, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: color space resource %q not found", v)
			}
			return resolveColorSpace(xRefTable, resources, entry)
		}

	case types.Array:
		return resolveColorSpaceArray(xRefTable, resources, v)

	default:
		return colorspace.Descriptor{}, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: unrecognized color space object %T", o)
	}
}

func resolveColorSpaceArray(xRefTable *model.XRefTable, resources types.Dict, arr types.Array) (colorspace.Descriptor, error) {
	if len(arr) == 0 {
		return colorspace.Descriptor{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: empty color space array")
	}
	nameObj, err := xRefTable.Dereference(arr[0])
	if err != nil {
		return colorspace.Descriptor{}, err
	}
	name, ok := nameObj.(types.Name)
	if !ok {
		return colorspace.Descriptor{}, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: color space array head %T not a name", nameObj)
	}

	switch string(name) {
	case "ICCBased":
		if len(arr) < 2 {
			return colorspace.Descriptor{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: ICCBased array missing stream ref")
		}
		ref, ok := arr[1].(types.IndirectRef)
		if !ok {
			return colorspace.Descriptor{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: ICCBased stream is not an indirect reference")
		}
		sd, _, err := xRefTable.DereferenceStreamDict(ref)
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		channels := 0
		if sd != nil {
			if n := sd.IntEntry("N"); n != nil {
				channels = *n
			}
		}
		return colorspace.Descriptor{
			Family:     colorspace.FamilyICCBased,
			Channels:   channels,
			ProfileRef: iccProfileRef(ref.ObjectNumber.Value()),
		}, nil

	case "Indexed":
		if len(arr) < 4 {
			return colorspace.Descriptor{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: Indexed array needs 4 entries")
		}
		base, err := resolveColorSpace(xRefTable, resources, arr[1])
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		hival, err := xRefTable.DereferenceInteger(arr[2])
		if err != nil || hival == nil {
			return colorspace.Descriptor{}, errors.Wrap(engineerr.ErrInvalidArgument, "convert: Indexed hival")
		}
		lookup, err := decodeIndexedLookup(xRefTable, arr[3])
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		return colorspace.Descriptor{
			Family: colorspace.FamilyIndexed,
			Base:   &base,
			HiVal:  hival.Value(),
			Lookup: lookup,
		}, nil

	case "CalGray":
		d, err := dictArg(xRefTable, arr, 1)
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		desc := colorspace.Descriptor{Family: colorspace.FamilyCalGray}
		desc.WhitePoint = numberTriple(xRefTable, d.ArrayEntry("WhitePoint"))
		if g, err := xRefTable.DereferenceNumber(d["Gamma"]); err == nil {
			desc.Gamma = []float64{g}
		}
		return desc, nil

	case "CalRGB":
		d, err := dictArg(xRefTable, arr, 1)
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		desc := colorspace.Descriptor{Family: colorspace.FamilyCalRGB}
		desc.WhitePoint = numberTriple(xRefTable, d.ArrayEntry("WhitePoint"))
		if gammaArr := d.ArrayEntry("Gamma"); gammaArr != nil {
			desc.Gamma = numberSlice(xRefTable, gammaArr)
		}
		if m := d.ArrayEntry("Matrix"); m != nil {
			copy(desc.Matrix[:], numberSlice(xRefTable, m))
		}
		return desc, nil

	case "Lab":
		d, err := dictArg(xRefTable, arr, 1)
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		desc := colorspace.Descriptor{Family: colorspace.FamilyLab}
		desc.WhitePoint = numberTriple(xRefTable, d.ArrayEntry("WhitePoint"))
		if r := d.ArrayEntry("Range"); r != nil {
			copy(desc.LabRange[:], numberSlice(xRefTable, r))
		} else {
			desc.LabRange = [4]float64{-100, 100, -100, 100}
		}
		return desc, nil

	case "Separation", "DeviceN":
		if len(arr) < 3 {
			return colorspace.Descriptor{}, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: %s array too short", name)
		}
		names, err := separationNames(xRefTable, arr[1])
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		alt, err := resolveColorSpace(xRefTable, resources, arr[2])
		if err != nil {
			return colorspace.Descriptor{}, err
		}
		return colorspace.Descriptor{
			Family:    colorspace.FamilySeparation,
			Names:     names,
			Alternate: &alt,
		}, nil

	case "Pattern":
		return colorspace.Descriptor{Family: colorspace.FamilyPattern}, nil

	default:
		return colorspace.Descriptor{}, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: unsupported color space family %q", name)
	}
}

// resolveDictEntry fetches d[key] and dereferences it if it is an indirect
// reference before the type assertion: types.Dict's own *Entry helpers
// (DictEntry, ArrayEntry, ...) only handle already-direct values, but
// /Resources, /XObject, and /ColorSpace sub-dictionaries are routinely
// stored as indirect objects in real documents.
func resolveDictEntry(xRefTable *model.XRefTable, d types.Dict, key string) (types.Dict, error) {
	if d == nil {
		return nil, nil
	}
	raw, found := d.Find(key)
	if !found {
		return nil, nil
	}
	o, err := xRefTable.Dereference(raw)
	if err != nil || o == nil {
		return nil, err
	}
	sub, ok := o.(types.Dict)
	if !ok {
		return nil, nil
	}
	return sub, nil
}

func dictArg(xRefTable *model.XRefTable, arr types.Array, idx int) (types.Dict, error) {
	if idx >= len(arr) {
		return nil, errors.Wrap(engineerr.ErrInvalidArgument, "convert: missing color space parameter dict")
	}
	o, err := xRefTable.Dereference(arr[idx])
	if err != nil {
		return nil, err
	}
	d, ok := o.(types.Dict)
	if !ok {
		return nil, errors.Wrap(engineerr.ErrInvalidArgument, "convert: color space parameter is not a dict")
	}
	return d, nil
}

func numberSlice(xRefTable *model.XRefTable, arr types.Array) []float64 {
	out := make([]float64, 0, len(arr))
	for _, o := range arr {
		f, err := xRefTable.DereferenceNumber(o)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

func numberTriple(xRefTable *model.XRefTable, arr types.Array) [3]float64 {
	var out [3]float64
	copy(out[:], numberSlice(xRefTable, arr))
	return out
}

func separationNames(xRefTable *model.XRefTable, o types.Object) ([]string, error) {
	deref, err := xRefTable.Dereference(o)
	if err != nil {
		return nil, err
	}
	switch v := deref.(type) {
	case types.Name:
		return []string{string(v)}, nil
	case types.Array:
		names := make([]string, 0, len(v))
		for _, item := range v {
			n, err := xRefTable.DereferenceName(item, model.V10, nil)
			if err != nil {
				return nil, err
			}
			names = append(names, string(n))
		}
		return names, nil
	default:
		return nil, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: unsupported colorant name object %T", deref)
	}
}

// decodeIndexedLookup returns an Indexed color space's lookup table bytes,
// whether stored as a string literal or a stream object (PDF allows both).
func decodeIndexedLookup(xRefTable *model.XRefTable, o types.Object) ([]byte, error) {
	deref, err := xRefTable.Dereference(o)
	if err != nil {
		return nil, err
	}
	switch v := deref.(type) {
	case types.StringLiteral:
		return types.Unescape(v.Value())
	case types.HexLiteral:
		return v.Bytes()
	case types.StreamDict:
		sd := v
		if err := sd.Decode(); err != nil {
			return nil, err
		}
		return sd.Content, nil
	default:
		return nil, errors.Wrapf(engineerr.ErrInvalidArgument, "convert: unsupported Indexed lookup object %T", deref)
	}
}

// iccBasedArray builds the PDF object shape for an ICCBased color space
// entry: ["ICCBased", streamRef]. Callers installing a new destination color
// space (image re-tagging, document post-processing) share one profile
// stream object per destination profile rather than writing a fresh stream
// per consumer.
func iccBasedArray(streamRef types.IndirectRef) types.Array {
	return types.Array{types.Name("ICCBased"), streamRef}
}
