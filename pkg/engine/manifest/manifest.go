// Package manifest is the Asset Fetcher + Profile Resolver (L9): contract
// interfaces plus the manifest JSON model the scheduler (L7) reads (§4.10,
// §6). It also carries one implementation of each contract: HTTPFetcher
// (HEAD-checked, in-memory cached, deduplicated GETs) and
// ManifestProfileResolver, which run.Generate uses unless its caller supplies
// its own AssetFetcher. L7 is written against the interfaces.
package manifest

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// Resolution is a page's output resolution, part of its metadata.
type Resolution struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// PageMetadata carries the optional descriptive fields a manifest page may
// declare.
type PageMetadata struct {
	Title      string      `json:"title,omitempty"`
	Variant    string      `json:"variant,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// ColorSpace names one entry of the manifest's colorSpaces map: a family tag
// and an optional profile reference. An absent Profile means passthrough —
// the core leaves pixels tagged with this color space untouched.
type ColorSpace struct {
	Type    string `json:"type"` // "RGB" | "Gray" | "Lab" | "CMYK" | "DeviceN"
	Profile string `json:"profile,omitempty"`
}

// IsPassthrough reports whether this color space carries no profile, i.e.
// assets tagged with it are never routed through the color engine.
func (c ColorSpace) IsPassthrough() bool {
	return c.Profile == ""
}

// AssetRef pairs an asset with the color space one layout uses it in.
type AssetRef struct {
	Asset      string `json:"asset"`
	ColorSpace string `json:"colorSpace"`
}

// Layout composes a set of assets, each tagged with the color space it is
// used in within this layout.
type Layout struct {
	Layout     string     `json:"layout"`
	ColorSpace string     `json:"colorSpace"`
	Assets     []AssetRef `json:"assets"`
}

// Page names one output page: the layout it draws, the layout's declared
// color space, and optional descriptive metadata.
type Page struct {
	Layout     string       `json:"layout"`
	ColorSpace string       `json:"colorSpace"`
	Metadata   PageMetadata `json:"metadata,omitempty"`
}

// ColorManagementSettings names the default source profile assumed for each
// device family when an asset's own color space does not resolve one.
type ColorManagementSettings struct {
	DefaultSourceProfileForDeviceGray string `json:"defaultSourceProfileForDeviceGray,omitempty"`
	DefaultSourceProfileForDeviceRGB  string `json:"defaultSourceProfileForDeviceRGB,omitempty"`
	DefaultSourceProfileForDeviceCMYK string `json:"defaultSourceProfileForDeviceCMYK,omitempty"`
}

// Settings is the manifest's top-level settings block.
type Settings struct {
	ColorManagement ColorManagementSettings `json:"colorManagement"`
}

// Manifest is the full manifest document (§6 "Manifest file").
type Manifest struct {
	Settings    Settings              `json:"settings"`
	ColorSpaces map[string]ColorSpace `json:"colorSpaces"`
	Assets      []AssetRef            `json:"assets"`
	Layouts     []Layout              `json:"layouts"`
	Pages       []Page                `json:"pages"`
}

// Parse decodes a manifest document from JSON bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(engineerr.ErrInvalidArgument, "manifest: parse: "+err.Error())
	}
	return &m, nil
}

// ResolveColorSpace looks up name in the manifest's colorSpaces map. The
// returned bool is false if the name is not declared.
func (m *Manifest) ResolveColorSpace(name string) (ColorSpace, bool) {
	cs, ok := m.ColorSpaces[name]
	return cs, ok
}

// ProfileKind discriminates the three shapes a resolved color space can
// take (§4.10 "ProfileType").
type ProfileKind int

const (
	// ProfileKindBytes: an ICC profile fetched as bytes, usable directly by
	// the color engine adapter.
	ProfileKindBytes ProfileKind = iota
	// ProfileKindBuiltinLab: the profile-less Lab_D50 PCS-native sentinel.
	ProfileKindBuiltinLab
	// ProfileKindNone: passthrough — no profile, pixels untouched.
	ProfileKindNone
)

// ProfileType is the Profile Resolver's result for one color-space name.
type ProfileType struct {
	Kind  ProfileKind
	Bytes []byte
}

// ProfileResolver resolves a manifest color-space name to a profile, per
// §4.10: Bytes(...), BuiltinLab, or None (passthrough, signaling upstream
// components to skip conversion for this name).
type ProfileResolver interface {
	ResolveColorSpace(name string) (ProfileType, error)
}

// AssetFetcher fetches asset bytes by URL with a persistent, freshness-
// checked cache and in-flight deduplication (§4.10, §9 "Asset Fetcher").
type AssetFetcher interface {
	Fetch(url string) ([]byte, error)
}
