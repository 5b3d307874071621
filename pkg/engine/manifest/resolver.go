package manifest

import "strings"

// labSentinelProfile is the reserved profile value naming the engine's
// profile-less Lab_D50 builtin (§6 "profile?: <relative-path | \"Lab\">").
const labSentinelProfile = "Lab"

// ManifestProfileResolver implements ProfileResolver by reading a parsed
// Manifest's colorSpaces map and fetching any referenced profile's bytes
// through an AssetFetcher, so a color-space name resolves all the way to
// ICC bytes, the Lab sentinel, or passthrough in one call.
type ManifestProfileResolver struct {
	manifest *Manifest
	fetcher  AssetFetcher
	baseURL  string // prefixed onto relative profile paths before fetching
}

// NewManifestProfileResolver builds a resolver over m, fetching relative
// profile paths against baseURL (typically the manifest's own origin).
func NewManifestProfileResolver(m *Manifest, fetcher AssetFetcher, baseURL string) *ManifestProfileResolver {
	return &ManifestProfileResolver{manifest: m, fetcher: fetcher, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// ResolveColorSpace implements ProfileResolver.
func (r *ManifestProfileResolver) ResolveColorSpace(name string) (ProfileType, error) {
	cs, ok := r.manifest.ResolveColorSpace(name)
	if !ok || cs.IsPassthrough() {
		return ProfileType{Kind: ProfileKindNone}, nil
	}
	if cs.Profile == labSentinelProfile {
		return ProfileType{Kind: ProfileKindBuiltinLab}, nil
	}

	url := cs.Profile
	if !strings.Contains(url, "://") {
		url = r.baseURL + "/" + strings.TrimPrefix(url, "/")
	}
	data, err := r.fetcher.Fetch(url)
	if err != nil {
		return ProfileType{}, err
	}
	return ProfileType{Kind: ProfileKindBytes, Bytes: data}, nil
}
