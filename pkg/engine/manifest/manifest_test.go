package manifest

import "testing"

const sampleManifest = `{
  "settings": { "colorManagement": { "defaultSourceProfileForDeviceRGB": "sRGB" } },
  "colorSpaces": {
    "sRGB": { "type": "RGB", "profile": "profiles/srgb.icc" },
    "sGray": { "type": "Gray", "profile": "profiles/sgray.icc" },
    "labD50": { "type": "Lab", "profile": "Lab" },
    "spot": { "type": "DeviceN" }
  },
  "assets": [ { "asset": "A0", "colorSpace": "sRGB" } ],
  "layouts": [
    { "layout": "L0", "colorSpace": "sRGB", "assets": [ { "asset": "A0", "colorSpace": "sRGB" } ] }
  ],
  "pages": [ { "layout": "L0", "colorSpace": "sRGB" } ]
}`

func TestParse_RoundTripsFields(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Layouts) != 1 || m.Layouts[0].Layout != "L0" {
		t.Fatalf("want one layout L0, got %+v", m.Layouts)
	}
	cs, ok := m.ResolveColorSpace("sRGB")
	if !ok || cs.Type != "RGB" {
		t.Fatalf("want sRGB resolved as RGB, got %+v ok=%v", cs, ok)
	}
}

func TestColorSpace_IsPassthroughWhenNoProfile(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	spot, ok := m.ResolveColorSpace("spot")
	if !ok {
		t.Fatal("want spot resolved")
	}
	if !spot.IsPassthrough() {
		t.Fatal("want spot color space passthrough (no profile)")
	}
}

type fakeFetcher struct {
	calls int
	data  []byte
}

func (f *fakeFetcher) Fetch(url string) ([]byte, error) {
	f.calls++
	return f.data, nil
}

func TestManifestProfileResolver_PassthroughAndLabAndBytes(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatal(err)
	}
	fetcher := &fakeFetcher{data: []byte("fake-icc-bytes")}
	r := NewManifestProfileResolver(m, fetcher, "https://example.test/manifest")

	pt, err := r.ResolveColorSpace("spot")
	if err != nil {
		t.Fatal(err)
	}
	if pt.Kind != ProfileKindNone {
		t.Fatalf("want passthrough for spot, got %v", pt.Kind)
	}

	pt, err = r.ResolveColorSpace("labD50")
	if err != nil {
		t.Fatal(err)
	}
	if pt.Kind != ProfileKindBuiltinLab {
		t.Fatalf("want builtin Lab sentinel, got %v", pt.Kind)
	}

	pt, err = r.ResolveColorSpace("sRGB")
	if err != nil {
		t.Fatal(err)
	}
	if pt.Kind != ProfileKindBytes || string(pt.Bytes) != "fake-icc-bytes" {
		t.Fatalf("want fetched bytes, got %+v", pt)
	}
	if fetcher.calls != 1 {
		t.Fatalf("want exactly one fetch call, got %d", fetcher.calls)
	}
}

func TestMemoryCache_GetPutRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	if _, _, ok := c.Get("missing"); ok {
		t.Fatal("want miss on empty cache")
	}
	c.Put("u", []byte("data"), 4)
	bytes, length, ok := c.Get("u")
	if !ok || string(bytes) != "data" || length != 4 {
		t.Fatalf("want cached entry round-tripped, got %q %d %v", bytes, length, ok)
	}
}
