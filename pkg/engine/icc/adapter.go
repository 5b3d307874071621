// Package icc is the Color Engine Adapter (L0): a narrow, typed, handle-based
// façade over seehuhn.de/go/icc, the ICC color engine this module treats as
// an external collaborator (per the core's scope). Nothing above this layer
// touches an *icc.Profile or *icc.Transform directly.
package icc

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	upstream "seehuhn.de/go/icc"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// ProfileHandle is an opaque reference to a parsed ICC profile, owned by the
// Adapter and reference-counted externally (§3 "Profile handle").
type ProfileHandle int

// TransformHandle is an opaque reference to a compiled transform.
type TransformHandle int

// BuiltinKind enumerates the engine's built-in profiles.
type BuiltinKind int

const (
	BuiltinSGray BuiltinKind = iota
	BuiltinSRGB
	BuiltinLabD50
)

// linkKind discriminates how a chain link's device<->PCS conversion is
// performed: through a parsed upstream profile, or through one of the
// engine's two profile-less sentinels (Lab, passthrough sGray).
type linkKind int

const (
	linkKindProfile linkKind = iota
	linkKindLab
	linkKindGray
)

type profileEntry struct {
	profile  *upstream.Profile
	refCount int
	kind     linkKind
}

type transformEntry struct {
	// toPCS[i] converts profileChain[i]'s device space to PCS; fromPCS[i]
	// converts PCS back to profileChain[i]'s device space. Exactly one of
	// the two is used per link, depending on direction of traversal. Both
	// are nil for a sentinel link (linkKinds[i] != linkKindProfile).
	toPCS        []*upstream.Transform
	fromPCS      []*upstream.Transform
	linkKinds    []linkKind
	profileChain []colorspace.ProfileChainLink
	intentChain  []colorspace.RenderingIntent
	inFormat     colorspace.PixelFormat
	outFormat    colorspace.PixelFormat
	flags        colorspace.Flag
}

// Adapter is the L0 façade. One Adapter is safe to share across goroutines;
// each worker in the pool (L8) is expected to hold its own private Adapter
// rather than share one, per §5's "private engine adapter" requirement.
type Adapter struct {
	mu            sync.Mutex
	profiles      map[ProfileHandle]*profileEntry
	transforms    map[TransformHandle]*transformEntry
	nextProfile   ProfileHandle
	nextTransform TransformHandle
}

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{
		profiles:   make(map[ProfileHandle]*profileEntry),
		transforms: make(map[TransformHandle]*transformEntry),
	}
}

// OpenProfile parses ICC bytes into a new profile handle.
func (a *Adapter) OpenProfile(data []byte) (ProfileHandle, error) {
	p, err := upstream.Decode(data)
	if err != nil {
		return 0, errors.Wrap(engineerr.ErrProfileMalformed, err.Error())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextProfile++
	h := a.nextProfile
	a.profiles[h] = &profileEntry{profile: p, refCount: 1}
	return h, nil
}

// BuiltinProfile opens one of the engine's built-in profiles. sGray and
// Lab_D50 have no embedded ICC bytes in the underlying engine (it ships only
// RGB/CMYK samples), so both are served as engine-internal sentinels with
// their own fixed-formula PCS conversion (sRGB itself is the one builtin
// backed by real profile bytes).
func (a *Adapter) BuiltinProfile(kind BuiltinKind) (ProfileHandle, error) {
	switch kind {
	case BuiltinSGray:
		a.mu.Lock()
		defer a.mu.Unlock()
		a.nextProfile++
		h := a.nextProfile
		a.profiles[h] = &profileEntry{kind: linkKindGray, refCount: 1}
		return h, nil
	case BuiltinSRGB:
		return a.OpenProfile(upstream.SRGBv4Profile)
	case BuiltinLabD50:
		a.mu.Lock()
		defer a.mu.Unlock()
		a.nextProfile++
		h := a.nextProfile
		a.profiles[h] = &profileEntry{kind: linkKindLab, refCount: 1}
		return h, nil
	default:
		return 0, errors.Wrap(engineerr.ErrInvalidArgument, "icc: unknown builtin kind")
	}
}

// Retain increments a profile handle's reference count; a handle with
// multiple logical owners must be retained once per additional owner.
func (a *Adapter) Retain(h ProfileHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.profiles[h]
	if !ok {
		return errors.Wrap(engineerr.ErrInvalidArgument, "icc: retain of unknown profile handle")
	}
	e.refCount++
	return nil
}

// Close releases one reference to a profile or transform handle, freeing the
// underlying engine resource once the reference count reaches zero.
func (a *Adapter) Close(h interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch handle := h.(type) {
	case ProfileHandle:
		e, ok := a.profiles[handle]
		if !ok {
			return errors.Wrap(engineerr.ErrInvalidArgument, "icc: close of unknown profile handle")
		}
		e.refCount--
		if e.refCount <= 0 {
			delete(a.profiles, handle)
		}
		return nil
	case TransformHandle:
		delete(a.transforms, handle)
		return nil
	default:
		return errors.Wrap(engineerr.ErrInvalidArgument, "icc: close of unrecognized handle type")
	}
}

func (a *Adapter) lookupProfile(h ProfileHandle) (*profileEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.profiles[h]
	if !ok {
		return nil, errors.Wrap(engineerr.ErrInvalidArgument, "icc: unknown profile handle")
	}
	return e, nil
}

func upstreamIntent(intent colorspace.RenderingIntent) upstream.RenderingIntent {
	switch intent {
	case colorspace.IntentPerceptual:
		return upstream.Perceptual
	case colorspace.IntentSaturation:
		return upstream.Saturation
	case colorspace.IntentAbsoluteColorimetric:
		return upstream.AbsoluteColorimetric
	default:
		// RelativeColorimetric and the custom preserve-K-only intent both
		// compile to the engine's Relative Colorimetric LUT selection; the
		// K-only behavior is layered on top in ApplyTransform, not inside
		// the compiled transform itself.
		return upstream.RelativeColorimetric
	}
}

// CreateTransform compiles a two-profile transform. The contract is a single
// rendering intent applied to both links.
func (a *Adapter) CreateTransform(src, dst ProfileHandle, inFmt, outFmt colorspace.PixelFormat, intent colorspace.RenderingIntent, flags colorspace.Flag) (TransformHandle, error) {
	return a.CreateMultiprofileTransform([]ProfileHandle{src, dst}, inFmt, outFmt, intent, flags)
}

// CreateMultiprofileTransform compiles a chain of >= 2 profiles as a single
// handle. intent is deliberately a single value, not a per-link array: the
// contract is that one rendering intent governs the whole chain (§4.1's
// documented pitfall is passing an array here instead).
func (a *Adapter) CreateMultiprofileTransform(chain []ProfileHandle, inFmt, outFmt colorspace.PixelFormat, intent colorspace.RenderingIntent, flags colorspace.Flag) (TransformHandle, error) {
	if len(chain) < 2 {
		return 0, errors.Wrap(engineerr.ErrInvalidArgument, "icc: transform chain must have length >= 2")
	}

	entries := make([]*profileEntry, len(chain))
	for i, h := range chain {
		e, err := a.lookupProfile(h)
		if err != nil {
			return 0, err
		}
		entries[i] = e
	}

	upIntent := upstreamIntent(intent)

	toPCS := make([]*upstream.Transform, len(entries))
	fromPCS := make([]*upstream.Transform, len(entries))
	linkKinds := make([]linkKind, len(entries))
	for i, e := range entries {
		linkKinds[i] = e.kind
		if e.kind != linkKindProfile {
			// Sentinel links (Lab, sGray) have no compiled upstream
			// transform; ApplyTransform converts them with fixed formulas.
			continue
		}
		t, err := upstream.NewTransform(e.profile, upstream.DeviceToPCS, upIntent)
		if err != nil {
			return 0, errors.Wrap(engineerr.ErrTransformUnsupported, err.Error())
		}
		toPCS[i] = t
		t2, err := upstream.NewTransform(e.profile, upstream.PCSToDevice, upIntent)
		if err != nil {
			return 0, errors.Wrap(engineerr.ErrTransformUnsupported, err.Error())
		}
		fromPCS[i] = t2
	}

	profileChain := make([]colorspace.ProfileChainLink, len(chain))
	intentChain := make([]colorspace.RenderingIntent, len(chain))
	for i, e := range entries {
		switch e.kind {
		case linkKindLab:
			profileChain[i] = colorspace.ProfileChainLink{IsLab: true}
		case linkKindGray:
			profileChain[i] = colorspace.ProfileChainLink{IsGray: true}
		default:
			profileChain[i] = colorspace.ProfileChainLink{ProfileRef: profileRefOf(chain[i])}
		}
		intentChain[i] = intent
	}

	a.mu.Lock()
	a.nextTransform++
	h := a.nextTransform
	a.transforms[h] = &transformEntry{
		toPCS:        toPCS,
		fromPCS:      fromPCS,
		linkKinds:    linkKinds,
		profileChain: profileChain,
		intentChain:  intentChain,
		inFormat:     inFmt,
		outFormat:    outFmt,
		flags:        flags,
	}
	a.mu.Unlock()

	return h, nil
}

// profileRefOf renders a profile handle as an opaque cache-key token. Two
// transforms built from the same handle get the same token.
func profileRefOf(h ProfileHandle) string {
	return "profile#" + strconv.Itoa(int(h))
}
