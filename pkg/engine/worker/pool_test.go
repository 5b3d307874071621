package worker

import (
	"context"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	upstream "seehuhn.de/go/icc"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/convert"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
)

type fakeResolver struct{ h icc.ProfileHandle }

func (f fakeResolver) ResolveProfileRef(ref string) (icc.ProfileHandle, error) {
	return f.h, nil
}

func newTestPool(t *testing.T) (*Pool, icc.ProfileHandle) {
	t.Helper()
	adapter := icc.New()
	h, err := adapter.BuiltinProfile(icc.BuiltinSGray)
	if err != nil {
		t.Fatal(err)
	}
	pool := New(2, 8, fakeResolver{h: h})
	t.Cleanup(pool.Shutdown)
	return pool, h
}

func TestPool_DispatchImageFillsFromSharedProfiles(t *testing.T) {
	pool, _ := newTestPool(t)
	pool.SetSharedProfiles(SharedProfiles{
		DestinationProfileRef: "icc:1",
		DestinationFamily:     colorspace.FamilyDeviceGray,
		Intent:                colorspace.IntentRelativeColorimetric,
	})

	rec := convert.ImageRecord{
		ColorSpace:       colorspace.Descriptor{Family: colorspace.FamilyDeviceGray},
		BitsPerComponent: 8,
		Width:            1,
		Height:           1,
		Content:          []byte{128},
	}
	// opts deliberately omits DestinationProfileRef/Family; the worker must
	// fill them from the broadcast before running the conversion.
	out, err := pool.DispatchImage(rec, convert.ImageConvertOptions{
		Intent: colorspace.IntentRelativeColorimetric,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.ColorSpace.Family != colorspace.FamilyICCBased {
		t.Fatalf("want converted descriptor ICCBased, got %v", out.ColorSpace.Family)
	}
}

func TestPool_DispatchImageContextCanceledBeforeEnqueue(t *testing.T) {
	pool, _ := newTestPool(t)
	pool.SetSharedProfiles(SharedProfiles{DestinationProfileRef: "icc:1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.DispatchImageContext(ctx, convert.ImageRecord{}, convert.ImageConvertOptions{})
	if err == nil {
		t.Fatal("want error for pre-canceled context")
	}
}

func TestPool_ConcurrentDispatchAllComplete(t *testing.T) {
	pool, _ := newTestPool(t)
	pool.SetSharedProfiles(SharedProfiles{
		DestinationProfileRef: "icc:1",
		DestinationFamily:     colorspace.FamilyDeviceGray,
	})

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			rec := convert.ImageRecord{
				ColorSpace:       colorspace.Descriptor{Family: colorspace.FamilyDeviceGray},
				BitsPerComponent: 8,
				Width:            1,
				Height:           1,
				Content:          []byte{64},
			}
			_, err := pool.DispatchImage(rec, convert.ImageConvertOptions{})
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("dispatch %d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent dispatch")
		}
	}
}

func newTestWorkerContext(t *testing.T) *model.Context {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	ctx, err := pdfcpu.CreateContextWithXRefTable(conf, nil)
	if err != nil {
		t.Fatalf("CreateContextWithXRefTable: %v", err)
	}
	return ctx
}

// TestPool_SetResolver_BindsEachChainToItsOwnContext covers two chains
// whose pages don't share ownership, run against two independent
// *model.Context values (one the claimed original, one a clone) but
// dispatch through the same shared worker.Pool. original and clone are
// built the same way, so the object number original's interned profile
// lands on is still free in clone: the same profile_ref string names a
// real ICC stream in original and nothing at all in clone, the way two
// independently cloned contexts can collide on object numbers. A pool
// whose resolver is never rebound to the context a chain is actually
// executing against would either error or silently resolve the wrong
// stream. Binding the pool's resolver per chain via SetResolver must keep
// both chains correct.
func TestPool_SetResolver_BindsEachChainToItsOwnContext(t *testing.T) {
	original := newTestWorkerContext(t)
	ref, err := convert.InternICCProfileStream(original.XRefTable, upstream.SRGBv4Profile)
	if err != nil {
		t.Fatalf("InternICCProfileStream: %v", err)
	}
	originalRef := convert.ICCProfileRef(ref.ObjectNumber.Value())

	// clone is built identically and nothing has been interned into it yet,
	// so it has no object at ref's number: resolving originalRef against it
	// must fail.
	clone := newTestWorkerContext(t)

	adapter := icc.New()
	pool := New(1, 4, convert.NewDocumentProfileResolver(original.XRefTable, adapter))
	t.Cleanup(pool.Shutdown)
	// DestinationProfileRef travels in the broadcast here, not on the task, so
	// the worker fills it in from SharedProfiles; run.Generate instead leaves
	// the broadcast ref unset and the document converter stamps it on every task.
	pool.SetSharedProfiles(SharedProfiles{
		DestinationFamily:     colorspace.FamilyICCBased,
		DestinationProfileRef: originalRef,
	})

	// A DeviceGray source needs no profile of its own (it resolves through
	// the engine's profile-less sGray sentinel), isolating the resolver
	// call this test cares about to the destination link alone.
	rec := convert.ImageRecord{
		ColorSpace:       colorspace.Descriptor{Family: colorspace.FamilyDeviceGray},
		BitsPerComponent: 8,
		Width:            1,
		Height:           1,
		Content:          []byte{128},
	}

	// Chain 1 executes against original: resolver already bound there.
	if _, err := pool.DispatchImage(rec, convert.ImageConvertOptions{}); err != nil {
		t.Fatalf("dispatch against original context: %v", err)
	}

	// Chain 2 executes against clone; the dispatcher factory rebinds the
	// pool's resolver here, once, before any of chain 2's tasks are
	// dispatched.
	pool.SetResolver(convert.NewDocumentProfileResolver(clone.XRefTable, adapter))

	if _, err := pool.DispatchImage(rec, convert.ImageConvertOptions{}); err == nil {
		t.Fatal("want error resolving chain 1's ref against chain 2's clone context (object number not present there), proving SetResolver actually rebinds rather than leaving the old context's resolver live")
	}
}
