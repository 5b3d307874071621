// Package scheduler is the Pre-Converter Scheduler (L7): given a manifest,
// it groups (asset, layout_color_space) tuples into conversion chains,
// resolves original-vs-copy page ownership so each asset page is mutated
// in place by at most one chain, clones pages for every other consumer, and
// partitions each chain's pages into concurrent subsets run by the Document
// Converter (L6) (§4.8).
package scheduler

import (
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/convert"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
	"github.com/ConRes/conres.io-sub001/pkg/engine/manifest"
)

// AssetTuple identifies one instance of an asset page used in one layout
// (§3 "Asset tuple"). The deduplication key is (AssetIndex, LayoutColorSpace)
// — two layouts using the same asset in the same color space share one
// converted result.
type AssetTuple struct {
	AssetIndex       int
	AssetColorSpace  string
	LayoutColorSpace string
}

func (t AssetTuple) dedupKey() [2]interface{} {
	return [2]interface{}{t.AssetIndex, t.LayoutColorSpace}
}

// ChainKey names a conversion chain: "direct" (no intermediate) or
// "intermediate:<layout_color_space>".
type ChainKey string

const chainKeyDirect ChainKey = "direct"

func intermediateChainKey(name string) ChainKey {
	return ChainKey("intermediate:" + name)
}

// Chain groups every tuple that shares an intermediate profile, intent, and
// flag set (§3 "Conversion chain").
type Chain struct {
	Key                  ChainKey
	IntermediateProfiles []string
	Tuples               []AssetTuple

	// Pages are the source page numbers (1-based, into the owning context —
	// either the original asset library or this chain's own clone) that
	// back Tuples, same order.
	Pages []int
	// Owned reports whether this chain mutates the original asset page in
	// place (true) or a cloned, independent copy (false), per tuple, same
	// order as Pages/Tuples.
	Owned []bool
}

// PageMapping is the scheduler's output: which target page number each
// asset tuple ended up on, for the assembler to consume (§3 "Page mapping").
type PageMapping map[AssetTuple]int

// Plan is the classification result of step 1-2 of §4.8, before ownership
// assignment: the deduplicated chains plus the tuples marked passthrough.
type Plan struct {
	Chains      []Chain
	Passthrough []AssetTuple
}

// BuildPlan implements §4.8 steps 1-2: enumerate unique (layout, asset)
// pairs, deduplicate by (asset_index, layout_color_space), then classify
// each into passthrough, the direct chain, or an intermediate chain keyed
// by the layout's color space. Classification here only needs the
// manifest's own colorSpaces map (a color space with no profile is
// passthrough, per manifest.ColorSpace.IsPassthrough); opening the actual
// profile bytes for a chain is the caller's job, via a manifest.ProfileResolver,
// once a chain is about to execute.
func BuildPlan(m *manifest.Manifest) (Plan, error) {
	seen := map[[2]interface{}]bool{}
	chains := map[ChainKey]*Chain{}
	var passthrough []AssetTuple

	assetIndexByName := map[string]int{}
	for i, a := range m.Assets {
		assetIndexByName[a.Asset] = i
	}

	for _, layout := range m.Layouts {
		for _, ref := range layout.Assets {
			assetIdx, ok := assetIndexByName[ref.Asset]
			if !ok {
				return Plan{}, errors.Wrapf(engineerr.ErrInvalidArgument, "scheduler: layout %q references unknown asset %q", layout.Layout, ref.Asset)
			}
			tuple := AssetTuple{
				AssetIndex:       assetIdx,
				AssetColorSpace:  ref.ColorSpace,
				LayoutColorSpace: layout.ColorSpace,
			}
			key := tuple.dedupKey()
			if seen[key] {
				continue
			}
			seen[key] = true

			assetCS, ok := m.ResolveColorSpace(tuple.AssetColorSpace)
			if !ok {
				return Plan{}, errors.Wrapf(engineerr.ErrInvalidArgument, "scheduler: unknown asset color space %q", tuple.AssetColorSpace)
			}
			if assetCS.IsPassthrough() {
				passthrough = append(passthrough, tuple)
				continue
			}

			var chainKey ChainKey
			var intermediates []string
			if tuple.AssetColorSpace == tuple.LayoutColorSpace {
				chainKey = chainKeyDirect
			} else {
				chainKey = intermediateChainKey(tuple.LayoutColorSpace)
				intermediates = []string{tuple.LayoutColorSpace}
			}

			c, ok := chains[chainKey]
			if !ok {
				c = &Chain{Key: chainKey, IntermediateProfiles: intermediates}
				chains[chainKey] = c
			}
			c.Tuples = append(c.Tuples, tuple)
		}
	}

	keys := make([]ChainKey, 0, len(chains))
	for k := range chains {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := Plan{Passthrough: passthrough}
	for _, k := range keys {
		result.Chains = append(result.Chains, *chains[k])
	}
	return result, nil
}

// AssignOwnership implements §4.8 step 3: every passthrough tuple keeps the
// original page; for every other tuple, in the order chains were built, the
// first chain to need a given asset's original page claims it, and every
// later claimant queues for a clone. originalPageOf maps an asset index to
// its page number in the source asset-library document.
func AssignOwnership(plan Plan, originalPageOf func(assetIndex int) int) []Chain {
	claimed := map[int]bool{}
	for _, t := range plan.Passthrough {
		claimed[t.AssetIndex] = true
	}

	chains := make([]Chain, len(plan.Chains))
	for i, c := range plan.Chains {
		c.Pages = make([]int, len(c.Tuples))
		c.Owned = make([]bool, len(c.Tuples))
		for j, t := range c.Tuples {
			page := originalPageOf(t.AssetIndex)
			c.Pages[j] = page
			if !claimed[t.AssetIndex] {
				claimed[t.AssetIndex] = true
				c.Owned[j] = true
			}
		}
		chains[i] = c
	}
	return chains
}

// CloneUnownedPages implements §4.8 step 4: for each chain, collects the
// page numbers it does not own and issues exactly one clone call for the
// whole chain via pdfcpu.ExtractPages — never one clone call per page, and
// never sharing a clone call across chains. ExtractPages builds a brand new
// model.Context with its own object copier, so no two chains' clones can
// ever deduplicate a shared leaf stream (the invariant behind §3's "a clone
// operation... must not deduplicate stream objects across its outputs").
// It rewrites c.Pages in place for the cloned tuples to the corresponding
// page number in the returned clone context.
func CloneUnownedPages(src *model.Context, chain *Chain) (clone *model.Context, err error) {
	var unownedPages []int
	pageInClonePages := map[int]int{} // original page number -> index within unownedPages (1-based target)
	for i, owned := range chain.Owned {
		if owned {
			continue
		}
		page := chain.Pages[i]
		if _, ok := pageInClonePages[page]; !ok {
			unownedPages = append(unownedPages, page)
			pageInClonePages[page] = len(unownedPages)
		}
	}
	if len(unownedPages) == 0 {
		return nil, nil
	}

	clone, err = pdfcpu.ExtractPages(src, unownedPages, false)
	if err != nil {
		return nil, errors.Wrapf(err, "scheduler: clone pages for chain %s", chain.Key)
	}

	for i, owned := range chain.Owned {
		if owned {
			continue
		}
		chain.Pages[i] = pageInClonePages[chain.Pages[i]]
	}
	return clone, nil
}

// ResolveIntermediateProfiles turns chain.IntermediateProfiles from raw
// manifest layout-color-space names (e.g. "sRGB") into profile_refs a
// convert.DocumentProfileResolver can actually resolve, by looking each
// name up through resolver and interning any fetched bytes into ctx — the
// same context (original or cloned) this chain is about to execute
// against, per §4.10's "profiles named by the manifest are resolved once,
// before the chain touches its first page". It must run after ownership
// assignment and cloning (so ctx is the chain's real execution context) and
// before ExecuteChain.
func ResolveIntermediateProfiles(ctx *model.Context, chain *Chain, resolver manifest.ProfileResolver) error {
	if len(chain.IntermediateProfiles) == 0 {
		return nil
	}
	resolved := make([]string, len(chain.IntermediateProfiles))
	for i, name := range chain.IntermediateProfiles {
		ref, err := resolveIntermediateProfileRef(ctx, resolver, name)
		if err != nil {
			return errors.Wrapf(err, "scheduler: resolve intermediate profile %q for chain %s", name, chain.Key)
		}
		resolved[i] = ref
	}
	chain.IntermediateProfiles = resolved
	return nil
}

func resolveIntermediateProfileRef(ctx *model.Context, resolver manifest.ProfileResolver, name string) (string, error) {
	profile, err := resolver.ResolveColorSpace(name)
	if err != nil {
		return "", err
	}
	switch profile.Kind {
	case manifest.ProfileKindBytes:
		ref, err := convert.InternICCProfileStream(ctx.XRefTable, profile.Bytes)
		if err != nil {
			return "", err
		}
		return convert.ICCProfileRef(ref.ObjectNumber.Value()), nil
	case manifest.ProfileKindBuiltinLab:
		return convert.BuiltinLabProfileRef, nil
	default:
		return "", errors.Wrapf(engineerr.ErrInvalidArgument, "scheduler: intermediate color space %q has no profile to convert through", name)
	}
}

// ChainExecutionOptions carries the document-wide settings every chain's
// document converters share (§4.8 "Execute chains").
type ChainExecutionOptions struct {
	DestinationProfileBytes []byte
	DestinationFamily       colorspace.Family
	DestinationDescription  string
	Intent                  colorspace.RenderingIntent
	BPCEnabled              bool
	// Subsets bounds how many concurrent page subsets one chain is split
	// into (the "N" of §4.8 step 5). 0 defaults to 1 (no splitting).
	Subsets int
}

// ImageDispatcherFactory returns the convert.ImageDispatcher every subset of
// one chain shares — normally a worker.Pool shared across every chain and
// subset (§4.9), so shared-profile broadcast and the private per-worker
// transform cache amortize across the whole run. It is called once per
// chain, bound to ctx — the exact context (the claimed original document or
// this chain's own clone) that chain executes against — so the returned
// dispatcher's profile resolver is never bound to the wrong object-number
// space (§4.8 step 4's independently cloned contexts each have their own).
type ImageDispatcherFactory func(ctx *model.Context) convert.ImageDispatcher

// ExecuteChain implements §4.8 step 5 for one chain: partition its page set
// into up to Subsets concurrent round-robin groups, run one document
// converter per group against ctx (which is either the claimed original
// document or this chain's clone), and await all groups before returning.
// Chains themselves are executed strictly in sequence by the caller — never
// two chains concurrently — so the buffer converter's compiled-transform
// cache hits amortize across a chain's subsets (§4.8's closing "concurrency
// ordering" note).
func ExecuteChain(ctx *model.Context, chain Chain, opts ChainExecutionOptions, dispatcher ImageDispatcherFactory, adapter *icc.Adapter) error {
	n := opts.Subsets
	if n <= 0 {
		n = 1
	}
	subsets := partitionRoundRobin(chain.Pages, n)

	// Built once per chain, not per subset: every subset of this chain
	// shares one dispatcher bound to ctx, so a pool's resolver swap (and an
	// inline BufferConverter's compiled-transform cache) is set up exactly
	// once and amortizes across the chain's subsets rather than per-subset.
	images := dispatcher(ctx)

	type result struct{ err error }
	results := make(chan result, len(subsets))

	for _, subset := range subsets {
		subset := subset
		if len(subset) == 0 {
			results <- result{}
			continue
		}
		go func() {
			pageSet := make(map[int]bool, len(subset))
			for _, p := range subset {
				pageSet[p] = true
			}
			dc := convert.NewDocumentConverter(ctx, adapter, images)
			err := dc.ConvertColor(convert.DocumentConversionOptions{
				DestinationProfileBytes: opts.DestinationProfileBytes,
				DestinationFamily:       opts.DestinationFamily,
				DestinationDescription:  opts.DestinationDescription,
				IntermediateProfiles:    chain.IntermediateProfiles,
				Intent:                  opts.Intent,
				BPCEnabled:              opts.BPCEnabled,
				Pages:                   pageSet,
			}, nil)
			results <- result{err: err}
		}()
	}

	var firstErr error
	for range subsets {
		if r := <-results; r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return firstErr
}

// partitionRoundRobin splits pages into up to n groups by round-robin
// assignment (§4.8 step 5 "partition its page set into up to N concurrent
// subsets (round-robin)"), preserving each group's ascending index order
// per §5's "Pages within one chain subset are dispatched in ascending index
// order".
func partitionRoundRobin(pages []int, n int) [][]int {
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)
	groups := make([][]int, n)
	for i, p := range sorted {
		groups[i%n] = append(groups[i%n], p)
	}
	return groups
}

// BuildPageMapping implements §4.8 step 6, folding a chain's resolved pages
// back into the tuple -> target-page-number map the assembler consumes.
func BuildPageMapping(chains []Chain, passthroughPages map[AssetTuple]int) PageMapping {
	mapping := make(PageMapping)
	for t, p := range passthroughPages {
		mapping[t] = p
	}
	for _, c := range chains {
		for i, t := range c.Tuples {
			mapping[t] = c.Pages[i]
		}
	}
	return mapping
}
