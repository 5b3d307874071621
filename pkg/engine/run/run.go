// Package run wires the scheduler (L7), document converter (L6), and
// worker pool (L8) into the single entry point the Scheduler API (§6)
// and the CLI both call: generate(...) -> (pdf_bytes, metadata_json).
// Everything below this package (L0-L6) and the manifest/scheduler
// packages is reusable independent of how it is invoked; this package is
// the one place that owns a whole run end to end.
package run

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/convert"
	"github.com/ConRes/conres.io-sub001/pkg/engine/diag"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
	"github.com/ConRes/conres.io-sub001/pkg/engine/icc"
	"github.com/ConRes/conres.io-sub001/pkg/engine/manifest"
	"github.com/ConRes/conres.io-sub001/pkg/engine/scheduler"
	"github.com/ConRes/conres.io-sub001/pkg/engine/worker"
)

// Options mirrors the Scheduler API's documented options (§6): every field
// a caller-supplied `generate` request can set.
type Options struct {
	Version                 string
	ICCProfileBytes         []byte
	UserMetadata            map[string]string
	Debugging               bool
	OutputBitsPerComponent  int // 0 = auto, else 8 or 16; Generate does not read it, converted images keep their source bit depth
	UseWorkers              bool
	WorkerCount             int
	DestinationFamily       colorspace.Family
	DestinationDescription  string
	Intent                  colorspace.RenderingIntent
	BPCEnabled              bool
	PageFilter              []int // 1-based page indices; Generate does not read it and converts every page of every chain

	// ManifestBaseURL prefixes any relative profile path the manifest
	// names (§6's manifest "profile?: <relative-path>"), so intermediate
	// and asset profiles resolve against the manifest's own origin.
	ManifestBaseURL string
	// AssetFetcher fetches manifest-named profile bytes by URL. nil builds
	// a manifest.HTTPFetcher with an in-process cache.
	AssetFetcher manifest.AssetFetcher
}

// ProgressFunc mirrors on_progress(stage, percent, message) (§6).
type ProgressFunc func(stage string, percent float64, message string)

// Result is generate's return value (§6 "-> { pdf_bytes, metadata_json }").
type Result struct {
	PDFBytes     []byte
	MetadataJSON []byte
}

type runMetadata struct {
	Version        string            `json:"version"`
	GeneratedPages int               `json:"generatedPages"`
	ChainCount     int               `json:"chainCount"`
	PassthroughCount int             `json:"passthroughCount"`
	UserMetadata   map[string]string `json:"userMetadata,omitempty"`
	Spans          []diag.Span       `json:"spans,omitempty"`
}

// Stages are the strings reported via on_progress (§6 "Stages").
const (
	StageLoading     = "loading"
	StagePreparing   = "preparing"
	StageAssembling  = "assembling"
	StageConverting  = "converting"
	StageFinalizing  = "finalizing"
	StageSaving      = "saving"
	StageDone        = "done"
)

// Generate implements the Scheduler API's generate(...) operation: read the
// source document and manifest, plan conversion chains, execute each chain
// through the document converter (optionally on a worker pool), and return
// the resulting PDF bytes plus a small JSON metadata summary.
func Generate(sourcePDF io.ReadSeeker, manifestBytes []byte, opts Options, onProgress ProgressFunc, log *zap.Logger) (*Result, error) {
	if onProgress == nil {
		onProgress = func(string, float64, string) {}
	}
	if log == nil {
		log = zap.NewNop()
	}
	spans := diag.NewTree(log)
	runSpan := spans.Start("generate", 0)
	defer spans.Close(runSpan)

	onProgress(StageLoading, 0, "reading source document")
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadContext(sourcePDF, conf)
	if err != nil {
		return nil, errors.Wrap(err, "run: read source document")
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, errors.Wrap(err, "run: determine page count")
	}

	m, err := manifest.Parse(manifestBytes)
	if err != nil {
		return nil, errors.Wrap(err, "run: parse manifest")
	}

	onProgress(StagePreparing, 10, "planning conversion chains")
	plan, err := scheduler.BuildPlan(m)
	if err != nil {
		return nil, errors.Wrap(err, "run: build plan")
	}

	originalPageOf := func(assetIndex int) int { return assetIndex + 1 }
	chains := scheduler.AssignOwnership(plan, originalPageOf)

	fetcher := opts.AssetFetcher
	if fetcher == nil {
		fetcher = manifest.NewHTTPFetcher(nil, nil)
	}
	profileResolver := manifest.NewManifestProfileResolver(m, fetcher, opts.ManifestBaseURL)

	adapter := icc.New()

	var dispatcher scheduler.ImageDispatcherFactory
	var pool *worker.Pool
	if opts.UseWorkers {
		n := opts.WorkerCount
		if n <= 0 {
			n = 4
		}
		pool = worker.New(n, 64, convert.NewDocumentProfileResolver(ctx.XRefTable, adapter))
		// DestinationProfileRef is left unset here: each chain's own
		// DocumentConverter interns the destination profile against its own
		// xref table (original or clone) and stamps the resulting ref onto
		// every per-image task it dispatches, so workers always resolve a
		// task-local ref rather than a pool-wide broadcast one.
		pool.SetSharedProfiles(worker.SharedProfiles{
			DestinationFamily: opts.DestinationFamily,
			Intent:            opts.Intent,
			BPCEnabled:        opts.BPCEnabled,
		})
		defer pool.Shutdown()
		// Rebinds the pool's resolver to whichever context (the original
		// document or this chain's own clone) the chain about to run
		// actually executes against — ExecuteChain calls this exactly once
		// per chain, never mid-chain, so the swap never races a chain's own
		// in-flight tasks (see worker.Pool.SetResolver).
		dispatcher = func(chainCtx *model.Context) convert.ImageDispatcher {
			pool.SetResolver(convert.NewDocumentProfileResolver(chainCtx.XRefTable, adapter))
			return pool
		}
	} else {
		dispatcher = func(chainCtx *model.Context) convert.ImageDispatcher {
			resolver := convert.NewDocumentProfileResolver(chainCtx.XRefTable, adapter)
			return convert.InlineImageDispatcher{Images: convert.NewImageConverter(convert.NewBufferConverter(adapter, resolver, 32))}
		}
	}

	onProgress(StageConverting, 30, "executing conversion chains")
	chainExecOpts := scheduler.ChainExecutionOptions{
		DestinationProfileBytes: opts.ICCProfileBytes,
		DestinationFamily:       opts.DestinationFamily,
		DestinationDescription:  opts.DestinationDescription,
		Intent:                  opts.Intent,
		BPCEnabled:              opts.BPCEnabled,
		Subsets:                 4,
	}

	// Chains execute strictly in sequence (§4.8's closing "concurrency
	// ordering" note), each against either the claimed original document or
	// an independently cloned one.
	for i, chain := range chains {
		chainSpan := spans.Start("chain", runSpan)
		spans.SetAttribute(chainSpan, "chain_key", string(chain.Key))

		target := ctx
		needsClone := false
		for _, owned := range chain.Owned {
			if !owned {
				needsClone = true
				break
			}
		}
		if needsClone {
			clone, err := scheduler.CloneUnownedPages(ctx, &chains[i])
			if err != nil {
				spans.Abort(chainSpan)
				return nil, err
			}
			if clone != nil {
				target = clone
			}
		}

		if err := scheduler.ResolveIntermediateProfiles(target, &chains[i], profileResolver); err != nil {
			spans.Abort(chainSpan)
			return nil, err
		}

		if err := scheduler.ExecuteChain(target, chains[i], chainExecOpts, dispatcher, adapter); err != nil {
			spans.Abort(chainSpan)
			return nil, errors.Wrapf(err, "run: execute chain %s", chain.Key)
		}
		spans.Close(chainSpan)
	}

	onProgress(StageFinalizing, 80, "finalizing document")
	onProgress(StageSaving, 90, "serializing output")

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, errors.Wrap(err, "run: write output document")
	}

	meta := runMetadata{
		Version:          opts.Version,
		GeneratedPages:   ctx.PageCount,
		ChainCount:       len(chains),
		PassthroughCount: len(plan.Passthrough),
		UserMetadata:     opts.UserMetadata,
	}
	if opts.Debugging {
		meta.Spans = spans.Snapshot()
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(engineerr.ErrInvalidArgument, "run: marshal metadata: "+err.Error())
	}

	onProgress(StageDone, 100, "done")

	return &Result{PDFBytes: buf.Bytes(), MetadataJSON: metaJSON}, nil
}
