package engineconfig

import (
	"testing"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
)

func TestDefault_UsesRelativeColorimetricAndInPlace(t *testing.T) {
	c := Default()
	if c.RenderingIntent != colorspace.IntentRelativeColorimetric {
		t.Fatalf("want default intent relative colorimetric, got %v", c.RenderingIntent)
	}
	if c.ProcessingStrategy != StrategyInPlace {
		t.Fatalf("want default strategy in_place, got %v", c.ProcessingStrategy)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
renderingIntent: preserve_k_only_relative_gcr
bpcEnabled: true
outputBitsPerComponent: "16"
processingStrategy: separate_chains
workerPoolSize: 8
pages: [3, 5, 7]
`))
	if err != nil {
		t.Fatal(err)
	}
	if c.RenderingIntent != colorspace.IntentPreserveKOnlyRelativeGCR {
		t.Fatalf("want overridden intent, got %v", c.RenderingIntent)
	}
	if !c.BPCEnabled {
		t.Fatal("want BPCEnabled true")
	}
	if c.OutputBitsPerComponent != 16 {
		t.Fatalf("want 16 bpc, got %d", c.OutputBitsPerComponent)
	}
	if c.ProcessingStrategy != StrategySeparateChains {
		t.Fatalf("want separate_chains, got %v", c.ProcessingStrategy)
	}
	if c.WorkerPoolSize != 8 {
		t.Fatalf("want overridden pool size 8, got %d", c.WorkerPoolSize)
	}
	if len(c.Pages) != 3 || c.Pages[1] != 5 {
		t.Fatalf("want pages [3 5 7], got %v", c.Pages)
	}
}

func TestParse_RejectsInvalidProcessingStrategy(t *testing.T) {
	_, err := Parse([]byte(`processingStrategy: bogus`))
	if err == nil {
		t.Fatal("want error for invalid processingStrategy")
	}
}

func TestParse_RejectsInvalidOutputBitsPerComponent(t *testing.T) {
	_, err := Parse([]byte(`outputBitsPerComponent: "12"`))
	if err == nil {
		t.Fatal("want error for invalid outputBitsPerComponent")
	}
}

func TestParse_EmptyDocumentYieldsDefaults(t *testing.T) {
	c, err := Parse([]byte(``))
	if err != nil {
		t.Fatal(err)
	}
	if c.WorkerPoolSize != Default().WorkerPoolSize {
		t.Fatalf("want default pool size preserved, got %d", c.WorkerPoolSize)
	}
}
