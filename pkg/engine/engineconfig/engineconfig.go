// Package engineconfig is the engine's YAML configuration layer, mirroring
// the teacher's model.Configuration / parseConfig.go shape: a private,
// yaml-tagged raw struct decoded by gopkg.in/yaml.v2, translated and
// validated into a public Config the rest of the engine is written
// against. Every named option enumerated by §9's "Dynamic named parameters"
// design note gets an explicit field here rather than a free-form map.
package engineconfig

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineerr"
)

// rawConfig is the literal YAML document shape; every field is a plain
// scalar or slice so yaml.v2 needs no custom unmarshaler, matching the
// teacher's own configuration.go.
type rawConfig struct {
	RenderingIntent            string   `yaml:"renderingIntent"`
	BPCEnabled                 bool     `yaml:"bpcEnabled"`
	UseAdaptiveBPCClamping     bool     `yaml:"useAdaptiveBpcClamping"`
	DestinationProfile         string   `yaml:"destinationProfile"`
	DestinationColorSpace      string   `yaml:"destinationColorSpace"`
	OutputBitsPerComponent     string   `yaml:"outputBitsPerComponent"` // "8" | "16" | "auto"
	ConvertImages              bool     `yaml:"convertImages"`
	ConvertContentStreams      bool     `yaml:"convertContentStreams"`
	UseWorkers                 bool     `yaml:"useWorkers"`
	WorkerPoolSize             int      `yaml:"workerPoolSize"`
	Verbose                    bool     `yaml:"verbose"`
	IntermediateProfiles       []string `yaml:"intermediateProfiles"`
	Pages                      []int    `yaml:"pages"`
	InterConversionDelayMillis int      `yaml:"interConversionDelayMillis"`
	ProcessingStrategy         string   `yaml:"processingStrategy"` // in_place | separate_chains | recombined_chains
}

// Config is the validated, typed configuration the rest of the engine
// consumes.
type Config struct {
	RenderingIntent             colorspace.RenderingIntent
	BPCEnabled                  bool
	UseAdaptiveBPCClamping      bool
	DestinationProfile          string
	DestinationColorSpace       string
	OutputBitsPerComponent      int // 0 means "auto"
	ConvertImages               bool
	ConvertContentStreams       bool
	UseWorkers                  bool
	WorkerPoolSize              int
	Verbose                     bool
	IntermediateProfiles        []string
	Pages                       []int
	InterConversionDelayMillis  int
	ProcessingStrategy          ProcessingStrategy
}

// ProcessingStrategy names one of the three strategies the Scheduler API
// exposes (§6 "Options").
type ProcessingStrategy int

const (
	StrategyInPlace ProcessingStrategy = iota
	StrategySeparateChains
	StrategyRecombinedChains
)

func memberOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Default returns the engine's built-in defaults, used whenever a caller
// does not supply a YAML document at all.
func Default() *Config {
	return &Config{
		RenderingIntent:        colorspace.IntentRelativeColorimetric,
		ConvertImages:          true,
		ConvertContentStreams:  true,
		UseWorkers:             true,
		WorkerPoolSize:         4,
		ProcessingStrategy:     StrategyInPlace,
		OutputBitsPerComponent: 0,
	}
}

// Parse decodes and validates a YAML configuration document, applying
// Default() for any field not present in data.
func Parse(data []byte) (*Config, error) {
	// yaml.v2 leaves fields whose keys are absent untouched, so the boolean
	// options that default to true are seeded from Default() before decoding.
	d := Default()
	raw := rawConfig{
		ConvertImages:         d.ConvertImages,
		ConvertContentStreams: d.ConvertContentStreams,
		UseWorkers:            d.UseWorkers,
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(engineerr.ErrInvalidArgument, "engineconfig: parse: "+err.Error())
	}
	return loadedConfig(raw)
}

func loadedConfig(c rawConfig) (*Config, error) {
	conf := Default()

	if c.RenderingIntent != "" {
		intent, err := parseIntent(c.RenderingIntent)
		if err != nil {
			return nil, err
		}
		conf.RenderingIntent = intent
	}
	conf.BPCEnabled = c.BPCEnabled
	conf.UseAdaptiveBPCClamping = c.UseAdaptiveBPCClamping
	conf.DestinationProfile = c.DestinationProfile
	conf.DestinationColorSpace = c.DestinationColorSpace

	if c.OutputBitsPerComponent != "" {
		switch c.OutputBitsPerComponent {
		case "8":
			conf.OutputBitsPerComponent = 8
		case "16":
			conf.OutputBitsPerComponent = 16
		case "auto":
			conf.OutputBitsPerComponent = 0
		default:
			return nil, errors.Errorf("engineconfig: invalid outputBitsPerComponent: %s", c.OutputBitsPerComponent)
		}
	}

	conf.ConvertImages = c.ConvertImages
	conf.ConvertContentStreams = c.ConvertContentStreams
	conf.UseWorkers = c.UseWorkers
	if c.WorkerPoolSize > 0 {
		conf.WorkerPoolSize = c.WorkerPoolSize
	}
	conf.Verbose = c.Verbose
	conf.IntermediateProfiles = c.IntermediateProfiles
	conf.Pages = c.Pages
	conf.InterConversionDelayMillis = c.InterConversionDelayMillis

	if c.ProcessingStrategy != "" {
		strategy, err := parseStrategy(c.ProcessingStrategy)
		if err != nil {
			return nil, err
		}
		conf.ProcessingStrategy = strategy
	}

	return conf, nil
}

func parseIntent(s string) (colorspace.RenderingIntent, error) {
	switch s {
	case "perceptual":
		return colorspace.IntentPerceptual, nil
	case "relative_colorimetric":
		return colorspace.IntentRelativeColorimetric, nil
	case "saturation":
		return colorspace.IntentSaturation, nil
	case "absolute_colorimetric":
		return colorspace.IntentAbsoluteColorimetric, nil
	case "preserve_k_only_relative_gcr":
		return colorspace.IntentPreserveKOnlyRelativeGCR, nil
	default:
		return 0, errors.Errorf("engineconfig: invalid renderingIntent: %s", s)
	}
}

func parseStrategy(s string) (ProcessingStrategy, error) {
	if !memberOf(s, []string{"in_place", "separate_chains", "recombined_chains"}) {
		return 0, errors.Errorf("engineconfig: invalid processingStrategy: %s", s)
	}
	switch s {
	case "in_place":
		return StrategyInPlace, nil
	case "separate_chains":
		return StrategySeparateChains, nil
	default:
		return StrategyRecombinedChains, nil
	}
}

func (s ProcessingStrategy) String() string {
	switch s {
	case StrategyInPlace:
		return "in_place"
	case StrategySeparateChains:
		return "separate_chains"
	case StrategyRecombinedChains:
		return "recombined_chains"
	default:
		return strings.TrimSpace("unknown")
	}
}
