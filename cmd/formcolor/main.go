// Package main provides the command line for running the color-conversion
// engine directly against local files, in the spirit of the teacher's own
// flag-based cmd/pdfcpu: a command name first, then flags, then positional
// filenames.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ConRes/conres.io-sub001/internal/genserver"
	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/engineconfig"
	"github.com/ConRes/conres.io-sub001/pkg/engine/run"
)

var (
	manifestPath string
	configPath   string
	outPath      string
	host, port   string
	verbose      bool

	needStackTrace = true
)

const usage = `formcolor is the color-conversion engine's command line.

Usage:

	formcolor generate -manifest manifest.json [-config engine.yaml] [-out out.pdf] input.pdf
	formcolor serve [-host 127.0.0.1] [-port 8888]

Run 'formcolor help command' for command-specific flags.
`

func init() {
	flag.StringVar(&manifestPath, "manifest", "", "path to the conversion manifest (JSON)")
	flag.StringVar(&configPath, "config", "", "path to an engine configuration document (YAML)")
	flag.StringVar(&outPath, "out", "", "output PDF path (default: <input>_converted.pdf)")
	flag.StringVar(&host, "host", "127.0.0.1", "serve: bind host")
	flag.StringVar(&port, "port", "8888", "serve: bind port")
	flag.BoolVar(&verbose, "verbose", false, "")
	flag.BoolVar(&verbose, "v", false, "")
}

func main() {
	if len(os.Args) == 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]

	if err := flag.CommandLine.Parse(os.Args[2:]); err != nil {
		os.Exit(1)
	}
	needStackTrace = verbose

	switch command {
	case "generate":
		generateCommand()
	case "serve":
		serveCommand()
	case "h", "help":
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "formcolor: unknown command %q\n", command)
		fmt.Fprintln(os.Stderr, "Run 'formcolor help' for usage.")
		os.Exit(1)
	}
}

func fatal(err error) {
	if needStackTrace {
		fmt.Fprintf(os.Stderr, "Fatal: %+v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	os.Exit(1)
}

func generateCommand() {
	args := flag.Args()
	if len(args) != 1 || manifestPath == "" {
		fmt.Fprintln(os.Stderr, "usage: formcolor generate -manifest manifest.json [-config engine.yaml] [-out out.pdf] input.pdf")
		os.Exit(1)
	}
	inPath := args[0]
	if outPath == "" {
		outPath = defaultFilenameOut(inPath)
	}

	source, err := os.Open(inPath)
	if err != nil {
		fatal(err)
	}
	defer source.Close()

	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		fatal(err)
	}

	conf := engineconfig.Default()
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			fatal(err)
		}
		conf, err = engineconfig.Parse(raw)
		if err != nil {
			fatal(err)
		}
	}

	opts := run.Options{
		UseWorkers: conf.UseWorkers,
		WorkerCount: conf.WorkerPoolSize,
		Intent:     conf.RenderingIntent,
		BPCEnabled: conf.BPCEnabled,
		PageFilter: conf.Pages,
	}
	if conf.DestinationProfile != "" {
		profileBytes, err := os.ReadFile(conf.DestinationProfile)
		if err != nil {
			fatal(err)
		}
		opts.ICCProfileBytes = profileBytes
		opts.DestinationFamily = colorspace.FamilyICCBased
	}

	var log *zap.Logger
	if verbose {
		log, _ = zap.NewDevelopment()
	} else {
		log = zap.NewNop()
	}

	onProgress := func(stage string, percent float64, message string) {
		if verbose {
			fmt.Fprintf(os.Stderr, "[%5.1f%%] %-12s %s\n", percent, stage, message)
		}
	}

	result, err := run.Generate(source, manifestBytes, opts, onProgress, log)
	if err != nil {
		fatal(err)
	}

	if err := os.WriteFile(outPath, result.PDFBytes, 0o644); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", outPath)
}

func serveCommand() {
	log, _ := zap.NewDevelopment()
	s, err := genserver.New(host, port, log)
	if err != nil {
		fatal(err)
	}
	s.Start()
	fmt.Fprintf(os.Stdout, "formcolor: serving on %s:%s\n", host, port)
	if err := <-s.Notify(); err != nil {
		fatal(err)
	}
}

func defaultFilenameOut(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[:i] + "_converted.pdf"
		}
	}
	return filename + "_converted.pdf"
}
