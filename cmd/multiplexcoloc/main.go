package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"multiplexcoloc/internal/logger"
	"multiplexcoloc/pkg/config"
	"multiplexcoloc/pkg/pipeline"
	"multiplexcoloc/pkg/report"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "analysis.yaml", "YAML analysis description")
	initConfig := flag.Bool("init-config", false, "Write an example analysis file to -config and exit")
	reportPath := flag.String("report", "", "Override the report path from the config")
	compositeDir := flag.String("composite-dir", "", "Override the composite output directory from the config")
	numCores := flag.Int("cores", 0, "Number of slices counted concurrently (default: config value)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (default: info, debug when verbose)")
	quiet := flag.Bool("quiet", false, "Do not print the count table")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Example analysis written to %s\n", *configPath)
		return
	}

	cfg, err := loadConfig(*configPath, flagSet("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *reportPath != "" {
		cfg.Output.Report = *reportPath
	}
	if *compositeDir != "" {
		cfg.Composite.Dir = *compositeDir
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	}
	log := logger.New(os.Stderr, level, cfg.Output.LogJSON)

	out, err := pipeline.New(cfg, log).Process()
	if err != nil && !errors.Is(err, report.ErrReportWriteFailure) {
		log.Fatal().Err(err).Msg("analysis failed")
	}

	if !*quiet {
		printSummary(out)
	}

	if err != nil {
		// counts are printed above, only the file is missing
		log.Error().Err(err).Msg("choose another report path and run again")
		os.Exit(2)
	}
}

// flagSet reports whether the named flag was given on the command line
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadConfig loads the analysis file. Only the implicit default path may be
// missing, in which case the defaults are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if explicit {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return config.LoadConfig(path)
}

// printSummary prints the count table, the fraction of counted pixels per
// combination and the per-channel intensity summary
func printSummary(out *pipeline.Output) {
	res := out.Result
	fmt.Println("================================")
	fmt.Println("MULTIPLEX PIXEL COLOCALIZATION")
	fmt.Println("================================")

	if err := out.Report.WriteText(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print report: %v\n", err)
	}

	total := res.Total()
	fractions := total.Fractions()
	fmt.Printf("\nCounted pixels: %d\n", total.Sum())
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for i, f := range fractions {
		fmt.Fprintf(tw, "%v\t%.4f%%\n", out.Report.Rows[i].Cells, f*100)
	}
	tw.Flush()

	fmt.Println("\nChannels:")
	tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "label\tthreshold\tactive\tin scope\tmean\tstddev")
	for _, s := range res.Summaries {
		fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\t%.2f\t%.2f\n",
			s.Label, s.Threshold, s.Active, s.InScope, s.Mean, s.StdDev)
	}
	tw.Flush()

	fmt.Printf("\nCounting took %.3f seconds\n", out.Elapsed.Seconds())
	if len(out.CompositeFiles) > 0 {
		fmt.Printf("Composite planes saved: %d\n", len(out.CompositeFiles))
	}
}
