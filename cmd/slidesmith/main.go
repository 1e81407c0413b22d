// slidesmith converts HTML slide documents into PPTX decks by asking a
// code-synthesis oracle for a builder program, executing it in isolation,
// and repairing it from its own failure output until it produces a valid
// artifact.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slidesmith/internal/config"
	"slidesmith/internal/logging"
	"slidesmith/internal/merge"
	"slidesmith/internal/oracle"
	"slidesmith/internal/runner"
	"slidesmith/internal/session"
	"slidesmith/internal/sink"
	"slidesmith/internal/snapshot"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// convert flags
	outputPath         string
	putURL             string
	getURL             string
	saveBuilderScripts bool
	saveSnapshot       bool
	logFile            string
	maxRetries         int

	// merge flags
	mergeOutput string
)

var rootCmd = &cobra.Command{
	Use:   "slidesmith",
	Short: "Self-healing HTML to PPTX converter",
	Long: `slidesmith turns HTML slide documents into PowerPoint decks.

It renders the document in a headless browser, hands the snapshot and the
HTML to a code-synthesis model, executes the generated builder script in an
isolated process, and feeds failures back to the model until the script
produces a valid deck or the retry budget runs out.`,
	SilenceUsage: true,
}

var convertCmd = &cobra.Command{
	Use:   "convert [html-file...]",
	Short: "Convert one or more HTML documents to PPTX",
	Long: `Converts each HTML document through the full repair loop. Multiple
documents run as independent concurrent sessions.

The artifact is written next to the input (or to --output for a single
input). With --put-url the artifact is uploaded via an HTTP PUT to the
pre-authorized URL instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

var mergeCmd = &cobra.Command{
	Use:   "merge [base.pptx] [other.pptx...]",
	Short: "Merge several PPTX decks into one",
	Long: `Appends the slides of the other decks to the base deck, carrying
slide relationships and media along, and writes the combined deck. This is
an offline container operation; no oracle is involved.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMerge,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	convertCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output PPTX path (single input only)")
	convertCmd.Flags().StringVar(&putURL, "put-url", "", "pre-authorized HTTP PUT URL to upload the artifact to (single input only)")
	convertCmd.Flags().StringVar(&getURL, "get-url", "", "download URL reported after a --put-url upload")
	convertCmd.Flags().BoolVar(&saveBuilderScripts, "save-builder-scripts", false, "persist each attempt's builder script next to the input")
	convertCmd.Flags().BoolVar(&saveSnapshot, "save-screenshot", false, "persist the reference snapshot next to the input")
	convertCmd.Flags().StringVar(&logFile, "log-file", "conversion_log.txt", "append structured logs to this file")
	convertCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "override the configured retry budget")

	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "merged.pptx", "path for the merged deck")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(mergeCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}

	apiKey := cfg.APIKey()
	if apiKey == "" {
		return fmt.Errorf("%s is not set", cfg.APIKeyEnv)
	}
	if len(args) > 1 && (outputPath != "" || putURL != "") {
		return fmt.Errorf("--output and --put-url require a single input document")
	}

	return convertAll(cmd.Context(), args, func(ctx context.Context, input string) error {
		return convertOne(ctx, cfg, apiKey, input)
	})
}

// convertAll runs one session per input. Sessions are independent: a
// terminal failure in one must not cancel the siblings, so the group does
// not derive a shared cancelable context. The first failure is reported
// once every session has finished.
func convertAll(ctx context.Context, inputs []string, run func(context.Context, string) error) error {
	var g errgroup.Group
	for _, input := range inputs {
		g.Go(func() error {
			return run(ctx, input)
		})
	}
	return g.Wait()
}

// convertOne runs one independent conversion session end to end. Sessions
// share nothing but the append-only log file.
func convertOne(ctx context.Context, cfg config.Config, apiKey, input string) error {
	logger, closeLog, err := logging.NewSession(logFile, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	oracleClient, err := oracle.NewGemini(ctx, apiKey, cfg.Model, logger)
	if err != nil {
		return err
	}
	defer oracleClient.Close()

	sess := session.New(
		oracleClient,
		snapshot.NewBrowser(logger),
		runner.New(cfg.Interpreter, cfg.ExecTimeout(), logger),
		sinkFor(input),
		logger,
		session.Options{
			MaxRetries:         cfg.MaxRetries,
			ViewportWidth:      cfg.ViewportWidth,
			ViewportHeight:     cfg.ViewportHeight,
			SaveBuilderScripts: saveBuilderScripts,
			SaveSnapshot:       saveSnapshot,
		},
	)

	location, err := sess.Convert(ctx, input)
	if err != nil {
		logger.Error("conversion failed", zap.String("input", input), zap.Error(err))
		return err
	}
	fmt.Printf("PPTX ready: %s\n", location)
	return nil
}

// sinkFor picks the artifact destination: a remote PUT URL when given,
// otherwise a local path derived from the input name.
func sinkFor(input string) sink.Sink {
	if putURL != "" {
		return sink.Remote{PutURL: putURL, GetURL: getURL}
	}
	dest := outputPath
	if dest == "" {
		dest = strings.TrimSuffix(input, filepath.Ext(input)) + ".pptx"
	}
	return sink.Local{Path: dest}
}

func runMerge(_ *cobra.Command, args []string) error {
	if err := merge.Merge(args[0], args[1:], mergeOutput); err != nil {
		return err
	}
	fmt.Printf("merged %d decks -> %s\n", len(args), mergeOutput)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
