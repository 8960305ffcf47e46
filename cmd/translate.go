/*
Copyright © 2025 Diego Grosmann <diego.grosmann@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/diegogrosmann/BookTranslateAI/internal/fragmenter"
	"github.com/diegogrosmann/BookTranslateAI/internal/gateway"
	"github.com/diegogrosmann/BookTranslateAI/internal/ingest"
	"github.com/diegogrosmann/BookTranslateAI/internal/output"
	"github.com/diegogrosmann/BookTranslateAI/internal/progress"
	"github.com/diegogrosmann/BookTranslateAI/internal/rate"
	"github.com/diegogrosmann/BookTranslateAI/internal/scheduler"
)

var (
	inputFile  string
	outputFile string
	targetLang string

	service     string
	model       string
	apiKey      string
	baseURL     string
	credentials string

	chunkSize   int
	overlapSize int

	workers    int
	rps        float64
	burst      int
	maxRetries int
	timeout    time.Duration

	storeBackend string
	storePath    string
	fresh        bool

	outputFormat string
	docTitle     string

	contextText    string
	contextFile    string
	preserveMarkup bool

	testConnection bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a document with resumable progress",
	Long: `Translate a long document chapter by chapter.

The input is split at markdown headings into chapter units and each
unit into overlapping fragments sized for the model's context window.
Fragments are translated concurrently under a global rate limit and
reassembled in source order. Finished fragments are written to the
progress store as they complete; rerunning the same command after an
interruption resumes instead of starting over.

Available services:
  - openai   OpenAI-compatible chat APIs (requires API key)
  - ollama   Ollama LLM (self-hosted)
  - google   Google Cloud Translation (requires credentials)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if targetLang == "" {
			return fmt.Errorf("required flag \"target\" not set")
		}
		if !testConnection {
			if inputFile == "" || outputFile == "" {
				return fmt.Errorf("required flags \"input\" and \"output\" not set")
			}
			if inputFile == outputFile {
				return fmt.Errorf("input file and output file cannot be the same")
			}
		}
		if chunkSize <= overlapSize {
			return fmt.Errorf("chunk size (%d) must be larger than overlap size (%d)", chunkSize, overlapSize)
		}
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		model = resolveModel(service, model)
		gw, err := buildGateway(ctx, service, model, apiKey, baseURL, credentials, targetLang)
		if err != nil {
			return err
		}
		if closer, ok := gw.(interface{ Close() error }); ok {
			defer closer.Close()
		}

		if testConnection {
			return runConnectionTest(ctx, gw)
		}

		instructions, err := loadInstructions()
		if err != nil {
			return err
		}

		units, err := ingest.Load(inputFile)
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return fmt.Errorf("input file %s contains no translatable text", inputFile)
		}

		absInput, err := filepath.Abs(inputFile)
		if err != nil {
			absInput = inputFile
		}
		fp := progress.Fingerprint{
			Input:       absInput,
			Model:       model,
			TargetLang:  targetLang,
			ChunkSize:   chunkSize,
			OverlapSize: overlapSize,
		}

		store, err := openStore(storeBackend, storePath, inputFile)
		if err != nil {
			return err
		}
		defer store.Close()

		runID, resumed, err := store.OpenRun(ctx, fp, !fresh)
		if err != nil {
			return err
		}
		if resumed {
			log.Info().Str("run", runID).Msg("resuming interrupted run")
		}

		frag, err := fragmenter.New(fragmenter.Config{
			ChunkSize:          chunkSize,
			OverlapSize:        overlapSize,
			PreserveSentences:  true,
			PreserveParagraphs: true,
		}, log)
		if err != nil {
			return err
		}

		title := docTitle
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
		}
		writer := output.NewWriter(outputFile, format, title)

		retry := gateway.DefaultPolicy()
		retry.MaxAttempts = maxRetries

		sched := scheduler.New(scheduler.Config{
			Workers:        workers,
			TargetLang:     targetLang,
			Instructions:   instructions,
			Timeout:        timeout,
			Retry:          retry,
			PreserveMarkup: preserveMarkup,
		}, gw, frag, rate.New(rps, burst), store, log)

		report, err := sched.Run(ctx, runID, units, func(res scheduler.UnitResult) {
			writer.SetChapter(res.Unit.Index, res.Unit.Title, res.Text)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("interrupted; progress is saved, rerun the same command to resume")
			}
			return err
		}

		if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := writer.Flush(); err != nil {
			return err
		}

		fmt.Printf("Translated %d chapter(s), %d fragment(s) to %s\n", report.Units, report.Fragments, targetLang)
		if report.Reused > 0 {
			fmt.Printf("Reused from previous run: %d fragment(s)\n", report.Reused)
		}
		if report.Retries > 0 {
			fmt.Printf("Retried attempts: %d\n", report.Retries)
		}
		fmt.Printf("Elapsed: %s\n", report.Elapsed.Round(time.Second))

		if report.HasFailures() {
			return fmt.Errorf("%d fragment(s) failed permanently; the output contains failure markers, rerun to retry them", report.Failed)
		}
		return nil
	},
}

// resolveModel pins the model name before it enters the run
// fingerprint, so a later change of service defaults cannot break
// resume matching.
func resolveModel(service, model string) string {
	if model != "" {
		return model
	}
	switch service {
	case "openai":
		return gateway.DefaultOpenAIModel
	case "ollama":
		return gateway.DefaultOllamaModel
	default:
		return model
	}
}

// loadInstructions merges --context and --context-file.
func loadInstructions() (string, error) {
	parts := make([]string, 0, 2)
	if contextText != "" {
		parts = append(parts, contextText)
	}
	if contextFile != "" {
		data, err := os.ReadFile(contextFile)
		if err != nil {
			return "", fmt.Errorf("failed to read context file: %w", err)
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n"), nil
}

// runConnectionTest sends one short request through the configured
// gateway and reports the round trip.
func runConnectionTest(ctx context.Context, gw gateway.Gateway) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	text, err := gw.Translate(ctx, gateway.Request{Text: "Hello, world.", TargetLang: targetLang})
	if err != nil {
		return fmt.Errorf("connection test failed for %s: %w", gw.Name(), err)
	}
	fmt.Printf("Service %s is reachable (%s)\n", gw.Name(), time.Since(start).Round(time.Millisecond))
	fmt.Printf("Sample translation: %s\n", strings.TrimSpace(text))
	return nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input document to translate (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the translation (required)")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language (required)")

	translateCmd.Flags().StringVar(&service, "service", "openai", "Translation service (openai, ollama, google)")
	translateCmd.Flags().StringVarP(&model, "model", "m", "", "Model name (service default if empty)")
	translateCmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or OPENAI_API_KEY / config file)")
	translateCmd.Flags().StringVar(&baseURL, "base-url", "", "Override the service base URL")
	translateCmd.Flags().StringVarP(&credentials, "credentials", "c", "", "Path to Google Cloud credentials")

	translateCmd.Flags().IntVar(&chunkSize, "chunk-size", fragmenter.DefaultChunkSize, "Fragment size in characters")
	translateCmd.Flags().IntVar(&overlapSize, "overlap-size", fragmenter.DefaultOverlapSize, "Context overlap between fragments in characters")

	translateCmd.Flags().IntVarP(&workers, "workers", "w", scheduler.DefaultWorkers, "Concurrent translation workers")
	translateCmd.Flags().Float64Var(&rps, "rps", 0, "Sustained requests per second across all workers (0 = unlimited)")
	translateCmd.Flags().IntVar(&burst, "burst", 1, "Rate limiter burst capacity")
	translateCmd.Flags().IntVar(&maxRetries, "max-retries", 3, "Total attempts per fragment including the first (1 = no retries)")
	translateCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout per translation attempt")

	translateCmd.Flags().StringVar(&storeBackend, "progress-backend", "sqlite", "Progress store backend (sqlite, file)")
	translateCmd.Flags().StringVar(&storePath, "progress-path", "", "Progress store path (default: next to the input file)")
	translateCmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore saved progress and start over")

	translateCmd.Flags().StringVarP(&outputFormat, "format", "f", "markdown", "Output format (markdown, html)")
	translateCmd.Flags().StringVar(&docTitle, "title", "", "Document title for HTML output (default: input file name)")

	translateCmd.Flags().StringVar(&contextText, "context", "", "Extra instructions or context passed to the translator")
	translateCmd.Flags().StringVar(&contextFile, "context-file", "", "File with extra instructions or context")
	translateCmd.Flags().BoolVar(&preserveMarkup, "preserve-markup", true, "Shield code blocks and HTML tags from translation")

	translateCmd.Flags().BoolVar(&testConnection, "test-connection", false, "Verify the service is reachable and exit")

	viper.BindPFlag("api-key", translateCmd.Flags().Lookup("api-key"))
	viper.BindPFlag("credentials", translateCmd.Flags().Lookup("credentials"))
	viper.BindPFlag("service", translateCmd.Flags().Lookup("service"))
	viper.BindPFlag("model", translateCmd.Flags().Lookup("model"))
}
