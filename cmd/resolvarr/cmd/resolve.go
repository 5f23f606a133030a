package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/resolvarr/resolvarr/internal/engine"
	"github.com/resolvarr/resolvarr/internal/media"
)

var resolveCleanup bool

// resolveCmd parses links from its arguments (or stdin) and emits the
// processed posts as JSON on stdout.
var resolveCmd = &cobra.Command{
	Use:   "resolve [text...]",
	Short: "Resolve platform links found in text",
	Long: `Resolve scans the given text (arguments joined with spaces, or stdin
when no arguments are given) for supported platform links, parses each one,
and applies the configured media size policy. The resulting post records are
written to stdout as a JSON array.

Downloaded files are kept on disk and referenced by file_paths unless
--cleanup is given.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveCleanup, "cleanup", false, "delete downloaded files after printing")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to resolve: pass text as arguments or on stdin")
	}

	eng, err := engine.New(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	results := eng.Resolve(cmd.Context(), text)

	posts := make([]*media.ProcessedPost, 0, len(results))
	for _, res := range results {
		posts = append(posts, res.Post)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(posts); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	if resolveCleanup {
		for _, res := range results {
			res.Release()
		}
	}

	if len(results) == 0 {
		fmt.Fprintln(os.Stderr, "no supported links found")
	}
	return nil
}
