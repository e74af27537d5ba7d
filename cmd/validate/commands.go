package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/unknown-world/internal/logger"
	"github.com/jwebster45206/unknown-world/internal/validation"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

var errInvalid = errors.New("validation failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "validate",
		Short:         "Offline checks for turn outputs, the output schema and prompt files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSchemaCmd(), newOutputCmd(), newPromptsCmd())
	return root
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the structured-output schema sent to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), string(turn.OutputSchemaJSON()))
			return err
		},
	}
}

func newOutputCmd() *cobra.Command {
	var (
		lang      string
		signal    int
		shard     int
		maxCredit int
	)
	cmd := &cobra.Command{
		Use:   "output FILE",
		Short: "Strictly parse a TurnOutput file and apply the business rules",
		Long: `Parses FILE against the output schema, then checks economy, language,
bounding boxes and safety against the given balance snapshot.
The language defaults to the one the output declares.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			parsed, fieldErrs := turn.ParseOutput([]byte(turn.StripCodeFences(string(raw))))
			if len(fieldErrs) > 0 {
				fmt.Fprintf(out, "FAIL schema (%d errors)\n", len(fieldErrs))
				for _, fe := range fieldErrs {
					fmt.Fprintf(out, "  %s\n", fe.String())
				}
				return errInvalid
			}
			fmt.Fprintln(out, "OK   schema")

			in := turn.TurnInput{
				Language:        parsed.Language,
				EconomySnapshot: turn.CurrencyAmount{Signal: signal, MemoryShard: shard},
			}
			if lang != "" {
				if in.Language, err = turn.ParseLanguage(lang); err != nil {
					return err
				}
			}

			res := validation.New(maxCredit, nil).Validate(&parsed, in)
			if !res.IsValid {
				fmt.Fprintf(out, "FAIL business rules (%s)\n", validation.Categorize(res.Errors))
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  %s\n", e.String())
				}
				return errInvalid
			}
			fmt.Fprintln(out, "OK   business rules")
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "language", "", "player language (ko-KR or en-US)")
	cmd.Flags().IntVar(&signal, "signal", 100, "Signal balance before the turn")
	cmd.Flags().IntVar(&shard, "shard", 5, "Memory Shard balance before the turn")
	cmd.Flags().IntVar(&maxCredit, "max-credit", turn.MaxCredit, "credit ceiling")
	return cmd
}

func newPromptsCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Load every required prompt in both languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			loader, err := prompts.NewLoader(dir, true, logger.Discard())
			if err != nil {
				return err
			}
			failed := 0
			for _, k := range prompts.Required {
				for _, lang := range []turn.Language{turn.LanguageKO, turn.LanguageEN} {
					p, err := loader.LoadPrompt(k.Category, k.Name, lang)
					switch {
					case err != nil:
						failed++
						fmt.Fprintf(out, "FAIL %s (%s): %v\n", k, lang.Short(), err)
					case p.Language != lang:
						fmt.Fprintf(out, "WARN %s (%s): falls back to %s\n", k, lang.Short(), p.Language.Short())
					default:
						fmt.Fprintf(out, "OK   %s (%s) %s\n", k, lang.Short(), prompts.Hash(p.Body))
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d prompts missing", errInvalid, failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", envOr("PROMPT_DIR", "./prompts"), "prompt root directory")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
