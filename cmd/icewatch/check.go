package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/relevance"
	"github.com/abelbrown/icewatch/internal/ui"
)

var rejectedText = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

func checkCmd() *cobra.Command {
	var (
		source  string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "check [text...]",
		Short: "Show how the relevance filter judges a text",
		Long: `Check runs one text through the locale's relevance filter and prints
the verdict with every keyword and pattern that matched. With no
arguments the text is read from stdin.`,
		Example: `  icewatch check "ICE agents at Lake Street and Nicollet right now"
  echo "ICE raid last year on Lake Street" | icewatch check --source reddit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			filter, err := loadFilter(cfg)
			if err != nil {
				return err
			}

			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("no text to check")
			}

			src := model.SourceType(source).Normalize()
			v := filter.Explain(text, src)
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatVerdict(v, src))
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", string(model.SourceReddit), "Source type the text came from")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the verdict as JSON")
	return cmd
}

func formatVerdict(v relevance.Verdict, src model.SourceType) string {
	var b strings.Builder
	if v.Relevant {
		b.WriteString(ui.AcceptedText.Render("RELEVANT"))
	} else {
		b.WriteString(rejectedText.Render("REJECTED"))
		if v.Reason != "" {
			b.WriteString(" " + string(v.Reason))
		}
	}
	b.WriteString(ui.MutedText.Render(fmt.Sprintf("  (%s, %s tier)", src.Label(), v.Tier)))
	b.WriteString("\n")

	rows := []struct {
		label string
		terms []string
	}{
		{"subject", v.Matches.Subject},
		{"location", v.Matches.Location},
		{"noise", v.Matches.Noise},
		{"retrospective", v.Matches.Retrospective},
		{"real-time", v.Matches.RealTime},
	}
	for _, row := range rows {
		terms := ui.MutedText.Render("-")
		if len(row.terms) > 0 {
			terms = strings.Join(row.terms, ", ")
		}
		fmt.Fprintf(&b, "  %-14s %s\n", row.label, terms)
	}
	if loc := relevance.BestLocation(v.Matches.Location); loc != "" {
		fmt.Fprintf(&b, "  %-14s %s\n", "primary", loc)
	}
	return b.String()
}
