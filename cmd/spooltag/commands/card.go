// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bureau-foundation/spooltag/cmd/spooltag/cli"
	"github.com/bureau-foundation/spooltag/lib/spool"
)

// cardWidth is the widest a record card is drawn, border included.
const cardWidth = 52

// newRenderer returns a lipgloss renderer for w. mode is auto, always,
// or never; auto colours only terminals and honours NO_COLOR.
func newRenderer(w io.Writer, mode string) (*lipgloss.Renderer, error) {
	renderer := lipgloss.NewRenderer(w)
	switch mode {
	case "always":
		renderer.SetColorProfile(termenv.TrueColor)
	case "never":
		renderer.SetColorProfile(termenv.Ascii)
	case "", "auto":
		if !cli.IsTerminal(w) || termenv.EnvNoColor() {
			renderer.SetColorProfile(termenv.Ascii)
		}
	default:
		return nil, cli.Validation("--color must be auto, always, or never, got %q", mode)
	}
	return renderer, nil
}

// renderCard draws report as a bordered card with a colour swatch,
// followed by one line per correction and hint.
func renderCard(renderer *lipgloss.Renderer, report recordReport, width int) string {
	width = min(width, cardWidth)
	inner := width - 4
	record := report.Record

	title := renderer.NewStyle().Bold(true)
	label := renderer.NewStyle().Faint(true).Width(13)
	swatch := renderer.NewStyle().Background(lipgloss.Color(record.Color)).Render("      ")

	var lines []string
	lines = append(lines,
		swatch+"  "+title.Render(ansi.Truncate(record.Name, inner-8, "…")),
		"        "+ansi.Truncate(string(record.Type)+" · "+record.Manufacturer, inner-8, "…"),
		"",
	)
	rows := [][2]string{
		{"Color", record.Color},
		{"Diameter", formatNumber(record.Diameter) + " mm"},
		{"Density", formatNumber(record.Density) + " g/cm³"},
		{"Nozzle", strconv.Itoa(record.NozzleTemp) + " °C"},
		{"Bed", strconv.Itoa(record.BedTemp) + " °C"},
		{"Remaining", formatNumber(record.RemainingLength) + " m · " + formatNumber(record.RemainingWeight) + " g"},
	}
	if record.Serial != "" {
		rows = append(rows, [2]string{"Serial", record.Serial})
	}
	rows = append(rows, [2]string{"Manufactured", formatDate(record.ManufactureDate)})
	if report.Format != "" {
		format := report.Format
		if report.Confidence != "" {
			format += " (" + report.Confidence + " confidence)"
		}
		rows = append(rows, [2]string{"Format", format})
	}
	for _, row := range rows {
		lines = append(lines, label.Render(row[0])+ansi.Truncate(row[1], inner-13, "…"))
	}

	box := renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.AdaptiveColor{Light: "240", Dark: "244"}).
		Padding(0, 1).
		Width(width - 2)

	var out strings.Builder
	out.WriteString(box.Render(strings.Join(lines, "\n")))
	out.WriteString("\n")

	warning := renderer.NewStyle().Foreground(lipgloss.Color("214"))
	for _, correction := range report.Corrections {
		text := fmt.Sprintf("%s %s", correction.Field, correction.Outcome)
		if correction.Raw != "" {
			text += fmt.Sprintf(": %q", correction.Raw)
		}
		text += fmt.Sprintf(" → %v", correction.Value)
		out.WriteString(warning.Render("! "+text) + "\n")
	}
	for _, hint := range report.Hints {
		out.WriteString(warning.Render(fmt.Sprintf("? %s %d is unusual for %s (%s–%s)",
			hint.Field, hint.Value, hint.Family, formatNumber(hint.Min), formatNumber(hint.Max))) + "\n")
	}
	return out.String()
}

// renderMarkdown describes report as a Markdown label.
func renderMarkdown(report recordReport) []byte {
	record := report.Record
	var out bytes.Buffer
	fmt.Fprintf(&out, "# %s\n\n", escapeMarkdown(record.Name))
	fmt.Fprintf(&out, "%s by %s\n\n", escapeMarkdown(string(record.Type)), escapeMarkdown(record.Manufacturer))
	out.WriteString("| Property | Value |\n|---|---|\n")
	rows := [][2]string{
		{"Color", record.Color},
		{"Diameter", formatNumber(record.Diameter) + " mm"},
		{"Density", formatNumber(record.Density) + " g/cm³"},
		{"Nozzle temperature", strconv.Itoa(record.NozzleTemp) + " °C"},
		{"Bed temperature", strconv.Itoa(record.BedTemp) + " °C"},
		{"Remaining length", formatNumber(record.RemainingLength) + " m"},
		{"Remaining weight", formatNumber(record.RemainingWeight) + " g"},
		{"Serial", record.Serial},
		{"Manufactured", formatDate(record.ManufactureDate)},
	}
	for _, row := range rows {
		fmt.Fprintf(&out, "| %s | %s |\n", row[0], escapeMarkdown(row[1]))
	}
	fmt.Fprintf(&out, "\nFingerprint `%s`\n", report.Fingerprint)
	if len(report.Hints) > 0 {
		out.WriteString("\n")
		for _, hint := range report.Hints {
			fmt.Fprintf(&out, "- %s %d is unusual for %s\n", hint.Field, hint.Value, hint.Family)
		}
	}
	return out.Bytes()
}

// renderHTML converts the Markdown label to an HTML fragment.
func renderHTML(w io.Writer, report recordReport) error {
	markdown := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := markdown.Convert(renderMarkdown(report), w); err != nil {
		return cli.Internal("rendering HTML: %w", err)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`",
	"[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "#", `\#`,
)

func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 32)
}

func formatDate(unix int64) string {
	if unix == 0 {
		return "unknown"
	}
	return time.Unix(unix, 0).UTC().Format(time.DateOnly)
}

// kindNames renders kinds for help text.
func kindNames() string {
	names := make([]string, 0, len(spool.Kinds()))
	for _, kind := range spool.Kinds() {
		names = append(names, string(kind))
	}
	return strings.Join(names, ", ")
}
