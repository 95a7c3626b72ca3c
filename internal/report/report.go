// Package report renders estimation results for people (styled text) and
// for machines (JSON, YAML).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guillermoBallester/joinest/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Format names an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (must be text, json or yaml)", s)
	}
}

// Document is the machine-readable form of a comparison. Sizes that were not
// measured are null.
type Document struct {
	RunID           string            `json:"run_id" yaml:"run_id"`
	Left            string            `json:"left" yaml:"left"`
	Right           string            `json:"right" yaml:"right"`
	Case            domain.JoinCase   `json:"case" yaml:"case"`
	CaseNumber      int               `json:"case_number" yaml:"case_number"`
	Description     string            `json:"description" yaml:"description"`
	EstimatedSize   int64             `json:"estimated_size" yaml:"estimated_size"`
	ActualSize      *int64            `json:"actual_size" yaml:"actual_size"`
	EstimationError *int64            `json:"estimation_error" yaml:"estimation_error"`
	PlannerSize     *int64            `json:"planner_size" yaml:"planner_size"`
	DurationMS      int64             `json:"duration_ms" yaml:"duration_ms"`
	Diagnostic      domain.Diagnostic `json:"diagnostic" yaml:"diagnostic"`
}

func NewDocument(cmp *domain.Comparison) Document {
	doc := Document{
		RunID:         cmp.RunID,
		Left:          cmp.Result.Left,
		Right:         cmp.Result.Right,
		Case:          cmp.Result.Case,
		CaseNumber:    cmp.Result.Case.Number(),
		Description:   cmp.Result.Case.Description(),
		EstimatedSize: cmp.Result.EstimatedSize,
		DurationMS:    cmp.Duration.Milliseconds(),
		Diagnostic:    cmp.Result.Diagnostic,
	}
	if cmp.ActualSize != domain.UnknownSize {
		doc.ActualSize = &cmp.ActualSize
	}
	if cmp.PlannerSize != domain.UnknownSize {
		doc.PlannerSize = &cmp.PlannerSize
	}
	if diff, ok := cmp.EstimationError(); ok {
		doc.EstimationError = &diff
	}
	return doc
}

// Write renders cmp to w in the given format.
func Write(w io.Writer, format Format, cmp *domain.Comparison) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewDocument(cmp))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewDocument(cmp)); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case FormatText, "":
		_, err := io.WriteString(w, Text(cmp))
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(22)
	valueStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	caseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// Text renders the human-readable report.
func Text(cmp *domain.Comparison) string {
	res := cmp.Result
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Cost to join %q and %q:", res.Left, res.Right)))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString("  ")
		b.WriteString(labelStyle.Render(label))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	if res.Classified() {
		row("Estimated Join Size:", strconv.FormatInt(res.EstimatedSize, 10))
	} else {
		row("Estimated Join Size:", "n/a")
	}

	if cmp.ActualSize != domain.UnknownSize {
		row("Actual Join Size:", strconv.FormatInt(cmp.ActualSize, 10))
	} else {
		row("Actual Join Size:", "not measured")
	}

	if diff, ok := cmp.EstimationError(); ok {
		row("Estimation Error:", fmt.Sprintf("%+d", diff))
	} else {
		row("Estimation Error:", "n/a")
	}

	if cmp.PlannerSize != domain.UnknownSize {
		row("Planner Estimate:", strconv.FormatInt(cmp.PlannerSize, 10))
	}

	b.WriteString("\n")
	if res.Classified() {
		b.WriteString(caseStyle.Render(res.Case.Description()))
	} else {
		b.WriteString(warnStyle.Render(res.Case.Description()))
	}
	b.WriteString("\n")

	if details := diagnosticLines(res); len(details) > 0 {
		b.WriteString("\n")
		for _, line := range details {
			b.WriteString(dimStyle.Render("  " + line))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func diagnosticLines(res domain.EstimationResult) []string {
	d := res.Diagnostic
	lines := []string{
		fmt.Sprintf("|%s| = %d, |%s| = %d", res.Left, d.LeftRows, res.Right, d.RightRows),
	}
	if len(d.SharedAttributes) > 0 {
		lines = append(lines, "shared attributes: "+strings.Join(d.SharedAttributes, ", "))
	} else {
		lines = append(lines, "shared attributes: none")
	}

	switch res.Case {
	case domain.CaseForeignKeyReference:
		referencing := res.Right
		if d.ForeignKey == domain.LeftReferencesRight {
			referencing = res.Left
		}
		lines = append(lines, fmt.Sprintf("foreign key held by %s", referencing))
	case domain.CaseSingleNonKeyAttribute:
		lines = append(lines,
			fmt.Sprintf("V(A, %s) = %d (fan-out %s)", res.Left, d.LeftDistinct, d.LeftFanOut),
			fmt.Sprintf("V(A, %s) = %d (fan-out %s)", res.Right, d.RightDistinct, d.RightFanOut),
		)
	}
	return lines
}
