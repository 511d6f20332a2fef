package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Detail is one key/value line in a box. Order is preserved.
type Detail struct {
	Key   string
	Value string
}

// RenderHeader renders the banner printed before a command runs.
func RenderHeader(title, command string, params []Detail, width int) string {
	lines := []string{
		TitleStyle.Render(strings.ToUpper(title)),
		CommandStyle.Render(command),
	}
	if len(params) > 0 {
		lines = append(lines, CommandStyle.Render(strings.Repeat("─", max(width-8, 10))))
		lines = append(lines, renderDetails(params, "  ")...)
	}
	return boxStyle(PrimaryColor, width).Render(strings.Join(lines, "\n"))
}

// RenderSuccess renders a green result box.
func RenderSuccess(title string, details []Detail, width int) string {
	lines := []string{"", SuccessTitleStyle.Render(fmt.Sprintf(" %s  %s", SuccessMarker, title)), ""}
	if len(details) > 0 {
		lines = append(lines, renderDetails(details, " ")...)
		lines = append(lines, "")
	}
	return boxStyle(SuccessColor, width).Render(strings.Join(lines, "\n"))
}

// RenderWarning renders an orange result box.
func RenderWarning(title string, details []Detail, width int) string {
	lines := []string{"", WarningTitleStyle.Render(fmt.Sprintf(" %s  %s", WarningMarker, title)), ""}
	if len(details) > 0 {
		lines = append(lines, renderDetails(details, " ")...)
		lines = append(lines, "")
	}
	return boxStyle(WarningColor, width).Render(strings.Join(lines, "\n"))
}

// RenderFailure renders a red result box. hint is multi-line
// troubleshooting text and may be empty.
func RenderFailure(title string, err error, hint string, width int) string {
	lines := []string{"", ErrorTitleStyle.Render(fmt.Sprintf(" %s  %s", FailureMarker, title)), ""}
	if err != nil {
		msg := lipgloss.NewStyle().Width(max(width-8, 20)).Render("Error: " + err.Error())
		lines = append(lines, ErrorMessageStyle.Render(msg), "")
	}
	if hint != "" {
		for _, l := range strings.Split(hint, "\n") {
			lines = append(lines, HintStyle.Render(" "+l))
		}
		lines = append(lines, "")
	}
	return boxStyle(ErrorColor, width).Render(strings.Join(lines, "\n"))
}

func renderDetails(details []Detail, indent string) []string {
	out := make([]string, 0, len(details))
	for _, d := range details {
		out = append(out, indent+KeyStyle.Render(d.Key+":")+" "+ValueStyle.Render(d.Value))
	}
	return out
}

// Printer writes rendered components to one writer at one width.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer for w, or stdout when w is nil.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: TerminalWidth()}
}

// Width is the render width.
func (p *Printer) Width() int { return p.width }

// Writer is the destination.
func (p *Printer) Writer() io.Writer { return p.out }

// Println writes one line.
func (p *Printer) Println(s string) {
	_, _ = fmt.Fprintln(p.out, s)
}

func (p *Printer) Header(title, command string, params ...Detail) {
	p.Println(RenderHeader(title, command, params, p.width))
}

func (p *Printer) Success(title string, details ...Detail) {
	p.Println(RenderSuccess(title, details, p.width))
}

func (p *Printer) Warning(title string, details ...Detail) {
	p.Println(RenderWarning(title, details, p.width))
}

func (p *Printer) Failure(title string, err error, hint string) {
	p.Println(RenderFailure(title, err, hint, p.width))
}
