package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm shows a warning box and asks the operator to type phrase.
// It returns true only for an exact match.
func Confirm(in io.Reader, out io.Writer, title string, warnings []string, phrase string) bool {
	details := make([]Detail, 0, len(warnings))
	for i, w := range warnings {
		details = append(details, Detail{Key: fmt.Sprintf("%d", i+1), Value: w})
	}
	_, _ = fmt.Fprintln(out, RenderWarning(title, details, TerminalWidth()))
	_, _ = fmt.Fprint(out, WarningTitleStyle.Render(fmt.Sprintf("Type %q to proceed: ", phrase)))

	line, err := bufio.NewReader(in).ReadString('\n')
	_, _ = fmt.Fprintln(out)
	if err != nil && line == "" {
		return false
	}
	if strings.TrimSpace(line) != phrase {
		_, _ = fmt.Fprintln(out, HintStyle.Render("  Cancelled."))
		return false
	}
	return true
}
