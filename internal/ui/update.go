package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/muurk/lumen/internal/api"
)

var updatePhases = []string{"fetching", "writing", "finalizing", "done"}

// UpdateView renders firmware update progress: a bar for the bytes
// written and a phase list.
type UpdateView struct {
	bar progress.Model
}

// NewUpdateView creates a view sized for width.
func NewUpdateView(width int) *UpdateView {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(max(width-20, 20)))
	return &UpdateView{bar: bar}
}

// Render returns the view for one status snapshot.
func (v *UpdateView) Render(st api.UpdateStatus) string {
	var pct float64
	if st.ExpectedSize > 0 {
		pct = float64(st.BytesWritten) / float64(st.ExpectedSize)
	}

	var b strings.Builder
	b.WriteString("  " + v.bar.ViewAs(pct))
	if st.ExpectedSize > 0 {
		fmt.Fprintf(&b, "  %s / %s", FormatBytes(st.BytesWritten), FormatBytes(st.ExpectedSize))
	}
	b.WriteString("\n")

	current := phaseIndex(st)
	for i, p := range updatePhases {
		marker, style := PendingMarker, HintStyle
		switch {
		case st.Phase == "failed" && i == current:
			marker, style = FailureMarker, ErrorMessageStyle
		case i < current || st.Phase == "done":
			marker, style = SuccessMarker, SuccessTitleStyle
		case i == current:
			marker, style = RunningMarker, WarningTitleStyle
		}
		b.WriteString("  " + style.Render(marker+" "+p) + "\n")
	}
	return b.String()
}

// phaseIndex places a status on the phase list. A failure is shown at
// the phase it had reached, which the byte counts reveal.
func phaseIndex(st api.UpdateStatus) int {
	if st.Phase == "failed" {
		switch {
		case st.ExpectedSize == 0:
			return 0
		case st.BytesWritten < st.ExpectedSize:
			return 1
		default:
			return 2
		}
	}
	for i, p := range updatePhases {
		if p == st.Phase {
			return i
		}
	}
	return -1
}

// FormatBytes renders n as B, KiB or MiB.
func FormatBytes(n uint32) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
