// Package progress provides terminal progress indicators for long-running
// engine operations (repository loading, directory-copy transport, façade
// operations that touch many files).
package progress

import (
	"os"

	"github.com/pterm/pterm"

	"github.com/rybkr/gitengine/internal/termcolor"
)

// Spinner displays an animated spinner on stderr while a long-running
// operation is in progress. It is only displayed when stderr is a TTY;
// in non-interactive environments (piped output, CI, E2E tests) it is silent.
// Built on pterm's spinner printer rather than a hand-rolled frame loop.
type Spinner struct {
	msg     string
	printer *pterm.SpinnerPrinter
}

// New creates a Spinner that will display msg alongside the animation.
func New(msg string) *Spinner {
	return &Spinner{msg: msg}
}

// Start begins the spinner animation. It writes to stderr so it never
// pollutes stdout, and does nothing when stderr is not a terminal.
func (s *Spinner) Start() {
	if !termcolor.IsTerminal(os.Stderr.Fd()) {
		return
	}
	sp := pterm.DefaultSpinner.WithWriter(os.Stderr)
	printer, err := sp.Start(s.msg)
	if err != nil {
		return
	}
	s.printer = printer
}

// Stop halts the spinner animation and clears the line.
func (s *Spinner) Stop() {
	if s.printer == nil {
		return
	}
	_ = s.printer.Stop()
}

// UpdateMessage changes the text shown alongside the spinner, used by
// callers reporting phased progress (e.g. repotransport.Progress.Phase)
// while the spinner is already running.
func (s *Spinner) UpdateMessage(msg string) {
	s.msg = msg
	if s.printer != nil {
		s.printer.UpdateText(msg)
	}
}

// Bar renders a determinate progress bar for operations that report a
// percentage (repotransport's clone/fetch/push copy phases). It is a no-op
// when stderr is not a terminal.
type Bar struct {
	printer *pterm.ProgressbarPrinter
}

// NewBar creates a Bar titled title with total steps (usually 100, matched
// against repotransport.Progress.Percent).
func NewBar(title string, total int) *Bar {
	if !termcolor.IsTerminal(os.Stderr.Fd()) {
		return &Bar{}
	}
	printer, err := pterm.DefaultProgressbar.
		WithWriter(os.Stderr).
		WithTitle(title).
		WithTotal(total).
		Start()
	if err != nil {
		return &Bar{}
	}
	return &Bar{printer: printer}
}

// SetCurrent moves the bar to an absolute position (not a delta), matching
// repotransport.Progress's running percentage rather than a step count.
func (b *Bar) SetCurrent(current int) {
	if b.printer == nil {
		return
	}
	b.printer.Current = current
}

// Stop finalizes the bar and clears it from the terminal.
func (b *Bar) Stop() {
	if b.printer == nil {
		return
	}
	_, _ = b.printer.Stop()
}
