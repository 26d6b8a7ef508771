package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// StepSpinner shows progress for one blocking step at a time, such as
// sending or checking a code. With noSpin set it prints static text so
// piped output stays clean.
type StepSpinner struct {
	w      io.Writer
	s      *spinner.Spinner
	msg    string
	active bool
	noSpin bool
}

// NewStepSpinner creates a spinner that writes to w.
func NewStepSpinner(w io.Writer, noSpin bool) *StepSpinner {
	return &StepSpinner{w: w, noSpin: noSpin}
}

// Start begins a step.
func (ss *StepSpinner) Start(msg string) {
	ss.msg = msg
	if ss.noSpin {
		fmt.Fprintf(ss.w, "  %s", msg)
		return
	}
	ss.s = spinner.New(
		spinner.CharSets[14], // braille dots
		80*time.Millisecond,
		spinner.WithWriter(ss.w),
	)
	ss.s.Prefix = "  "
	ss.s.Suffix = " " + msg
	ss.s.Start()
	ss.active = true
}

// Done ends the step with a check mark.
func (ss *StepSpinner) Done() {
	ss.finish(StyleSuccess.Render(SymbolCheck), "")
}

// Fail ends the step with a cross followed by reason, when given.
func (ss *StepSpinner) Fail(reason string) {
	ss.finish(StyleError.Render(SymbolCross), reason)
}

// Stop halts the spinner without printing a status.
func (ss *StepSpinner) Stop() {
	if ss.s != nil && ss.active {
		ss.s.Stop()
		ss.active = false
	}
}

func (ss *StepSpinner) finish(mark, reason string) {
	if reason != "" {
		reason = " " + StyleError.Render(reason)
	}
	if ss.noSpin {
		fmt.Fprintf(ss.w, " %s%s\n", mark, reason)
		return
	}
	ss.Stop()
	fmt.Fprintf(ss.w, "\r  %s %s%s\n", ss.msg, mark, reason)
}
