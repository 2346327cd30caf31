package notify

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")

	successStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	detailStyle  = lipgloss.NewStyle().Foreground(colorDim).PaddingLeft(2)
)

// Console writes notifications to a terminal and reads confirm answers from
// an input stream. When the input is not a terminal, Confirm picks the
// cancel action without prompting.
type Console struct {
	mu          sync.Mutex
	out         io.Writer
	in          *bufio.Reader
	interactive bool
	tty         bool
}

// NewConsole creates a console sink. Interactivity is detected from in and
// out when they are terminals.
func NewConsole(out io.Writer, in io.Reader) *Console {
	c := &Console{
		out:         out,
		interactive: isTerminal(in),
		tty:         isTerminal(out),
	}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	return c
}

// SetInteractive overrides terminal detection of the input stream.
func (c *Console) SetInteractive(interactive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interactive = interactive
}

// NotifySuccess prints a success message.
func (c *Console) NotifySuccess(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, successStyle.Render("✓ "+message))
}

// NotifyWarning prints a warning with its detail.
func (c *Console) NotifyWarning(title, detail string) {
	c.notify(warningStyle.Render("! "+title), detail)
}

// NotifyError prints an error with its diagnostic detail.
func (c *Console) NotifyError(title, detail string) {
	c.notify(errorStyle.Render("✗ "+title), detail)
}

func (c *Console) notify(title, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, title)
	if detail = strings.TrimSpace(detail); detail != "" {
		fmt.Fprintln(c.out, detailStyle.Render(detail))
	}
}

// Confirm shows message and a numbered list of actions, then invokes the one
// the user picks. Invalid answers re-prompt; end of input picks the cancel
// action.
func (c *Console) Confirm(message, detail string, actions []Action) error {
	if len(actions) == 0 {
		return ErrNoActions
	}

	c.mu.Lock()
	fmt.Fprintln(c.out, titleStyle.Render(message))
	if detail != "" {
		fmt.Fprintln(c.out, detailStyle.Render(detail))
	}
	for i, a := range actions {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, a.Label)
	}

	choice := cancelIndex(actions)
	if c.interactive && c.in != nil {
		choice = c.prompt(actions)
	} else {
		fmt.Fprintf(c.out, "non-interactive session, choosing %q\n", actions[choice].Label)
	}
	c.mu.Unlock()

	actions[choice].Invoke()
	return nil
}

func (c *Console) prompt(actions []Action) int {
	for {
		fmt.Fprintf(c.out, "choose [1-%d]: ", len(actions))
		line, err := c.in.ReadString('\n')
		if n, convErr := strconv.Atoi(strings.TrimSpace(line)); convErr == nil && n >= 1 && n <= len(actions) {
			return n - 1
		}
		if err != nil {
			fmt.Fprintln(c.out)
			return cancelIndex(actions)
		}
	}
}

// NewView creates a progress bar view. On a terminal the bar is redrawn in
// place; otherwise each change is printed on its own line.
func (c *Console) NewView(title string) ProgressView {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
	v := &consoleView{console: c, bar: bar, last: -1}

	c.mu.Lock()
	fmt.Fprintln(c.out, titleStyle.Render(title))
	c.mu.Unlock()
	return v
}

// ProgressView is a visible progress surface.
type ProgressView interface {
	SetProgress(percent int)
	OnCancel(fn func())
	Close()
}

type consoleView struct {
	console *Console
	bar     progress.Model

	mu     sync.Mutex
	last   int
	closed bool
}

func (v *consoleView) SetProgress(percent int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || percent == v.last {
		return
	}
	v.last = percent

	c := v.console
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tty {
		fmt.Fprintf(c.out, "\r%s %3d%%", v.bar.ViewAs(float64(percent)/100), percent)
		return
	}
	fmt.Fprintf(c.out, "progress %d%%\n", percent)
}

// OnCancel does nothing: a terminal has no cancel control. An interrupt
// cancels the run through its context instead.
func (v *consoleView) OnCancel(func()) {}

func (v *consoleView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true

	c := v.console
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tty && v.last >= 0 {
		fmt.Fprintln(c.out)
	}
}

func isTerminal(s any) bool {
	f, ok := s.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
