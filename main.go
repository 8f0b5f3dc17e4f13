package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/oidc-account/tui"
)

// Version is set at build time.
var Version = "dev"

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// streams are the process handles a command talks to.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer

	// display runs fn with the displayer matching the terminal.
	display func(title string, fn func(tui.Displayer) error) error
}

func defaultStreams() streams {
	return streams{
		in:      os.Stdin,
		out:     os.Stdout,
		err:     os.Stderr,
		display: terminalDisplay,
	}
}

// terminalDisplay uses the BubbleTea UI on a terminal and plain text otherwise.
func terminalDisplay(title string, fn func(tui.Displayer) error) error {
	if !isTTY() {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner(title)
		return fn(d)
	}

	// Run TUI program on stderr so stdout pipes are not corrupted.
	// WithInput(nil): stdin stays free for pasted redirect URLs; Ctrl+C is
	// handled by signal.NotifyContext.
	p := tea.NewProgram(tui.NewModel(), tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Go(func() {
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
	})

	d := tui.NewProgramDisplayer(p)
	d.Banner(title)
	runErr := fn(d)
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	return runErr
}

func main() {
	if err := newRootCmd(defaultStreams()).Execute(); err != nil {
		os.Exit(1)
	}
}
