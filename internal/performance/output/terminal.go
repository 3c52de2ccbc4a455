package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// supportsColors checks if the terminal supports colors.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// ColorsFor returns the scheme to use for w. NO_COLOR, a dumb terminal or a
// non-terminal writer disable colors.
func ColorsFor(w io.Writer) *ColorScheme {
	if IsTerminal(w) && supportsColors() {
		return DefaultColorScheme()
	}
	return NoColorScheme()
}
