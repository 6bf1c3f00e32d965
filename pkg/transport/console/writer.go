package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\x1b[2K"

// Writer renders replies for every requester onto one output stream. On a
// terminal, progress updates overwrite each other in place.
type Writer struct {
	mu         sync.Mutex
	w          io.Writer
	tty        bool
	inProgress bool

	tagStyle      lipgloss.Style
	progressStyle lipgloss.Style
	artifactStyle lipgloss.Style
	errorStyle    lipgloss.Style
}

// NewWriter wraps w. In-place progress is used only when w is a terminal.
func NewWriter(w io.Writer) *Writer {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	r := lipgloss.NewRenderer(w)
	return &Writer{
		w:             w,
		tty:           tty,
		tagStyle:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		progressStyle: r.NewStyle().Foreground(lipgloss.Color("245")),
		artifactStyle: r.NewStyle().Foreground(lipgloss.Color("39")),
		errorStyle:    r.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

func (w *Writer) tag(requester string) string {
	return w.tagStyle.Render("→ " + requester)
}

// Text writes a reply line.
func (w *Writer) Text(requester, text string) error {
	return w.line(w.tag(requester) + " " + text)
}

// Error writes an error reply line.
func (w *Writer) Error(requester, text string) error {
	return w.line(w.tag(requester) + " " + w.errorStyle.Render(text))
}

// Artifact writes the caption and location of an artifact.
func (w *Writer) Artifact(requester, caption, path string) error {
	return w.line(fmt.Sprintf("%s %s %s", w.tag(requester), caption, w.artifactStyle.Render("["+path+"]")))
}

// Progress writes a progress update, replacing the previous one on a terminal.
func (w *Writer) Progress(requester, text string) error {
	msg := w.tag(requester) + " " + w.progressStyle.Render(text)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.tty {
		_, err := fmt.Fprintln(w.w, msg)
		return err
	}
	w.inProgress = true
	_, err := fmt.Fprint(w.w, clearLine+msg)
	return err
}

func (w *Writer) line(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inProgress {
		// Keep the last progress update visible above the new line.
		if _, err := fmt.Fprintln(w.w); err != nil {
			return err
		}
		w.inProgress = false
	}
	_, err := fmt.Fprintln(w.w, msg)
	return err
}
