package surface

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Console draws surfaces as prefixed lines on a terminal. Every line is
// "[title] text"; surfaces with several workers add the worker to the prefix.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	titleStyle  lipgloss.Style
	workerStyle lipgloss.Style
	errStyle    lipgloss.Style
	okStyle     lipgloss.Style
	infoStyle   lipgloss.Style
}

var _ Sink = (*Console)(nil)

// NewConsole creates a console sink writing to out. Colors follow the
// capabilities of out.
func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:         out,
		titleStyle:  r.NewStyle().Foreground(lipgloss.Color("57")).Bold(true),
		workerStyle: r.NewStyle().Foreground(lipgloss.Color("240")),
		errStyle:    r.NewStyle().Foreground(lipgloss.Color("160")),
		okStyle:     r.NewStyle().Foreground(lipgloss.Color("34")),
		infoStyle:   r.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
	}
}

func (c *Console) prefix(s *Surface, workerID string) string {
	p := c.titleStyle.Render("[" + s.Title() + "]")
	if len(s.Workers()) > 1 && workerID != "" {
		p += " " + c.workerStyle.Render(workerID)
	}
	return p
}

func (c *Console) println(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, text)
}

// Opened announces the surface.
func (c *Console) Opened(s *Surface) {
	mode := "pinned"
	if s.AutoClose() {
		mode = "auto-close"
	}
	c.println(c.titleStyle.Render("["+s.Title()+"]") + " " + c.infoStyle.Render("opened ("+mode+")"))
}

// Line prints one output line.
func (c *Console) Line(s *Surface, workerID, source, line string) {
	text := line
	if source == "stderr" {
		text = c.workerStyle.Render(line)
	}
	c.println(c.prefix(s, workerID) + " " + text)
}

// Status prints a worker status change.
func (c *Console) Status(s *Surface, workerID, status string) {
	style := c.infoStyle
	switch {
	case strings.HasPrefix(status, "error"):
		style = c.errStyle
	case strings.HasPrefix(status, "exited"):
		style = c.okStyle
	}
	label := status
	if workerID != "" {
		label = workerID + ": " + status
	}
	c.println(c.titleStyle.Render("["+s.Title()+"]") + " " + style.Render(label))
}

// Closed announces that the surface closed.
func (c *Console) Closed(s *Surface) {
	c.println(c.titleStyle.Render("["+s.Title()+"]") + " " + c.infoStyle.Render("closed"))
}
