// Package display renders controller snapshots for the operator.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/upic/reader/internal/upic/types"
)

// Console prints one line per visible change of the reader. Countdowns
// alone do not count as a change, so the console is not flooded at frame
// rate.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	last string

	ready    lipgloss.Style
	granted  lipgloss.Style
	denied   lipgloss.Style
	cooldown lipgloss.Style
	muted    lipgloss.Style
	warn     lipgloss.Style
}

// NewConsole renders to w. Colour is used only when w is a terminal. In
// raw terminal mode wrap w in a console.CRLFWriter.
func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:        w,
		ready:    r.NewStyle().Bold(true),
		granted:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		denied:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		cooldown: r.NewStyle().Foreground(lipgloss.Color("11")),
		muted:    r.NewStyle().Faint(true),
		warn:     r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

func (c *Console) Present(s types.Snapshot) {
	key := changeKey(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if key == c.last {
		return
	}
	c.last = key
	fmt.Fprintln(c.w, c.Render(s))
}

// Render formats s as a single line.
func (c *Console) Render(s types.Snapshot) string {
	if !s.CameraOnline && s.CameraIndex >= 0 {
		return c.warn.Render(fmt.Sprintf("camera %d offline, reconnecting...", s.CameraIndex))
	}

	switch s.State {
	case types.StateProcessing:
		return c.renderDecision(s)
	case types.StateCooldown:
		return c.cooldown.Render("Please remove QR code")
	default:
		return c.ready.Render("Scan QR code") + " " +
			c.muted.Render(fmt.Sprintf("(%d records, reload in %s)", s.Records, s.ReloadIn.Round(time.Second)))
	}
}

func (c *Console) renderDecision(s types.Snapshot) string {
	d := s.Decision
	if d == nil {
		return c.ready.Render("Processing " + s.ScannedID)
	}

	var b strings.Builder
	if d.Granted {
		b.WriteString(c.granted.Render("✓ " + types.StatusGranted))
	} else {
		b.WriteString(c.denied.Render("✗ " + types.StatusDenied))
	}

	b.WriteString("  ")
	if s.Record != nil {
		b.WriteString(who(s.Record))
	} else {
		b.WriteString(s.ScannedID)
	}

	var notes []string
	if d.Reason != "" {
		notes = append(notes, d.Reason)
	}
	if d.Advisory != "" {
		notes = append(notes, d.Advisory)
	}
	if len(notes) > 0 {
		b.WriteString(" ")
		b.WriteString(c.muted.Render("[" + strings.Join(notes, ", ") + "]"))
	}
	return b.String()
}

func who(r *types.CredentialRecord) string {
	name := r.FullName
	if name == "" {
		name = r.ID
	}
	var parts []string
	for _, p := range []string{r.Organization, r.Department} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		name += " (" + strings.Join(parts, " / ") + ")"
	}
	if r.ExpirationDate != nil {
		name += " until " + r.ExpirationDate.String()
	}
	return name
}

func changeKey(s types.Snapshot) string {
	granted := ""
	if s.Decision != nil {
		granted = fmt.Sprint(s.Decision.Granted)
	}
	return fmt.Sprintf("%s|%s|%s|%t|%d", s.State, s.ScannedID, granted, s.CameraOnline, s.CameraIndex)
}
