package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/diagramzoom/pkg/markdown"
)

var (
	listDimStyle = lipgloss.NewStyle().Foreground(colorDim)
	headerStyle  = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
)

// =============================================================================
// DiagramPicker - Interactive diagram selection
// =============================================================================

// DiagramPicker is the bubbletea model for choosing one diagram of a
// document.
type DiagramPicker struct {
	Diagrams []markdown.Diagram
	Cursor   int
	Offset   int
	Height   int
	Selected *markdown.Diagram
}

// NewDiagramPicker lists diagrams with the first one highlighted.
func NewDiagramPicker(diagrams []markdown.Diagram) DiagramPicker {
	return DiagramPicker{Diagrams: diagrams, Height: 15}
}

func (m DiagramPicker) Init() tea.Cmd {
	return nil
}

func (m DiagramPicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Diagrams)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "enter":
			if len(m.Diagrams) == 0 {
				return m, tea.Quit
			}
			d := m.Diagrams[m.Cursor]
			m.Selected = &d
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.Height = max(msg.Height-6, 5)
	}
	return m, nil
}

func (m DiagramPicker) View() string {
	var b strings.Builder
	b.WriteString(StyleTitle.Render("Select Diagram"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ select  q quit"))
	b.WriteString("\n\n")

	end := min(m.Offset+m.Height, len(m.Diagrams))
	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		d := m.Diagrams[i]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		rows = append(rows, []string{cursor, fmt.Sprint(d.Index), d.Language, firstLine(d.Source, 48)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "#", "Lang", "Source").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if m.Offset+row == m.Cursor {
				return lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
			}
			return lipgloss.NewStyle().Foreground(colorWhite)
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Diagrams))))
	return b.String()
}

// firstLine returns the first non-empty line of s, cut to n runes.
func firstLine(s string, n int) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r := []rune(line)
		if len(r) > n {
			return string(r[:n-1]) + "…"
		}
		return line
	}
	return "—"
}
