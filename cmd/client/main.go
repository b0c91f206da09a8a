// linechat TUI client.
//
// Screens
// -------
//   stateName  – centered prompt for picking a user name
//   stateChat  – full-screen chat with scrollable message viewport
//   stateStats – Ctrl+S overlay: who is online and which channels exist
//
// Concurrency
// -----------
//   A single goroutine reads newline-delimited frames from the TCP connection
//   and forwards them to the lines channel.  The Bubbletea event loop
//   consumes one line at a time via waitForLine (a tea.Cmd), immediately
//   queuing the next read after each line is processed.  All protocol
//   decisions live in the client engine; this file only renders and routes.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"linechat/internal/client"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")
	teal   = lipgloss.Color("30")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	statsHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Background(teal).
				Foreground(white).
				Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	statLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyan)

	hintStyle = lipgloss.NewStyle().
			Foreground(gray).
			Italic(true)

	errorStyle  = lipgloss.NewStyle().Foreground(red)
	sysStyle    = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle     = lipgloss.NewStyle().Foreground(gray)
	myNameStyle = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle   = lipgloss.NewStyle().Bold(true).Foreground(blue)
	divStyle    = lipgloss.NewStyle().Foreground(gray)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type serverLineMsg string     // a raw frame line arrived from the server
type disconnectedMsg struct{} // server closed the connection

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateName appState = iota
	stateChat
	stateStats
)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type model struct {
	conn   net.Conn
	lines  chan string // goroutine → bubbletea bridge
	engine *client.Engine

	state appState

	// Name prompt
	nameInput textinput.Model
	statusMsg string

	// Chat
	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string // rendered lines shown in the viewport

	userQuit     bool // Ctrl+C / Ctrl+Q
	disconnected bool // server went away

	width, height int
}

func newModel(conn net.Conn, lines chan string) model {
	ni := textinput.New()
	ni.Placeholder = "username"
	ni.Focus()
	ni.CharLimit = 32
	ni.Width = 32

	ci := textinput.New()
	ci.Placeholder = "Type a message…"
	ci.CharLimit = 500

	return model{
		conn:      conn,
		lines:     lines,
		engine:    client.NewEngine(),
		state:     stateName,
		nameInput: ni,
		chatInput: ci,
	}
}

// ---------------------------------------------------------------------------
// Tea interface – Init
// ---------------------------------------------------------------------------

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForLine(m.lines))
}

// ---------------------------------------------------------------------------
// Tea interface – Update
// ---------------------------------------------------------------------------

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case serverLineMsg:
		m = m.handleServerLine(string(msg))
		return m, waitForLine(m.lines)

	case disconnectedMsg:
		m.disconnected = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch m.state {
		case stateName:
			return m.handleNameKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		case stateStats:
			return m.handleStatsKey(msg)
		}
	}
	return m, nil
}

// vpHeight returns the number of lines available for the chat viewport.
func (m model) vpHeight() int {
	// header (1) + footer border (1) + footer input (1) = 3 lines reserved
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleNameKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.userQuit = true
		return m, tea.Quit

	case tea.KeyEnter:
		name := strings.TrimSpace(m.nameInput.Value())
		if name == "" {
			m.statusMsg = "a name is required"
			return m, nil
		}
		_, frames := m.engine.HandleInput(name)
		m.sendFrames(frames)
		m.nameInput.Reset()
		m.statusMsg = "Waiting for the server…"
		return m, nil
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		m.userQuit = true
		return m, tea.Quit

	case tea.KeyCtrlS:
		// Open the statistics overlay with fresh numbers.
		lines, frames := m.engine.HandleInput("get_statistic")
		m.renderLines(lines)
		m.sendFrames(frames)
		m.state = stateStats
		return m, nil

	case tea.KeyEnter:
		input := strings.TrimSpace(m.chatInput.Value())
		if input != "" {
			lines, frames := m.engine.HandleInput(input)
			m.renderLines(lines)
			m.sendFrames(frames)
			m.chatInput.Reset()
		}
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

func (m model) handleStatsKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.userQuit = true
		return m, tea.Quit

	case tea.KeyEsc:
		m.state = stateChat
		m.chatInput.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Server line handler
// ---------------------------------------------------------------------------

func (m model) handleServerLine(line string) model {
	wasNamed := m.engine.Named()
	lines, frames := m.engine.HandleServer(line)
	m.sendFrames(frames)

	if m.state == stateName {
		// Prompts and rejections feed the status line on the name screen.
		var texts []string
		for _, l := range lines {
			texts = append(texts, l.Text)
		}
		if len(texts) > 0 {
			m.statusMsg = strings.Join(texts, " · ")
		}
	} else {
		m.renderLines(lines)
	}

	if !wasNamed && m.engine.Named() {
		m.state = stateChat
		m.chatInput.Focus()
	}
	return m
}

// renderLines styles engine output and appends it to the chat viewport.
func (m *model) renderLines(lines []client.Line) {
	for _, l := range lines {
		switch l.Kind {
		case client.LineChat:
			ts := tsStyle.Render("[" + time.Now().Format("15:04:05") + "]")
			var name string
			if l.From == m.engine.Name() {
				name = myNameStyle.Render(l.From)
			} else {
				name = peerStyle.Render(l.From)
			}
			m.appendChat(ts + " " + name + ": " + l.Text)
		case client.LineRaw:
			m.appendChat(errorStyle.Render("⚠ " + l.Text))
		default:
			m.appendChat(sysStyle.Render("⚡ " + l.Text))
		}
	}
}

// appendChat adds a rendered line and scrolls the viewport to the bottom.
func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

func (m *model) sendFrames(frames [][]byte) {
	for _, f := range frames {
		m.conn.Write(f)
	}
}

// ---------------------------------------------------------------------------
// Tea interface – View
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateName:
		return m.viewName()
	case stateChat:
		return m.viewChat()
	case stateStats:
		return m.viewStats()
	}
	return ""
}

func (m model) viewName() string {
	if m.width == 0 {
		return "\n  Connecting to server…"
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("  linechat  "),
		"",
		m.nameInput.View(),
		"",
		hintStyle.Render("Enter: join   Ctrl+C: quit"),
		"",
		m.renderStatus(),
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	scope := m.engine.Scope()
	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" linechat  ·  %s  ·  %s/%s  ·  Ctrl+S: Stats  PgUp/Dn: Scroll  Ctrl+C: Quit",
			m.engine.Name(), scope.Kind, scope.Name))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

func (m model) viewStats() string {
	if m.width == 0 {
		return "\n  Loading…"
	}

	hdr := statsHeaderStyle.
		Width(m.width).
		Render(" Statistics  ·  Esc: return to chat  Ctrl+C: quit")

	parts := []string{hdr, ""}
	st := m.engine.Statistic()
	if st == nil {
		parts = append(parts, hintStyle.Render("  (no statistic received yet)"))
	} else {
		parts = append(parts, "  "+statLabelStyle.Render("Users online"))
		if len(st.Users) == 0 {
			parts = append(parts, hintStyle.Render("    (nobody)"))
		}
		for _, u := range st.Users {
			if u == m.engine.Name() {
				parts = append(parts, "    "+myNameStyle.Render(u)+hintStyle.Render("  (you)"))
			} else {
				parts = append(parts, "    "+peerStyle.Render(u))
			}
		}
		parts = append(parts, "", "  "+statLabelStyle.Render("Channels"))
		for _, ch := range st.Channels {
			parts = append(parts, "    "+ch)
		}
	}
	parts = append(parts, "", divStyle.Render(strings.Repeat("─", m.width)))

	return strings.Join(parts, "\n")
}

// renderStatus renders the name-screen status line.
func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if strings.Contains(m.statusMsg, "Waiting") || strings.Contains(m.statusMsg, "Choose") {
		return hintStyle.Render(m.statusMsg)
	}
	return errorStyle.Render(m.statusMsg)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// waitForLine returns a tea.Cmd that blocks until the next frame arrives on
// ch. When ch is closed (server disconnected), it returns disconnectedMsg.
func waitForLine(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return serverLineMsg(line)
	}
}

func prompt(r *bufio.Reader, label, def string) string {
	fmt.Printf("%s (default %s): ", label, def)
	line, err := r.ReadString('\n')
	if err != nil {
		return def
	}
	if line = strings.TrimSpace(line); line == "" {
		return def
	}
	return line
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	in := bufio.NewReader(os.Stdin)
	host := prompt(in, "Server host", "127.0.0.1")
	port := prompt(in, "Server port", "8000")
	addr := net.JoinHostPort(host, port)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	// lines bridges the TCP reader goroutine and the Bubbletea event loop.
	lines := make(chan string, 64)

	// Reader goroutine: TCP → lines channel.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	p := tea.NewProgram(
		newModel(conn, lines),
		tea.WithAltScreen(),       // use the alternate screen buffer
		tea.WithMouseCellMotion(), // enable mouse wheel scrolling
	)
	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if m, ok := final.(model); ok {
		if m.disconnected {
			fmt.Println("The server closed the connection")
			return
		}
		if m.userQuit {
			os.Exit(1)
		}
	}
}
