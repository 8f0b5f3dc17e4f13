package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the login countdown.
type tickMsg time.Time

// state represents the current phase of a command.
type state int

const (
	stateInit       state = iota
	stateRefreshing       // refreshing the access token
	stateAwaiting         // authorization URL shown, waiting for redirect
	stateCalling          // calling the protected API
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the account commands.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int
	title   string

	// Authorization info
	authURL   string
	loopback  bool
	deadline  time.Time
	remaining time.Duration

	// Success / error display
	summary Summary
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleURLBox = lipgloss.NewStyle().
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
		title:   "OIDC Account",
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.remaining = max(time.Until(m.deadline), 0)
		if m.remaining > 0 && m.state == stateAwaiting {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── account flow messages ───────────────────────────────────────────────

	case MsgBanner:
		if msg.Title != "" {
			m.title = msg.Title
		}
		return m, nil

	case MsgAccountFound:
		m.addStatus(statusOK, "Using account "+msg.Account)
		return m, nil

	case MsgNoAccount:
		m.addStatus(statusInfo, "No account found, starting login")
		return m, nil

	case MsgTokenValid:
		m.addStatus(statusOK, "Access token is still valid")
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Token refreshed successfully")
		return m, nil

	case MsgReAuthRequired:
		m.addStatus(statusWarn, fmt.Sprintf("Reauthorization required: %v", msg.Err))
		return m, nil

	case MsgAuthURLReady:
		m.authURL = msg.URL
		m.loopback = msg.Loopback
		m.deadline = msg.Deadline
		m.remaining = time.Until(msg.Deadline)
		m.state = stateAwaiting
		m.addStatus(statusInfo, "Authorization URL ready")
		return m, tickAfterSecond()

	case MsgWaitingForRedirect:
		m.state = stateAwaiting
		return m, nil

	case MsgLoginComplete:
		m.state = stateInit
		m.addStatus(statusOK, "Authorization successful, tokens stored for "+msg.Account)
		return m, nil

	case MsgAPICallOK:
		if msg.Username != "" {
			m.summary.Username = msg.Username
			m.addStatus(statusOK, "Logged in as "+msg.Username)
		} else {
			m.addStatus(statusOK, "API call successful")
		}
		return m, nil

	case MsgAPICallFailed:
		m.addStatus(statusWarn, fmt.Sprintf("API call failed: %v", msg.Err))
		return m, nil

	case MsgAccessTokenRejected:
		m.state = stateCalling
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgInvalidated:
		m.addStatus(statusOK, "Cached access token dropped for "+msg.Account)
		return m, nil

	case MsgTokensCleared:
		m.addStatus(statusOK, "All tokens cleared for "+msg.Account)
		return m, nil

	case MsgDeleted:
		m.addStatus(statusOK, "Account "+msg.Account+" deleted")
		return m, nil

	case MsgDone:
		username := m.summary.Username
		m.summary = msg.Summary
		if m.summary.Username == "" {
			m.summary.Username = username
		}
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while a command is in progress.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  " + m.title + "  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateAwaiting:
		b.WriteString(styleBold.Render("Open this link to authorize:"))
		b.WriteString("\n")
		b.WriteString(styleURLBox.Render(m.authURL))
		b.WriteString("\n\n")

		if !m.loopback {
			b.WriteString(styleDim.Render("Then paste the URL you were redirected to and press enter."))
			b.WriteString("\n\n")
		}

		b.WriteString(m.spinner.View())
		b.WriteString(" Waiting for authorization...")
		if m.remaining > 0 {
			b.WriteString("  ")
			b.WriteString(styleDim.Render(formatDuration(m.remaining) + " remaining"))
		}
		b.WriteString("\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateCalling:
		b.WriteString(m.spinner.View())
		b.WriteString(" Calling API...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Working...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after a command completes.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Done"))
	b.WriteString("\n\n")

	if m.summary.Account != "" {
		b.WriteString(styleBold.Render("Account:      "))
		b.WriteString(m.summary.Account + "\n")
	}
	if m.summary.Username != "" {
		b.WriteString(styleBold.Render("User:         "))
		b.WriteString(m.summary.Username + "\n")
	}
	if m.summary.Preview != "" {
		b.WriteString(styleBold.Render("Access Token: "))
		b.WriteString(m.summary.Preview + "\n")

		b.WriteString(styleBold.Render("Token Type:   "))
		b.WriteString(m.summary.TokenType + "\n")

		b.WriteString(styleBold.Render("Expires In:   "))
		b.WriteString(formatDuration(m.summary.ExpiresIn) + "\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Operation failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs"; zero or negative
// means the lifetime is unknown.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "unknown"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
