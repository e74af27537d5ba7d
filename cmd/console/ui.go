package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/unknown-world/internal/pipeline"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const (
	AgentName       = "Narrator"
	PlaceHolderText = "Describe your action, or /help..."
)

type entryKind int

const (
	entryPlayer entryKind = iota
	entryNarrator
	entrySystem
	entryError
)

type entry struct {
	kind entryKind
	text string
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	client       *http.Client
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int

	language  turn.Language
	snapshot  turn.CurrencyAmount
	entries   []entry
	last      *turn.TurnOutput
	stages    map[turn.Phase]pipeline.StageStatus
	badges    []turn.Badge
	delta     string
	requestID string

	loading bool
	events  chan pipeline.Event
	done    chan turnDoneMsg
	cancel  context.CancelFunc

	showQuitModal bool
	progressTick  int
}

type turnEventMsg struct {
	event pipeline.Event
}

type turnDoneMsg struct {
	requestID string
	err       error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("78"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(cfg *ConsoleConfig, client *http.Client) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:       cfg,
		client:       client,
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: metaVp,
		language:     cfg.Language,
		snapshot:     cfg.Snapshot,
		stages:       map[turn.Phase]pipeline.StageStatus{},
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return textarea.Blink
}

func (m *ConsoleUI) resize() {
	chatWidth := int(float64(m.width)*0.70) - 4
	metaWidth := m.width - chatWidth - 6

	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

// writeChatContent rebuilds the transcript for the current viewport width.
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6
	if chatWidth < 20 {
		chatWidth = 20
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("UNKNOWN WORLD") + "\n\n")
	content.WriteString("Type an action below. Every turn streams through the agent pipeline.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth-6)) + "\n\n")

	for _, e := range m.entries {
		switch e.kind {
		case entryPlayer:
			content.WriteString(userStyle.Render("You: ") + wordwrap.String(e.text, chatWidth-6) + "\n\n")
		case entryNarrator:
			content.WriteString(narratorStyle.Render(AgentName+": ") + wordwrap.String(e.text, chatWidth-len(AgentName)-2) + "\n\n")
		case entrySystem:
			content.WriteString(systemStyle.Render(wordwrap.String(e.text, chatWidth)) + "\n")
		case entryError:
			content.WriteString(errorStyle.Render("Error: "+wordwrap.String(e.text, chatWidth-7)) + "\n\n")
		}
	}

	if m.loading {
		if m.delta != "" {
			content.WriteString(narratorStyle.Render(AgentName+": ") + wordwrap.String(m.delta, chatWidth-len(AgentName)-2) + "\n\n")
		}
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

var stageMarks = map[pipeline.StageStatus]string{
	pipeline.StageStart:    "…",
	pipeline.StageComplete: "✓",
	pipeline.StageFail:     "✗",
}

func (m ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("AGENT CONSOLE") + "\n\n")

	content.WriteString("Session:\n")
	content.WriteString(m.config.SessionID[:8] + "...\n\n")

	content.WriteString(fmt.Sprintf("Language: %s\n", m.language))
	content.WriteString(fmt.Sprintf("Signal: %d\n", m.snapshot.Signal))
	content.WriteString(fmt.Sprintf("Memory Shard: %d\n\n", m.snapshot.MemoryShard))

	content.WriteString("Pipeline:\n")
	for _, phase := range turn.Phases {
		mark := " "
		if status, ok := m.stages[phase]; ok {
			mark = stageMarks[status]
		}
		content.WriteString(fmt.Sprintf("%s %s\n", mark, phase))
	}
	content.WriteString("\n")

	if len(m.badges) > 0 {
		content.WriteString("Badges:\n")
		for _, b := range m.badges {
			style := okStyle
			if !strings.HasSuffix(string(b), "_ok") {
				style = errorStyle
			}
			content.WriteString("• " + style.Render(string(b)) + "\n")
		}
		content.WriteString("\n")
	}

	if m.last != nil {
		ac := m.last.AgentConsole
		content.WriteString(fmt.Sprintf("Model: %s\nRepairs: %d\n\n", ac.ModelLabel, ac.RepairCount))

		if cards := m.last.UI.ActionDeck.Cards; len(cards) > 0 {
			content.WriteString("Actions (/card N):\n")
			for i, c := range cards {
				line := fmt.Sprintf("%d. %s [%d Signal, %s]", i+1, c.Label, c.Cost.Signal, c.Risk)
				if !c.Enabled {
					line = promptStyle.Render(line)
				}
				content.WriteString(line + "\n")
			}
			content.WriteString("\n")
		}
		if objs := m.last.UI.Objects; len(objs) > 0 {
			content.WriteString("Hotspots:\n")
			for _, o := range objs {
				content.WriteString(fmt.Sprintf("• %s\n", o.Label))
			}
			content.WriteString("\n")
		}
		if quests := m.last.World.QuestsUpdated; len(quests) > 0 {
			content.WriteString("Quests:\n")
			for _, q := range quests {
				content.WriteString(fmt.Sprintf("• %s %d%%\n", q.Label, q.Progress))
			}
			content.WriteString("\n")
		}
		if url := m.last.Render.ImageURL; url != "" {
			content.WriteString("Scene image:\n" + url + "\n\n")
		}
	}

	content.WriteString("Commands:\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• /card N: Play card\n")
	content.WriteString("• /lang: Switch language\n")
	content.WriteString("• /copy: Copy narrative\n")
	content.WriteString("• /quit: Quit\n")

	return content.String()
}

func (m *ConsoleUI) refresh() {
	m.writeChatContent()
	m.metaViewport.SetContent(m.writeMetadata())
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			return m.startTurn(turn.TurnInput{Text: input}, input)
		}

	case turnEventMsg:
		m.applyEvent(msg.event)
		m.refresh()
		return m, m.waitForEvent()

	case turnDoneMsg:
		m.loading = false
		m.requestID = msg.requestID
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		if msg.err != nil {
			m.entries = append(m.entries, entry{entryError, msg.err.Error()})
		}
		m.delta = ""
		m.refresh()
		return m, nil

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

// applyEvent folds one stream event into the view state.
func (m *ConsoleUI) applyEvent(ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventStage:
		m.stages[ev.Name] = ev.Status
	case pipeline.EventBadges:
		m.badges = ev.Badges
	case pipeline.EventRepair:
		m.entries = append(m.entries, entry{entrySystem, fmt.Sprintf("↻ repair %d: %s", ev.Attempt, ev.Message)})
	case pipeline.EventNarrativeDelta:
		m.delta += ev.Text
	case pipeline.EventFinal:
		if ev.Data == nil {
			return
		}
		out := ev.Data.Clone()
		m.last = &out
		m.badges = out.AgentConsole.Badges
		m.snapshot = out.Economy.BalanceAfter
		m.entries = append(m.entries, entry{entryNarrator, out.Narrative})
		if out.Safety.Blocked && out.Safety.Message != "" {
			m.entries = append(m.entries, entry{entrySystem, out.Safety.Message})
		}
		m.delta = ""
	case pipeline.EventError:
		m.entries = append(m.entries, entry{entryError, fmt.Sprintf("%s: %s", ev.Code, ev.Message)})
	}
}

func (m ConsoleUI) startTurn(in turn.TurnInput, display string) (tea.Model, tea.Cmd) {
	in.Language = m.language
	in.EconomySnapshot = m.snapshot
	in.SessionID = m.config.SessionID

	m.entries = append(m.entries, entry{entryPlayer, display})
	m.stages = map[turn.Phase]pipeline.StageStatus{}
	m.badges = nil
	m.loading = true
	m.progressTick = 0
	m.events = make(chan pipeline.Event, 16)
	m.done = make(chan turnDoneMsg, 1)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go func(events chan pipeline.Event, done chan turnDoneMsg) {
		id, err := streamTurn(ctx, m.client, m.config.APIBaseURL, in, events)
		done <- turnDoneMsg{requestID: id, err: err}
	}(m.events, m.done)

	m.refresh()
	return m, tea.Batch(m.waitForEvent(), progressTick())
}

// waitForEvent delivers the next stream event, then the completion.
func (m ConsoleUI) waitForEvent() tea.Cmd {
	events, done := m.events, m.done
	return func() tea.Msg {
		if ev, ok := <-events; ok {
			return turnEventMsg{event: ev}
		}
		return <-done
	}
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/help":
		m.entries = append(m.entries, entry{entrySystem, `Commands:
• /card N - play action card N from the side panel
• /lang - switch between Korean and English
• /copy - copy the last narrative to the clipboard
• /quit - quit`})

	case "/lang":
		if m.language == turn.LanguageKO {
			m.language = turn.LanguageEN
		} else {
			m.language = turn.LanguageKO
		}
		m.entries = append(m.entries, entry{entrySystem, "Language: " + string(m.language)})

	case "/copy":
		if m.last == nil {
			m.entries = append(m.entries, entry{entrySystem, "Nothing to copy yet."})
			break
		}
		if err := clipboard.WriteAll(m.last.Narrative); err != nil {
			m.entries = append(m.entries, entry{entryError, "clipboard: " + err.Error()})
			break
		}
		m.entries = append(m.entries, entry{entrySystem, "Narrative copied."})

	case "/card":
		card, err := m.pickCard(fields)
		if err != nil {
			m.entries = append(m.entries, entry{entryError, err.Error()})
			break
		}
		return m.startTurn(turn.TurnInput{Text: card.Label, ActionID: card.ID}, "▶ "+card.Label)

	case "/quit":
		m.showQuitModal = true
		return m, nil

	default:
		m.entries = append(m.entries, entry{entrySystem, "Unknown command " + fields[0] + ", try /help"})
	}

	m.refresh()
	return m, nil
}

func (m ConsoleUI) pickCard(fields []string) (turn.ActionCard, error) {
	if m.last == nil || len(m.last.UI.ActionDeck.Cards) == 0 {
		return turn.ActionCard{}, fmt.Errorf("no action cards on the table")
	}
	cards := m.last.UI.ActionDeck.Cards
	if len(fields) < 2 {
		return turn.ActionCard{}, fmt.Errorf("usage: /card N (1-%d)", len(cards))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 1 || n > len(cards) {
		return turn.ActionCard{}, fmt.Errorf("usage: /card N (1-%d)", len(cards))
	}
	card := cards[n-1]
	if !card.Enabled {
		return turn.ActionCard{}, fmt.Errorf("%s is not affordable right now", card.Label)
	}
	return card, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				if m.cancel != nil {
					m.cancel()
				}
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}

	case turnEventMsg:
		m.applyEvent(msg.event)
		return m, m.waitForEvent()

	case turnDoneMsg:
		m.loading = false
		m.requestID = msg.requestID
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Leave the unknown world?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.70) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓") // Blinking effect at the progress point
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
