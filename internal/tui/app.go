// internal/tui/app.go
//
// This is the wave board: a read-only TUI over the plan document.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen
//
// The board reloads whenever the plan file changes on disk, so a running
// `lattice-waves run` in another terminal shows up here as it progresses.

package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/kingrea/lattice-waves/internal/artifact"
	"github.com/kingrea/lattice-waves/internal/delegation"
	"github.com/kingrea/lattice-waves/internal/logbook"
	"github.com/kingrea/lattice-waves/internal/workflow"
	"github.com/kingrea/lattice-waves/internal/workflow/graph"
	"github.com/kingrea/lattice-waves/internal/workflow/scheduler"
)

const (
	boardRefreshInterval = 3 * time.Second
	logPanelLines        = 8
)

type boardFocus int

const (
	focusWaves boardFocus = iota
	focusDetail
)

type boardLoadedMsg struct {
	plan        workflow.WorkflowTaskList
	problems    []string
	assignments map[string]delegation.Assignment
	at          time.Time
	err         error
}

type planChangedMsg struct{}

type watchErrMsg struct{ err error }

type refreshTickMsg struct{}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook shows the tail of the execution journal under the board.
func WithLogbook(book *logbook.Logbook) AppOption {
	return func(a *App) { a.logbook = book }
}

// WithWorkContext sets the shared context used to build assignments.
func WithWorkContext(context string) AppOption {
	return func(a *App) { a.context = context }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.now = clock
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	store    *artifact.Store
	resolver *delegation.Resolver
	logbook  *logbook.Logbook
	context  string
	now      func() time.Time
	watcher  *fsnotify.Watcher

	plan        workflow.WorkflowTaskList
	groups      []scheduler.WaveGroup
	assignments map[string]delegation.Assignment
	problems    []string
	loadErr     error
	loadedAt    time.Time

	// UI components
	waves     list.Model
	detail    viewport.Model
	focus     boardFocus
	statusMsg string

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// waveItem implements list.Item for one wave.
type waveItem struct {
	wave     int
	tasks    int
	done     int
	estimate time.Duration
}

func (i waveItem) Title() string { return fmt.Sprintf("Wave %d", i.wave) }
func (i waveItem) Description() string {
	return fmt.Sprintf("%d/%d done · est. %s", i.done, i.tasks, scheduler.FormatMinutes(i.estimate))
}
func (i waveItem) FilterValue() string { return i.Title() }

// NewApp creates a wave board over the plan kept by store.
func NewApp(store *artifact.Store, resolver *delegation.Resolver, opts ...AppOption) *App {
	if resolver == nil {
		resolver = delegation.NewResolver()
	}
	waves := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	waves.Title = "⬡ WAVES"
	waves.SetShowStatusBar(false)
	waves.SetFilteringEnabled(false)
	waves.SetShowHelp(false)
	a := &App{
		store:    store,
		resolver: resolver,
		now:      time.Now,
		waves:    waves,
		detail:   viewport.New(0, 0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the board in the alternate screen and blocks until it exits.
func Run(app *App) error {
	program := tea.NewProgram(app, tea.WithAltScreen())
	_, err := program.Run()
	if closeErr := app.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close stops the file watcher.
func (a *App) Close() error {
	if a.watcher == nil {
		return nil
	}
	err := a.watcher.Close()
	a.watcher = nil
	return err
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadBoard(), a.watchPlan(), a.scheduleRefresh())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case boardLoadedMsg:
		a.applyBoard(msg)
		return a, nil

	case planChangedMsg:
		a.statusMsg = "Plan changed on disk, reloading..."
		return a, tea.Batch(a.loadBoard(), a.waitForChange())

	case watchErrMsg:
		a.statusMsg = fmt.Sprintf("Watcher error: %v", msg.err)
		return a, a.waitForChange()

	case refreshTickMsg:
		// The journal tail is read during View; the tick just forces a redraw.
		return a, a.scheduleRefresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			a.statusMsg = "Reloading plan..."
			return a, a.loadBoard()
		case "tab":
			if a.focus == focusWaves {
				a.focus = focusDetail
			} else {
				a.focus = focusWaves
			}
			return a, nil
		}
	}

	var cmd tea.Cmd
	if a.focus == focusDetail {
		a.detail, cmd = a.detail.Update(msg)
		return a, cmd
	}
	before := a.waves.Index()
	a.waves, cmd = a.waves.Update(msg)
	if a.waves.Index() != before {
		a.syncDetail()
	}
	return a, cmd
}

// View renders the board.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(a.headerLine())

	var body string
	switch {
	case a.loadErr != nil:
		body = errorStyle.Render(a.loadErr.Error())
	case len(a.problems) > 0:
		lines := []string{errorStyle.Render("Plan has validation errors:")}
		for _, problem := range a.problems {
			lines = append(lines, "  - "+problem)
		}
		body = strings.Join(lines, "\n")
	default:
		leftWidth, rightWidth := a.columnWidths()
		left := panelStyle(a.focus == focusWaves).Width(max(20, leftWidth)).Render(a.waves.View())
		right := panelStyle(a.focus == focusDetail).Width(max(20, rightWidth)).Render(a.detail.View())
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	}

	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.footerLine())
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)

func panelStyle(focused bool) lipgloss.Style {
	border := lipgloss.Color("#444444")
	if focused {
		border = lipgloss.Color("#5B8DEF")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}

func (a *App) headerLine() string {
	if a.plan.PlanID == "" {
		return "⬡ LATTICE WAVES"
	}
	name := a.plan.PlanName
	if name == "" {
		name = a.plan.PlanID
	}
	done := 0
	for _, task := range a.plan.Tasks {
		if task.Status == workflow.StatusCompleted {
			done++
		}
	}
	return fmt.Sprintf("⬡ %s · %d/%d tasks done across %d waves", name, done, len(a.plan.Tasks), len(a.groups))
}

func (a *App) footerLine() string {
	hint := "↑/↓ wave · tab focus · r reload · q quit"
	if a.statusMsg != "" {
		return a.statusMsg + " · " + hint
	}
	return hint
}

func (a *App) columnWidths() (int, int) {
	if a.width <= 0 {
		return 32, 60
	}
	left := max(28, a.width/3)
	return left, max(20, a.width-left-6)
}

func (a *App) resize() {
	leftWidth, rightWidth := a.columnWidths()
	height := max(6, a.height-logPanelLines-10)
	a.waves.SetSize(max(0, leftWidth-4), height)
	a.detail.Width = max(0, rightWidth-4)
	a.detail.Height = height
	a.syncDetail()
}

func (a *App) loadBoard() tea.Cmd {
	store, resolver, context, now := a.store, a.resolver, a.context, a.now
	return func() tea.Msg {
		return buildBoard(store, resolver, context, now())
	}
}

func buildBoard(store *artifact.Store, resolver *delegation.Resolver, context string, at time.Time) boardLoadedMsg {
	doc, err := store.Load()
	if err != nil {
		if errors.Is(err, artifact.ErrMissingBlock) {
			err = fmt.Errorf("%s has no task data block yet", filepath.Base(store.Path()))
		}
		return boardLoadedMsg{err: err, at: at}
	}
	msg := boardLoadedMsg{plan: doc.Data, at: at}
	msg.problems = graph.Validate(doc.Data.Tasks)
	if len(msg.problems) > 0 {
		return msg
	}
	msg.assignments = make(map[string]delegation.Assignment, len(doc.Data.Tasks))
	for _, task := range doc.Data.Tasks {
		assignment, err := resolver.BuildAssignment(task, context)
		if err != nil {
			continue
		}
		msg.assignments[task.ID] = assignment
	}
	return msg
}

func (a *App) applyBoard(msg boardLoadedMsg) {
	a.loadErr = msg.err
	a.loadedAt = msg.at
	if msg.err != nil {
		a.statusMsg = ""
		return
	}
	a.plan = msg.plan
	a.problems = msg.problems
	a.assignments = msg.assignments
	a.groups = scheduler.GroupByWave(msg.plan.Tasks)
	estimate := scheduler.EstimateDuration(msg.plan.Tasks)

	items := make([]list.Item, 0, len(a.groups))
	for _, group := range a.groups {
		item := waveItem{wave: group.Wave, tasks: len(group.Tasks), estimate: estimate.PerWave[group.Wave]}
		for _, task := range group.Tasks {
			if task.Status == workflow.StatusCompleted {
				item.done++
			}
		}
		items = append(items, item)
	}
	selected := a.waves.Index()
	a.waves.SetItems(items)
	if selected < len(items) {
		a.waves.Select(selected)
	}
	a.statusMsg = fmt.Sprintf("Loaded %s", msg.at.Format("15:04:05"))
	a.syncDetail()
}

func (a *App) selectedGroup() (scheduler.WaveGroup, bool) {
	item, ok := a.waves.SelectedItem().(waveItem)
	if !ok {
		return scheduler.WaveGroup{}, false
	}
	for _, group := range a.groups {
		if group.Wave == item.wave {
			return group, true
		}
	}
	return scheduler.WaveGroup{}, false
}

func (a *App) syncDetail() {
	group, ok := a.selectedGroup()
	if !ok {
		a.detail.SetContent("No tasks in this plan.")
		return
	}
	a.detail.SetContent(renderWave(group, a.assignments))
	a.detail.GotoTop()
}

func renderWave(group scheduler.WaveGroup, assignments map[string]delegation.Assignment) string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))

	tasks := append([]workflow.Task(nil), group.Tasks...)
	sort.SliceStable(tasks, func(i, j int) bool {
		return statusRank(tasks[i]) < statusRank(tasks[j])
	})
	lines := []string{title.Render(fmt.Sprintf("Wave %d · %d tasks", group.Wave, len(tasks))), ""}
	for _, task := range tasks {
		lines = append(lines, fmt.Sprintf("%s %s  %s", statusIcon(task), task.ID, task.Subject))
		if assignment, ok := assignments[task.ID]; ok {
			skills := "none"
			if len(assignment.Skills) > 0 {
				skills = strings.Join(assignment.Skills, ", ")
			}
			lines = append(lines, muted.Render(fmt.Sprintf("    %s · skills: %s · est. %s", assignment.Category, skills, assignment.EstimatedLabel())))
		}
		if len(task.BlockedBy) > 0 {
			lines = append(lines, muted.Render("    blocked by: "+strings.Join(task.BlockedBy, ", ")))
		}
		if reason, ok := task.Metadata["lastFailure"].(string); ok && reason != "" && task.Status != workflow.StatusCompleted {
			lines = append(lines, errorStyle.Render("    last failure: "+reason))
		}
	}
	return strings.Join(lines, "\n")
}

func statusIcon(task workflow.Task) string {
	switch task.Status {
	case workflow.StatusCompleted:
		return "[✓]"
	case workflow.StatusInProgress:
		return "[~]"
	}
	if _, failed := task.Metadata["lastFailure"]; failed {
		return "[!]"
	}
	return "[ ]"
}

func statusRank(task workflow.Task) int {
	switch task.Status {
	case workflow.StatusInProgress:
		return 0
	case workflow.StatusCompleted:
		return 2
	default:
		return 1
	}
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s (%d entries)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// watchPlan starts watching the plan's directory. The store replaces the file
// by rename, so the directory is watched rather than the file itself.
func (a *App) watchPlan() tea.Cmd {
	if a.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return func() tea.Msg { return watchErrMsg{err: err} }
		}
		if err := watcher.Add(filepath.Dir(a.store.Path())); err != nil {
			_ = watcher.Close()
			return func() tea.Msg { return watchErrMsg{err: err} }
		}
		a.watcher = watcher
	}
	return a.waitForChange()
}

func (a *App) waitForChange() tea.Cmd {
	watcher := a.watcher
	if watcher == nil {
		return nil
	}
	target := filepath.Clean(a.store.Path())
	return func() tea.Msg {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if isPlanChange(event, target) {
					return planChangedMsg{}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return watchErrMsg{err: err}
			}
		}
	}
}

func isPlanChange(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
