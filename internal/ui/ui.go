// Package ui is the terminal front end: a search box, the ranked result table,
// the service list and a status line driven by the refresh loop.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/app"
	"github.com/Ashfaaq98/ioc-console/internal/refresh"
	"github.com/Ashfaaq98/ioc-console/internal/results"
	"github.com/Ashfaaq98/ioc-console/internal/service"
)

const (
	pageMain  = "main"
	pageModal = "modal"
)

var resultHeaders = []string{"Value", "From", "Matched", "Info", "ID"}

// Options tunes the UI.
type Options struct {
	// Theme is one of dark, light, high-contrast. Empty picks by terminal.
	Theme string
	// ExportDir prefills the export dialog.
	ExportDir string
	// ErrorHold keeps errors on the status line at least this long.
	ErrorHold time.Duration
}

// UI represents the terminal user interface
type UI struct {
	app     *tview.Application
	session *app.Session
	loop    *refresh.Loop
	logger  *zap.Logger
	opts    Options

	// Layout components
	pages     *tview.Pages
	layout    *tview.Flex
	appTitle  *tview.TextView
	search    *tview.TextArea
	results   *tview.Table
	services  *tview.List
	statusBar *tview.TextView

	// Theme state
	theme     Theme
	themeName string

	// Runtime
	running      atomic.Bool
	lastFocus    tview.Primitive
	onModalClose func()

	mu             sync.Mutex
	shown          []results.Record // last rendered result set, display order
	rows           []results.Record // rows currently in the table
	showingHistory bool
	status         refresh.Status
	catalog        []service.Descriptor

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewUI builds the UI around session. The UI is the presenter of its own
// refresh loop.
func NewUI(ctx context.Context, session *app.Session, opts Options, logger *zap.Logger) *UI {
	if logger == nil {
		logger = zap.NewNop()
	}
	uiCtx, cancel := context.WithCancel(ctx)

	ui := &UI{
		app:     tview.NewApplication(),
		session: session,
		logger:  logger.Named("ui"),
		opts:    opts,
		ctx:     uiCtx,
		cancel:  cancel,
		status:  refresh.Status{Level: refresh.LevelNominal, Text: refresh.NominalText},
	}
	ui.loop = refresh.NewLoop(session.Aggregator(), ui, refresh.Options{ErrorHold: opts.ErrorHold}, logger)

	themeName := opts.Theme
	if themeName == "" && !detectTrueColor() {
		themeName = "high-contrast"
	}
	ui.themeName, ui.theme = themeByName(themeName)

	ui.setupLayout()
	ui.setupKeybindings()
	ui.applyTheme()
	return ui
}

// Start runs the TUI until ctx is cancelled or the user quits.
func (ui *UI) Start(ctx context.Context) error {
	ui.logger.Info("starting TUI")

	go func() {
		select {
		case <-ctx.Done():
		case <-ui.ctx.Done():
		}
		ui.cancel()
		ui.app.Stop()
	}()

	go func() {
		if err := ui.loop.Run(ui.ctx); err != nil && ui.ctx.Err() == nil {
			ui.logger.Warn("refresh loop ended", zap.Error(err))
		}
	}()

	go ui.reloadServices(false)

	ui.running.Store(true)
	err := ui.app.Run()
	ui.running.Store(false)
	ui.logger.Info("TUI stopped", zap.Error(err))
	return err
}

// Stop stops the TUI application
func (ui *UI) Stop() {
	ui.cancel()
	ui.app.Stop()
}

// update runs fn on the UI goroutine when the application is running, and
// inline otherwise.
func (ui *UI) update(fn func()) {
	if ui.running.Load() {
		ui.app.QueueUpdateDraw(fn)
		return
	}
	fn()
}

// setupLayout creates the main layout
func (ui *UI) setupLayout() {
	ui.appTitle = tview.NewTextView().SetDynamicColors(true)

	ui.search = tview.NewTextArea()
	ui.search.SetTitle(" Search text (Ctrl-S to search) ")
	ui.search.SetBorder(true)
	ui.search.SetTitleAlign(tview.AlignLeft)
	ui.search.SetPlaceholder("Paste logs, alerts or emails here...")

	ui.results = tview.NewTable()
	ui.results.SetTitle(" Results ")
	ui.results.SetBorder(true)
	ui.results.SetTitleAlign(tview.AlignLeft)
	ui.results.SetSelectable(true, false)
	ui.results.SetFixed(1, 0)
	ui.results.SetSelectedFunc(func(row, _ int) {
		if rec, ok := ui.recordAt(row); ok {
			go ui.showDetails(rec)
		}
	})

	ui.services = tview.NewList()
	ui.services.SetTitle(" Services (Enter toggles) ")
	ui.services.SetBorder(true)
	ui.services.SetTitleAlign(tview.AlignLeft)
	ui.services.SetSelectedFunc(func(index int, _, _ string, _ rune) {
		ui.mu.Lock()
		if index < 0 || index >= len(ui.catalog) {
			ui.mu.Unlock()
			return
		}
		kind := ui.catalog[index].Kind
		ui.mu.Unlock()
		go ui.toggleService(kind)
	})

	ui.statusBar = tview.NewTextView().SetDynamicColors(true)

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.appTitle, 1, 0, false).
		AddItem(ui.search, 0, 1, true).
		AddItem(ui.services, 0, 1, false)

	ui.layout = tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(left, 50, 0, true).
		AddItem(ui.results, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.layout, 0, 1, true).
		AddItem(ui.statusBar, 1, 0, false)

	ui.pages = tview.NewPages().AddPage(pageMain, root, true, true)
	ui.app.SetRoot(ui.pages, true)
	ui.app.SetFocus(ui.search)

	ui.renderTable(nil)
	ui.renderStatus()
}

// isTyping reports whether focus is in a text input, where runes must not be
// treated as shortcuts.
func (ui *UI) isTyping() bool {
	if ui.pages.HasPage(pageModal) {
		return true
	}
	switch ui.app.GetFocus().(type) {
	case *tview.TextArea, *tview.InputField, *tview.Form, *tview.Button:
		return true
	}
	return false
}

func (ui *UI) setupKeybindings() {
	ui.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyCtrlS, tcell.KeyF5:
			if !ui.pages.HasPage(pageModal) {
				ui.runSearch()
				return nil
			}
		case tcell.KeyCtrlC:
			ui.Stop()
			return nil
		case tcell.KeyTab:
			if !ui.pages.HasPage(pageModal) {
				ui.cycleFocus()
				return nil
			}
		case tcell.KeyEsc:
			if ui.pages.HasPage(pageModal) {
				ui.closeModal()
				return nil
			}
		case tcell.KeyRune:
			if ui.isTyping() {
				return ev
			}
			return ui.handleRune(ev)
		}
		return ev
	})
}

func (ui *UI) handleRune(ev *tcell.EventKey) *tcell.EventKey {
	switch ev.Rune() {
	case 'q':
		ui.Stop()
	case '?':
		ui.showHelp()
	case 'h':
		ui.toggleHistory()
	case 'e':
		go ui.export(false)
	case 'E':
		go ui.export(true)
	case 'x':
		ui.clearResults()
	case 'X':
		ui.confirm("Clear the search history?", func() {
			go func() {
				if err := ui.session.ClearHistory(ui.ctx); err == nil {
					ui.session.Aggregator().AddMessage("History cleared.")
				}
			}()
		})
	case 'R':
		go func() {
			if _, err := ui.session.Rectify(ui.ctx); err == nil {
				ui.reloadServices(false)
			}
		}()
	case 's':
		go ui.reloadServices(true)
	case 'u':
		ui.showUploadForm()
	case 'p':
		ui.showProfileForm()
	case 't':
		ui.setTheme(nextTheme(ui.themeName))
	default:
		return ev
	}
	return nil
}

// cycleFocus cycles focus between UI components
func (ui *UI) cycleFocus() {
	var next tview.Primitive
	switch ui.app.GetFocus() {
	case ui.search:
		next = ui.results
	case ui.results:
		next = ui.services
	default:
		next = ui.search
	}
	ui.app.SetFocus(next)
	ui.highlightFocus(next)
}

func (ui *UI) highlightFocus(focused tview.Primitive) {
	ui.search.SetBorderColor(ui.theme.Border)
	ui.results.SetBorderColor(ui.theme.Border)
	ui.services.SetBorderColor(ui.theme.Border)
	switch focused {
	case ui.search:
		ui.search.SetBorderColor(ui.theme.FocusBorder)
	case ui.results:
		ui.results.SetBorderColor(ui.theme.FocusBorder)
	case ui.services:
		ui.services.SetBorderColor(ui.theme.FocusBorder)
	}
}

// runSearch starts a search over the text box contents. The UI never waits on
// the dispatched jobs; the refresh loop renders their results.
func (ui *UI) runSearch() {
	text := ui.search.GetText()
	ui.mu.Lock()
	ui.showingHistory = false
	ui.shown = nil
	ui.mu.Unlock()
	ui.loop.Reset()
	ui.renderPlaceholder("Parsing text... searching...")

	go func() {
		if _, err := ui.session.Search(ui.ctx, text); err != nil {
			ui.logger.Debug("search not started", zap.Error(err))
		}
	}()
}

// ShowStatus renders the status line.
func (ui *UI) ShowStatus(st refresh.Status) {
	ui.mu.Lock()
	ui.status = st
	ui.mu.Unlock()
	ui.update(ui.renderStatus)
}

// ShowResults renders rs, already in display order.
func (ui *UI) ShowResults(rs []results.Record) {
	ui.mu.Lock()
	ui.shown = rs
	history := ui.showingHistory
	ui.mu.Unlock()
	if history {
		return
	}
	ui.update(func() { ui.renderTable(rs) })
}

func (ui *UI) renderStatus() {
	ui.mu.Lock()
	st := ui.status
	ui.mu.Unlock()

	tag := ui.theme.TagSuccess
	switch st.Level {
	case refresh.LevelError:
		tag = ui.theme.TagError
	case refresh.LevelJobs:
		tag = ui.theme.TagWarning
	}
	ui.statusBar.SetText(fmt.Sprintf("[%s]%s[-] [%s]|[-] [%s]%s[-] [%s]|[-] %s",
		ui.theme.TagMuted, time.Now().Format("15:04:05"),
		ui.theme.TagMuted,
		tag, tview.Escape(st.Text),
		ui.theme.TagMuted,
		ui.shortcutHints()))
}

func (ui *UI) shortcutHints() string {
	return fmt.Sprintf("[%s]^S[-]:search [%s]Tab[-]:focus [%s]h[-]:history [%s]e/E[-]:export [%s]x[-]:clear [%s]?[-]:help [%s]q[-]:quit",
		ui.theme.TagAccent, ui.theme.TagAccent, ui.theme.TagAccent, ui.theme.TagAccent,
		ui.theme.TagAccent, ui.theme.TagAccent, ui.theme.TagAccent)
}

func (ui *UI) renderHeader() {
	for col, h := range resultHeaders {
		ui.results.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(ui.theme.TableHeader).
			SetBackgroundColor(ui.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false))
	}
}

func (ui *UI) renderPlaceholder(text string) {
	ui.results.Clear()
	ui.renderHeader()
	ui.results.SetCell(1, 0, tview.NewTableCell(text).
		SetTextColor(ui.theme.TableRowMuted).
		SetSelectable(false))
	ui.mu.Lock()
	ui.rows = nil
	ui.mu.Unlock()
}

// renderTable must run on the UI goroutine once the application is running.
func (ui *UI) renderTable(rs []results.Record) {
	ui.results.Clear()
	ui.renderHeader()
	ui.mu.Lock()
	ui.rows = rs
	title := " Results "
	if ui.showingHistory {
		title = " History "
	}
	ui.mu.Unlock()
	ui.results.SetTitle(fmt.Sprintf("%s(%d) ", title, len(rs)))

	for i, r := range rs {
		row := i + 1
		color := ui.theme.rowColor(r.Background)
		matched := ""
		if r.Matched != 0 {
			matched = strconv.FormatFloat(r.Matched, 'f', -1, 64)
		}
		cells := []string{r.Value, r.From, matched, r.Info, r.ID}
		for col, text := range cells {
			cell := tview.NewTableCell(tview.Escape(text)).SetTextColor(color)
			if col == 3 {
				cell.SetExpansion(1).SetMaxWidth(60)
			}
			ui.results.SetCell(row, col, cell)
		}
	}
	if len(rs) > 0 {
		ui.results.Select(1, 0)
	}
}

func (ui *UI) recordAt(row int) (results.Record, bool) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	if row < 1 || row > len(ui.rows) {
		return results.Record{}, false
	}
	return ui.rows[row-1], true
}

// toggleHistory switches the table between the current results and history.
func (ui *UI) toggleHistory() {
	ui.mu.Lock()
	ui.showingHistory = !ui.showingHistory
	history := ui.showingHistory
	shown := ui.shown
	ui.mu.Unlock()

	if history {
		ui.renderTable(ui.session.Aggregator().History())
		return
	}
	ui.renderTable(shown)
}

func (ui *UI) clearResults() {
	ui.session.ClearResults()
	ui.loop.Reset()
	ui.mu.Lock()
	ui.shown = nil
	ui.showingHistory = false
	ui.mu.Unlock()
	ui.renderTable(nil)
}

// reloadServices refreshes the service list, fetching the catalog first when
// fetch is set.
func (ui *UI) reloadServices(fetch bool) {
	if fetch {
		if err := ui.session.RefreshServices(ui.ctx); err != nil {
			ui.logger.Debug("service refresh failed", zap.Error(err))
		}
	}
	catalog := ui.session.Catalog()
	ui.update(func() { ui.renderServices(catalog) })
}

func (ui *UI) renderServices(catalog []service.Descriptor) {
	ui.mu.Lock()
	ui.catalog = catalog
	ui.mu.Unlock()

	current := ui.services.GetCurrentItem()
	ui.services.Clear()
	for _, d := range catalog {
		mark := tview.Escape("[ ]")
		if d.Selected {
			mark = fmt.Sprintf("[%s]%s[-]", ui.theme.TagSuccess, tview.Escape("[x]"))
		}
		name := d.Kind
		if d.Name != "" {
			name = fmt.Sprintf("%s (%s)", d.Kind, d.Name)
		}
		kinds := make([]string, len(d.Types))
		for i, k := range d.Types {
			kinds[i] = string(k)
		}
		ui.services.AddItem(fmt.Sprintf("%s %s", mark, tview.Escape(name)), strings.Join(kinds, ", "), 0, nil)
	}
	if current < len(catalog) {
		ui.services.SetCurrentItem(current)
	}
	ui.services.SetTitle(fmt.Sprintf(" Services (%d) ", len(catalog)))
}

func (ui *UI) toggleService(kind string) {
	enabled, err := ui.session.ToggleService(ui.ctx, kind)
	if err != nil {
		ui.logger.Warn("toggle failed", zap.String("service", kind), zap.Error(err))
	} else {
		verb := "Removed"
		if enabled {
			verb = "Added"
		}
		ui.session.Aggregator().AddMessage(fmt.Sprintf("%s %s", verb, kind))
	}
	ui.reloadServices(false)
}

// showDetails fetches the event behind rec and who else searched its value.
func (ui *UI) showDetails(rec results.Record) {
	var b strings.Builder
	users, err := ui.session.PastSearchers(ui.ctx, rec.Value)
	if err == nil {
		b.WriteString(app.PastSearchersText(rec.Value, users))
		b.WriteString("\n\n")
	}
	if rec.ID != "" && rec.Link != "none" {
		if raw, err := ui.session.Details(ui.ctx, rec.ID); err == nil {
			b.WriteString(prettyJSON(raw))
		}
	}
	if b.Len() == 0 {
		b.WriteString(rec.Info)
	}
	text := b.String()
	ui.update(func() { ui.showText(fmt.Sprintf("Details for %s", rec.Value), text) })
}

func (ui *UI) export(includeHistory bool) {
	saver := dialogSaver{ui: ui}
	if _, err := ui.session.Export(ui.ctx, includeHistory, saver); err != nil {
		ui.logger.Warn("export failed", zap.Error(err))
	}
}

func (ui *UI) setTheme(name string) {
	ui.themeName, ui.theme = themeByName(name)
	ui.applyTheme()
	ui.session.Aggregator().AddMessage("Theme: " + ui.themeName)
}

func (ui *UI) applyTheme() {
	ui.search.SetBackgroundColor(ui.theme.Surface)
	ui.results.SetBackgroundColor(ui.theme.Surface)
	ui.services.SetBackgroundColor(ui.theme.Surface)
	ui.search.SetTextStyle(tcell.StyleDefault.Background(ui.theme.Surface).Foreground(ui.theme.TextPrimary))
	ui.results.SetSelectedStyle(tcell.StyleDefault.Background(ui.theme.SelectionBg).Foreground(ui.theme.SelectionFg))
	ui.services.SetMainTextColor(ui.theme.TextPrimary)
	ui.services.SetSecondaryTextColor(ui.theme.TextMuted)
	ui.services.SetSelectedTextColor(ui.theme.SelectionFg)
	ui.services.SetSelectedBackgroundColor(ui.theme.SelectionBg)

	ui.appTitle.SetBackgroundColor(ui.theme.Surface)
	ui.appTitle.SetText(fmt.Sprintf(" [%s]IOC Console[-] [%s]%s[-]", ui.theme.TagAccent, ui.theme.TagMuted, tview.Escape(ui.session.APIURL())))
	ui.statusBar.SetBackgroundColor(ui.theme.Surface)
	ui.statusBar.SetTextColor(ui.theme.TextPrimary)

	ui.mu.Lock()
	rows := ui.rows
	catalog := ui.catalog
	ui.mu.Unlock()
	ui.renderTable(rows)
	ui.renderServices(catalog)
	ui.renderStatus()
	ui.highlightFocus(ui.app.GetFocus())
}
