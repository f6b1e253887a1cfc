package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/Ashfaaq98/ioc-console/internal/export"
)

// center wraps p in a flex that keeps it width x height in the middle.
func center(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

// openModal shows p above the main page and gives it focus.
func (ui *UI) openModal(p tview.Primitive) {
	ui.lastFocus = ui.app.GetFocus()
	ui.pages.AddPage(pageModal, p, true, true)
	ui.app.SetFocus(p)
}

// closeModal restores the main page and the focus it had.
func (ui *UI) closeModal() {
	if ui.onModalClose != nil {
		ui.onModalClose()
		ui.onModalClose = nil
	}
	ui.pages.RemovePage(pageModal)
	target := ui.lastFocus
	if target == nil {
		target = ui.search
	}
	ui.app.SetFocus(target)
	ui.highlightFocus(target)
}

// showText displays a scrollable read-only text. Esc closes it.
func (ui *UI) showText(title, text string) {
	view := tview.NewTextView()
	view.SetText(text)
	view.SetScrollable(true)
	view.SetWordWrap(true)
	view.SetTitle(fmt.Sprintf(" %s (Esc to close) ", title))
	view.SetBorder(true)
	view.SetBackgroundColor(ui.theme.Surface)
	view.SetTextColor(ui.theme.TextPrimary)
	view.SetBorderColor(ui.theme.FocusBorder)
	ui.openModal(center(view, 100, 30))
}

func (ui *UI) showHelp() {
	help := strings.Join([]string{
		"Ctrl-S / F5   search the text box",
		"Tab           move focus",
		"Enter         result: details and past searchers; service: toggle",
		"h             toggle history view",
		"e / E         export results / results and history to CSV",
		"x / X         clear results / clear history",
		"s             reload service catalog",
		"R             rectify services",
		"u             upload a file",
		"p             edit profile",
		"t             cycle theme",
		"q             quit",
	}, "\n")
	ui.showText("Help", help)
}

// confirm asks a yes/no question and calls onYes when confirmed.
func (ui *UI) confirm(question string, onYes func()) {
	modal := tview.NewModal()
	modal.SetText(question)
	modal.AddButtons([]string{"Yes", "No"})
	modal.SetBackgroundColor(ui.theme.Surface)
	modal.SetTextColor(ui.theme.TextPrimary)
	modal.SetDoneFunc(func(_ int, label string) {
		ui.closeModal()
		if label == "Yes" {
			onYes()
		}
	})
	ui.openModal(modal)
}

func (ui *UI) styleForm(form *tview.Form, title string) {
	form.SetBorder(true)
	form.SetTitle(fmt.Sprintf(" %s ", title))
	form.SetTitleAlign(tview.AlignLeft)
	form.SetBackgroundColor(ui.theme.Surface)
	form.SetBorderColor(ui.theme.FocusBorder)
	form.SetFieldBackgroundColor(ui.theme.SelectionBg)
	form.SetFieldTextColor(ui.theme.SelectionFg)
	form.SetButtonBackgroundColor(ui.theme.SelectionBg)
	form.SetButtonTextColor(ui.theme.SelectionFg)
	form.SetLabelColor(ui.theme.TextPrimary)
	form.SetCancelFunc(ui.closeModal)
}

func (ui *UI) showProfileForm() {
	u := ui.session.User()
	form := tview.NewForm()
	form.AddInputField("Email", u.Email, 40, nil, nil)
	form.AddPasswordField("Key", u.Key, 40, '*', nil)
	form.AddInputField("API URL", ui.session.APIURL(), 40, nil, nil)
	form.AddButton("Save", func() {
		email := form.GetFormItemByLabel("Email").(*tview.InputField).GetText()
		key := form.GetFormItemByLabel("Key").(*tview.InputField).GetText()
		url := form.GetFormItemByLabel("API URL").(*tview.InputField).GetText()
		ui.closeModal()
		go ui.saveProfile(email, key, url)
	})
	form.AddButton("Cancel", ui.closeModal)
	ui.styleForm(form, "Profile")
	ui.openModal(center(form, 60, 11))
}

func (ui *UI) saveProfile(email, key, url string) {
	if err := ui.session.SetUserData(ui.ctx, email, key, url); err != nil {
		ui.session.Aggregator().AddError(err)
		return
	}
	if err := ui.session.Init(ui.ctx); err != nil {
		ui.logger.Debug("re-init interrupted", zap.Error(err))
		return
	}
	ui.update(ui.applyTheme)
	ui.reloadServices(false)
}

func (ui *UI) showUploadForm() {
	form := tview.NewForm()
	form.AddInputField("File", "", 50, nil, nil)
	form.AddButton("Upload", func() {
		path := strings.TrimSpace(form.GetFormItemByLabel("File").(*tview.InputField).GetText())
		ui.closeModal()
		if path == "" {
			return
		}
		go func() {
			if _, err := ui.session.Upload(ui.ctx, path); err != nil {
				ui.logger.Warn("upload failed", zap.String("path", path), zap.Error(err))
			}
		}()
	})
	form.AddButton("Cancel", ui.closeModal)
	ui.styleForm(form, "Upload")
	ui.openModal(center(form, 70, 7))
}

// dialogSaver asks for a target directory before writing an export. Leaving
// the directory empty or cancelling the dialog cancels the save.
type dialogSaver struct {
	ui *UI
}

func (d dialogSaver) Save(ctx context.Context, filename string, content []byte) (string, bool, error) {
	choice := make(chan string, 1)
	d.ui.update(func() { d.ui.showSaveDialog(filename, choice) })
	select {
	case dir := <-choice:
		return export.FileSaver{Dir: dir}.Save(ctx, filename, content)
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (ui *UI) showSaveDialog(filename string, choice chan<- string) {
	dir := ui.opts.ExportDir
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}
	send := func(target string) {
		select {
		case choice <- target:
		default:
		}
	}
	form := tview.NewForm()
	form.AddInputField("Directory", dir, 50, nil, nil)
	form.AddButton("Save", func() {
		send(strings.TrimSpace(form.GetFormItemByLabel("Directory").(*tview.InputField).GetText()))
		ui.closeModal()
	})
	form.AddButton("Cancel", ui.closeModal)
	ui.styleForm(form, "Save "+filename)
	ui.openModal(center(form, 70, 7))
	// any other way out of the dialog cancels the save
	ui.onModalClose = func() { send("") }
}

func prettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
