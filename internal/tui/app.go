// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package tui is the interactive terminal front end: a SQL editor above a
// result grid, with a status line and a command line below. All engine
// state is touched from the tview event loop; long operations run on
// their own goroutines and report back through QueueUpdateDraw.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"pkt.systems/pslog"

	rderrors "rowdeck/cli/internal/errors"
	"rowdeck/cli/internal/export"
	"rowdeck/cli/internal/grid"
	"rowdeck/cli/internal/history"
	"rowdeck/cli/internal/logging"
	"rowdeck/cli/internal/query"
	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/status"
	"rowdeck/cli/internal/workspace"
	"rowdeck/cli/internal/writeback"
)

const (
	refreshInterval = 80 * time.Millisecond
	writeTimeout    = 30 * time.Second
	widthStep       = 2

	pageMain    = "main"
	pageModal   = "modal"
	promptCmd   = ":"
	promptFind  = "/"
	editorLines = 8

	sessionHistory = 200
)

// App is the interactive session.
type App struct {
	ws       *workspace.Workspace
	log      pslog.Logger
	model    *grid.Model
	renderer *status.Renderer

	app       *tview.Application
	pages     *tview.Pages
	editor    *tview.TextArea
	view      *gridView
	statusBar *tview.TextView
	message   *tview.TextView
	cmdline   *tview.InputField
	bottom    *tview.Pages

	// screen is captured on the first draw; nil until then.
	screen  tcell.Screen
	hist    *history.History
	target  string
	prompt  string
	writing atomic.Bool
}

// Options carries the collaborators of the interactive session.
type Options struct {
	// History records statements run from the editor. Nil keeps an
	// in-memory history for this session only.
	History *history.History
	// Target names the connection in history entries, without credentials.
	Target string
}

// New builds the UI over ws.
func New(ws *workspace.Workspace, log pslog.Logger, opts Options) *App {
	if log == nil {
		log = logging.Discard()
	}
	if opts.History == nil {
		opts.History = history.Memory(sessionHistory)
	}
	a := &App{
		ws:       ws,
		hist:     opts.History,
		target:   opts.Target,
		log:      log.With("component", "tui"),
		model:    grid.New(ws.Buffer, ws.GridOptions()),
		renderer: status.NewRenderer(),
		app:      tview.NewApplication(),
		pages:    tview.NewPages(),
	}
	a.layout()
	a.bindKeys()
	return a
}

func (a *App) layout() {
	a.editor = tview.NewTextArea().SetPlaceholder("SELECT ... then Ctrl-R to run, F1 for help")
	a.editor.SetBorder(true).SetTitle(" sql ").SetTitleAlign(tview.AlignLeft)

	a.view = newGridView(a.model)

	a.statusBar = tview.NewTextView().SetDynamicColors(false)
	a.message = tview.NewTextView().SetDynamicColors(true)

	a.cmdline = tview.NewInputField().SetFieldBackgroundColor(tcell.ColorDefault)
	a.cmdline.SetDoneFunc(a.promptDone)

	a.bottom = tview.NewPages().
		AddPage("message", a.message, true, true).
		AddPage("prompt", a.cmdline, true, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.editor, editorLines, 0, true).
		AddItem(a.view, 0, 1, false).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.bottom, 1, 0, false)
	a.pages.AddPage(pageMain, root, true, true)
}

// Run blocks until the user quits or ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.poll(ctx)
	go func() {
		<-ctx.Done()
		a.app.Stop()
	}()
	a.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		a.screen = screen
		return false
	})
	a.info("connected. Ctrl-R runs the editor, Tab switches to the grid, F1 shows keys")
	err := a.app.SetRoot(a.pages, true).SetFocus(a.editor).Run()
	a.saveHistory()
	return err
}

func (a *App) poll(ctx context.Context) {
	t := time.NewTicker(refreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.app.QueueUpdateDraw(a.refresh)
		}
	}
}

// refresh drains controller events and redraws the status line. Runs on
// the event loop.
func (a *App) refresh() {
	for ev := range a.ws.Controller.PollEvents() {
		a.onEvent(ev)
	}
	a.model.Sync()
	st := a.ws.Controller.State()
	line, _ := a.renderer.Render(st, a.model.View(), time.Now())
	a.statusBar.SetTextColor(stateColor(st.State))
	a.statusBar.SetText(line)
}

func (a *App) onEvent(ev query.Event) {
	switch ev.Kind {
	case query.EventStarted:
		a.renderer.Reset()
	case query.EventIdentityResolved:
		a.model.Sync()
		a.info(identityNote(a.model.View()))
	case query.EventFailed:
		a.fail(ev.Err)
	case query.EventCancelled:
		if a.ws.Controller.Suspect() {
			a.warn("cancel was not acknowledged; the session may be unusable. Run :reconnect")
			return
		}
		a.info("query cancelled")
	}
}

func stateColor(s query.State) tcell.Color {
	switch s {
	case query.Completed:
		return tcell.ColorGreen
	case query.Cancelled:
		return tcell.ColorYellow
	case query.Failed:
		return tcell.ColorRed
	case query.Running, query.Cancelling:
		return tcell.ColorAqua
	}
	return tcell.ColorDefault
}

// identityNote describes whether the current result can be edited.
func identityNote(v result.View) string {
	id := v.Identity
	if !id.Editable() {
		reason := id.Reason
		if reason == "" {
			reason = id.State.String()
		}
		return "read-only: " + reason
	}
	names := make([]string, 0, len(id.Key))
	for _, k := range id.Key {
		if k >= 0 && k < len(v.Columns) {
			names = append(names, v.Columns[k].Name)
		}
	}
	return fmt.Sprintf("editable: %s keyed by (%s) from %s", id.Relation, strings.Join(names, ", "), id.Source)
}

func (a *App) bindKeys() {
	a.app.SetInputCapture(a.globalKey)
	a.view.SetInputCapture(a.gridKey)
	a.editor.SetInputCapture(a.editorKey)
}

// editorKey recalls earlier statements into the editor.
func (a *App) editorKey(ev *tcell.EventKey) *tcell.EventKey {
	var (
		stmt string
		ok   bool
	)
	switch ev.Key() {
	case tcell.KeyCtrlP:
		stmt, ok = a.hist.Prev()
		if !ok {
			a.info("no older statements")
			return nil
		}
	case tcell.KeyCtrlN:
		if stmt, ok = a.hist.Next(); !ok {
			return nil
		}
	default:
		return ev
	}
	a.editor.SetText(stmt, true)
	return nil
}

// globalKey handles keys that work regardless of focus, except while a
// modal or the command line is up.
func (a *App) globalKey(ev *tcell.EventKey) *tcell.EventKey {
	if name, _ := a.pages.GetFrontPage(); name == pageModal || a.prompt != "" {
		return ev
	}
	switch {
	case ev.Key() == tcell.KeyCtrlR, ev.Key() == tcell.KeyF5:
		a.runEditor()
		return nil
	case ev.Key() == tcell.KeyCtrlC:
		if a.ws.Controller.State().State.Busy() {
			a.ws.Controller.CancelActive()
			a.info("cancelling...")
			return nil
		}
		a.app.Stop()
		return nil
	case ev.Key() == tcell.KeyCtrlQ:
		a.app.Stop()
		return nil
	case ev.Key() == tcell.KeyTab:
		if a.app.GetFocus() == a.view {
			a.app.SetFocus(a.editor)
		} else {
			a.app.SetFocus(a.view)
		}
		return nil
	case ev.Key() == tcell.KeyF1:
		a.showHelp()
		return nil
	}
	return ev
}

func (a *App) gridKey(ev *tcell.EventKey) *tcell.EventKey {
	shift := ev.Modifiers()&tcell.ModShift != 0
	var err error
	switch ev.Key() {
	case tcell.KeyUp:
		err = a.move(-1, 0, shift)
	case tcell.KeyDown:
		err = a.move(1, 0, shift)
	case tcell.KeyLeft:
		err = a.move(0, -1, shift)
	case tcell.KeyRight:
		err = a.move(0, 1, shift)
	case tcell.KeyPgDn:
		err = a.model.Page(1)
	case tcell.KeyPgUp:
		err = a.model.Page(-1)
	case tcell.KeyHome:
		a.model.SetCursor(grid.Position{Row: 0, Col: a.model.Cursor().Col})
	case tcell.KeyEnd:
		a.model.SetCursor(grid.Position{Row: a.model.View().Len() - 1, Col: a.model.Cursor().Col})
	case tcell.KeyEnter:
		a.beginEdit()
	case tcell.KeyDelete:
		a.confirmDelete()
	case tcell.KeyEscape:
		a.model.ClearSelection()
	case tcell.KeyCtrlA:
		a.model.SelectAll()
	case tcell.KeyRune:
		err = a.gridRune(ev.Rune())
	default:
		return ev
	}
	if err != nil {
		a.fail(err)
	}
	return nil
}

func (a *App) gridRune(r rune) error {
	cur := a.model.Cursor()
	switch r {
	case 'k':
		return a.move(-1, 0, false)
	case 'j':
		return a.move(1, 0, false)
	case 'h':
		return a.move(0, -1, false)
	case 'l':
		return a.move(0, 1, false)
	case 'g':
		a.model.SetCursor(grid.Position{Row: 0, Col: cur.Col})
	case 'G':
		a.model.SetCursor(grid.Position{Row: a.model.View().Len() - 1, Col: cur.Col})
	case 'v':
		a.model.Select(grid.SelectCell, cur, cur)
	case 'V':
		a.model.Select(grid.SelectRow, cur, cur)
	case ' ':
		a.model.ToggleRow(cur.Row)
	case 'e':
		a.beginEdit()
	case 'x':
		a.confirmDelete()
	case 'u':
		a.generate(genUpdate)
	case 'i':
		a.generate(genInsert)
	case 'y':
		a.yank()
	case '+':
		a.model.AdjustColumnWidth(cur.Col, widthStep)
	case '-':
		a.model.AdjustColumnWidth(cur.Col, -widthStep)
	case '=':
		a.model.ResetColumnWidth(cur.Col)
	case 'n':
		a.jump(a.model.FindNext())
	case 'N':
		a.jump(a.model.FindPrev())
	case '/':
		a.openPrompt(promptFind)
	case ':':
		a.openPrompt(promptCmd)
	}
	return nil
}

// move steps the cursor, extending a range selection when shift is held.
func (a *App) move(dRows, dCols int, extend bool) error {
	if !extend {
		return a.model.MoveCursor(dRows, dCols)
	}
	cur := a.model.Cursor()
	target := grid.Position{Row: cur.Row + dRows, Col: cur.Col + dCols}
	err := a.model.MoveCursor(dRows, dCols)
	a.model.ExtendTo(target)
	return err
}

func (a *App) jump(p grid.Position, ok bool) {
	if !ok {
		a.info("no matches")
		return
	}
	a.model.SetCursor(p)
}

func (a *App) runEditor() {
	stmt := strings.TrimSpace(a.editor.GetText())
	if stmt == "" {
		a.info("nothing to run")
		return
	}
	if a.ws.Controller.Suspect() {
		a.warn("session may be unusable after a failed cancel; run :reconnect first")
	}
	if _, err := a.ws.Controller.Submit(stmt); err != nil {
		a.fail(err)
		return
	}
	a.hist.Push(stmt, a.target)
	a.saveHistory()
	a.info("running...")
	a.app.SetFocus(a.view)
}

// beginEdit opens the cell editor for the cursor cell.
func (a *App) beginEdit() {
	v := a.model.View()
	cur := a.model.Cursor()
	if cur.Row < 0 || cur.Row >= v.Len() || cur.Col < 0 || cur.Col >= len(v.Columns) {
		return
	}
	if !v.Identity.Editable() {
		a.warn(identityNote(v))
		return
	}
	col := v.Columns[cur.Col]
	cell := v.Rows[cur.Row].Cells[cur.Col]
	text := ""
	if !cell.IsNull() {
		text = cell.String()
	}
	null := cell.IsNull()

	form := tview.NewForm()
	form.AddInputField("value", text, 0, nil, func(s string) { text = s }).
		AddCheckbox("NULL", null, func(b bool) { null = b }).
		AddButton("Save", func() {
			a.closeModal()
			a.submitEdit(cur, col, writeback.Proposal{Text: text, Null: null})
		}).
		AddButton("Cancel", a.closeModal)
	form.SetCancelFunc(a.closeModal)
	form.SetBorder(true).SetTitle(fmt.Sprintf(" %s (%s) ", col.Name, col.Type)).SetTitleAlign(tview.AlignLeft)
	a.showModal(form, 60, 9)
}

func (a *App) submitEdit(cur grid.Position, col result.Column, p writeback.Proposal) {
	if p.Null && !col.Nullable && !p.ConfirmNull {
		a.confirm(fmt.Sprintf("Column %q is NOT NULL. Write NULL anyway?", col.Name), "Write NULL", func() {
			p.ConfirmNull = true
			a.submitEdit(cur, col, p)
		})
		return
	}
	in, err := a.ws.Engine.BeginEdit(cur.Row, cur.Col, p)
	if err != nil {
		a.fail(err)
		return
	}
	a.write("update", func(ctx context.Context) (string, error) {
		if _, err := a.ws.Engine.Commit(ctx, in); err != nil {
			return "", err
		}
		return fmt.Sprintf("updated %s.%s", in.Relation, col.Name), nil
	})
}

func (a *App) confirmDelete() {
	v := a.model.View()
	if !v.Identity.Editable() {
		a.warn(identityNote(v))
		return
	}
	rows := a.model.TargetRows()
	if len(rows) == 0 {
		return
	}
	msg := fmt.Sprintf("Delete %d row(s) from %s?", len(rows), v.Identity.Relation)
	a.confirm(msg, "Delete", func() {
		a.write("delete", func(ctx context.Context) (string, error) {
			n, err := a.ws.Engine.DeleteRows(ctx, rows)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("deleted %d row(s)", n), nil
		})
		a.model.ClearSelection()
	})
}

// write runs fn off the event loop. Only one write-back runs at a time; the
// controller additionally keeps queries out while it holds the session.
func (a *App) write(op string, fn func(ctx context.Context) (string, error)) {
	if !a.writing.CompareAndSwap(false, true) {
		a.warn("a write is already in progress")
		return
	}
	a.info(op + "...")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		msg, err := fn(ctx)
		cancel()
		a.writing.Store(false)
		a.app.QueueUpdateDraw(func() {
			a.model.Sync()
			if err != nil {
				a.log.Warn("write-back failed", "op", op, "err", err)
				a.fail(err)
				return
			}
			a.info(msg)
		})
	}()
}

func (a *App) generate(kind string) {
	rows := a.model.TargetRows()
	var (
		sql string
		err error
	)
	switch kind {
	case genUpdate:
		sql, err = a.ws.Engine.GenerateUpdate(rows)
	case genDelete:
		sql, err = a.ws.Engine.GenerateDelete(rows)
	case genInsert:
		sql, err = a.ws.Engine.CopyAsInsert(rows)
	}
	if err != nil {
		a.fail(err)
		return
	}
	a.editor.SetText(sql, true)
	note := fmt.Sprintf("generated %s for %d row(s) into the editor", strings.ToUpper(kind), len(rows))
	if copyText(a.screen, sql) {
		note += " and the clipboard"
	}
	a.info(note)
}

// yank copies the selected cells as tab-separated text to the clipboard,
// or into the editor before the screen is up.
func (a *App) yank() {
	text := a.model.SelectedText()
	if text == "" {
		return
	}
	ok := copyText(a.screen, text)
	if !ok {
		a.editor.SetText(text, true)
	}
	a.info(copiedNote(text, ok))
}

func (a *App) saveHistory() {
	if err := a.hist.Save(); err != nil {
		a.log.Warn("history save failed", "err", err)
	}
}

// showHistory lists matching statements, newest first; choosing one loads
// it into the editor.
func (a *App) showHistory(pattern string) {
	matches := a.hist.Search(pattern)
	if len(matches) == 0 {
		a.info("no statements in history match")
		return
	}
	list := tview.NewList().ShowSecondaryText(true)
	for _, m := range matches {
		q := m.Entry.Query
		sub := m.Entry.Timestamp.Local().Format(time.DateTime)
		if m.Entry.Connection != "" {
			sub += "  " + m.Entry.Connection
		}
		list.AddItem(tview.Escape(firstLine(q)), tview.Escape(sub), 0, func() {
			a.closeModal()
			a.editor.SetText(q, true)
			a.hist.Reset()
			a.app.SetFocus(a.editor)
		})
	}
	list.SetDoneFunc(a.closeModal)
	list.SetBorder(true).SetTitle(fmt.Sprintf(" history (%d) ", len(matches))).SetTitleAlign(tview.AlignLeft)
	a.showModal(list, 90, 20)
}

func firstLine(s string) string {
	line, _, cut := strings.Cut(strings.TrimSpace(s), "\n")
	if cut {
		line += " ..."
	}
	return line
}

func (a *App) openPrompt(p string) {
	a.prompt = p
	a.cmdline.SetLabel(p).SetText("")
	a.bottom.SwitchToPage("prompt")
	a.app.SetFocus(a.cmdline)
}

func (a *App) closePrompt() {
	a.prompt = ""
	a.bottom.SwitchToPage("message")
	a.app.SetFocus(a.view)
}

func (a *App) promptDone(key tcell.Key) {
	p, text := a.prompt, a.cmdline.GetText()
	a.closePrompt()
	if key != tcell.KeyEnter || strings.TrimSpace(text) == "" {
		return
	}
	if p == promptFind {
		a.search(text)
		return
	}
	cmd, err := parseCommand(text)
	if err != nil {
		a.fail(err)
		return
	}
	a.execute(cmd)
}

func (a *App) search(pattern string) {
	res := a.model.Search(pattern)
	note := fmt.Sprintf("%d match(es) for %q", res.Count, pattern)
	if res.Partial {
		note += " in buffered rows; more rows are on the server"
	}
	a.info(note)
	if res.Count > 0 {
		a.jump(a.model.FindNext())
	}
}

func (a *App) execute(cmd command) {
	cur := a.model.Cursor()
	switch cmd.kind {
	case cmdGenerate:
		a.generate(cmd.gen)
	case cmdExport:
		n, err := export.WriteFile(cmd.path, a.model.View(), export.Options{Format: cmd.format, NullText: a.ws.Config().Grid.NullText})
		if err != nil {
			a.fail(err)
			return
		}
		a.info(fmt.Sprintf("wrote %d row(s) to %s", n, cmd.path))
	case cmdSearch:
		a.search(cmd.pattern)
	case cmdWidth:
		a.model.SetColumnWidth(cur.Col, cmd.n)
	case cmdRefit:
		a.model.Refit()
	case cmdFetch:
		n := cmd.n
		if n == 0 {
			n = a.ws.Config().Grid.FetchBatch
		}
		if err := a.ws.Buffer.FetchMore(n); err != nil {
			a.fail(err)
		}
	case cmdCancel:
		a.ws.Controller.CancelActive()
	case cmdReconnect:
		a.reconnect()
	case cmdHistory:
		a.showHistory(cmd.pattern)
	case cmdHelp:
		a.showHelp()
	case cmdQuit:
		a.app.Stop()
	}
}

func (a *App) reconnect() {
	a.info("reconnecting...")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := a.ws.Reconnect(ctx)
		cancel()
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.fail(err)
				return
			}
			a.info("reconnected")
		})
	}()
}

func (a *App) confirm(text, action string, yes func()) {
	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{action, "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			a.closeModal()
			if label == action {
				yes()
			}
		})
	a.pages.AddPage(pageModal, modal, true, true)
	a.app.SetFocus(modal)
}

// showModal centres p over the main page.
func (a *App) showModal(p tview.Primitive, width, height int) {
	centred := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
	a.pages.AddPage(pageModal, centred, true, true)
	a.app.SetFocus(p)
}

func (a *App) closeModal() {
	a.pages.RemovePage(pageModal)
	a.app.SetFocus(a.view)
}

const helpText = `Ctrl-R / F5   run the editor
Ctrl-C        cancel the running query (quit when idle)
Tab           switch between editor and grid
arrows hjkl   move; shift+arrows extend a range
PgUp PgDn g G page, first row, last row
v V space     select cell, row, toggle row; Ctrl-A all; Esc clear
Enter e       edit cell      x Del  delete rows
u i y         UPDATE / INSERT into the editor, copy selection
Ctrl-P Ctrl-N older / newer statement in the editor
+ - =         widen, narrow, reset column
/ n N         search, next, previous
:gen update|delete|insert   :export [fmt] <path>   :width <n>
:history [text]   :refit :fetch [n] :cancel :reconnect :quit`

func (a *App) showHelp() {
	text := tview.NewTextView().SetText(helpText)
	text.SetBorder(true).SetTitle(" keys ")
	text.SetDoneFunc(func(tcell.Key) { a.closeModal() })
	a.showModal(text, 72, 19)
}

func (a *App) info(msg string) {
	a.message.SetTextColor(tcell.ColorDefault)
	a.message.SetText(tview.Escape(msg))
}

func (a *App) warn(msg string) {
	a.message.SetTextColor(tcell.ColorYellow)
	a.message.SetText(tview.Escape(msg))
}

// fail shows err on the message line with a hint where one is known.
func (a *App) fail(err error) {
	if err == nil {
		return
	}
	msg := logging.Mask(err.Error())
	if rderrors.Is(err, rderrors.ConnectionError) {
		msg += " (run :reconnect)"
	} else if hint := logging.Hint(err); hint != "" {
		msg += " (" + hint + ")"
	}
	a.message.SetTextColor(tcell.ColorRed)
	a.message.SetText(tview.Escape(msg))
}
