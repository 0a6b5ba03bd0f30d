package uiadapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/flokiorg/depinterm/events"
)

func init() {
	tview.Styles = tview.Theme{
		PrimitiveBackgroundColor:    tcell.ColorBlack,
		ContrastBackgroundColor:     tcell.ColorGray,
		MoreContrastBackgroundColor: tcell.ColorOrange,
		BorderColor:                 tcell.ColorWhite,
		TitleColor:                  tcell.ColorWhite,
		GraphicsColor:               tcell.ColorWhite,
		PrimaryTextColor:            tcell.ColorWhite,
		SecondaryTextColor:          tcell.ColorWhite,
		TertiaryTextColor:           tcell.ColorGreen,
		InverseTextColor:            tcell.ColorBlue,
		ContrastSecondaryTextColor:  tcell.ColorNavy,
	}
}

// SendFunc adapts a *sender.Sender (or any compatible send pipeline) to
// the single function the composer calls on Enter.
type SendFunc func(rawInput string) error

// TUI is the default uiadapter.Sink: a scrolling message log, a one-line
// status bar, and an @address-aware composer, built the way the teacher's
// wallet page wires a tview log view and input capture.
type TUI struct {
	app       *tview.Application
	logView   *tview.TextView
	statusBar *tview.TextView
	input     *tview.InputField

	selfAddress string
	send        SendFunc
}

// NewTUI builds the layout. send is called with the raw composer text on
// Enter; selfAddress labels the status bar and is copyable via Ctrl+Y.
func NewTUI(selfAddress string, send SendFunc) *TUI {
	t := &TUI{
		app:         tview.NewApplication(),
		selfAddress: selfAddress,
		send:        send,
	}

	t.logView = tview.NewTextView()
	t.logView.SetWrap(true).
		SetDynamicColors(true).
		SetScrollable(true).
		SetBorder(true).
		SetTitle(" Messages ").
		SetTitleAlign(tview.AlignLeft)
	t.logView.SetBorderPadding(0, 0, 1, 1)
	t.logView.SetChangedFunc(func() { t.logView.ScrollToEnd() })

	t.statusBar = tview.NewTextView()
	t.statusBar.SetDynamicColors(true).SetTextAlign(tview.AlignLeft)
	t.setStatus(fmt.Sprintf("[yellow]connecting...[-] self=%s", selfAddress))

	t.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldBackgroundColor(tcell.ColorBlack)
	t.input.SetDoneFunc(t.handleInputDone)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.logView, 0, 1, false).
		AddItem(t.statusBar, 1, 0, false).
		AddItem(t.input, 1, 0, true)

	layout.SetInputCapture(t.handleKeys)

	t.app.SetRoot(layout, true).SetFocus(t.input)
	t.app.EnablePaste(true)

	return t
}

// Run blocks until the application stops.
func (t *TUI) Run() error {
	return t.app.Run()
}

// Stop requests the application's event loop to exit.
func (t *TUI) Stop() {
	t.app.Stop()
}

func (t *TUI) handleKeys(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyCtrlY {
		_ = clipboard.WriteAll(t.selfAddress)
		t.setStatus(fmt.Sprintf("[green]copied address to clipboard[-] self=%s", t.selfAddress))
		return nil
	}
	return event
}

func (t *TUI) handleInputDone(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	raw := strings.TrimSpace(t.input.GetText())
	if raw == "" {
		return
	}
	t.input.SetText("")

	if err := t.send(raw); err != nil {
		t.appendLine(fmt.Sprintf("[red]send failed: %s[-]", tview.Escape(err.Error())))
	}
}

func (t *TUI) setStatus(text string) {
	t.queueDraw(func() {
		t.statusBar.SetText(text)
	})
}

func (t *TUI) appendLine(line string) {
	t.queueDraw(func() {
		fmt.Fprintln(t.logView, line)
	})
}

// queueDraw schedules fn on the application's own goroutine so Sink calls
// arriving from the Dispatcher's goroutine never race tview's draw loop.
func (t *TUI) queueDraw(fn func()) {
	t.app.QueueUpdateDraw(fn)
}

// OnMessage implements Sink.
func (t *TUI) OnMessage(p events.MessagePayload) {
	ts := time.Unix(int64(p.Timestamp), 0).Format("15:04:05")
	who := p.Sender
	if who == "" {
		who = "?"
	}
	tag := "group"
	if p.Peer != nil {
		tag = "private:" + *p.Peer
	}
	t.appendLine(fmt.Sprintf("[gray]%s[-] [teal]%s[-] (%s): %s", ts, who, tag, tview.Escape(p.Plaintext)))
}

// OnPollComplete implements Sink.
func (t *TUI) OnPollComplete(p events.PollCompletePayload) {
	t.setStatus(fmt.Sprintf("[green]connected[-] self=%s  new=%d total=%d", t.selfAddress, p.NewCount, p.Total))
}

// OnPollError implements Sink.
func (t *TUI) OnPollError(message string) {
	t.appendLine(fmt.Sprintf("[red]poll error: %s[-]", tview.Escape(message)))
}

// OnReconnected implements Sink.
func (t *TUI) OnReconnected() {
	t.appendLine("[green]reconnected[-]")
}

// OnBlockingErrors implements Sink.
func (t *TUI) OnBlockingErrors(messages []string) {
	t.setStatus(fmt.Sprintf("[red]blocked:[-] %s", tview.Escape(strings.Join(messages, "; "))))
}

// OnBlockingCleared implements Sink.
func (t *TUI) OnBlockingCleared() {
	t.setStatus(fmt.Sprintf("[green]connected[-] self=%s", t.selfAddress))
}
