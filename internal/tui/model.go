// Package tui is the terminal purchase form: an amount field, a live quote,
// and a buy button bound to a sale.Controller.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/sale"
)

type (
	// changedMsg: контроллер изменил состояние
	changedMsg struct{}

	purchaseDoneMsg struct {
		rcpt sale.Receipt
		err  error
	}

	actionDoneMsg struct{ err error }
)

type Model struct {
	ctx     context.Context
	cfg     *config.Config
	ctl     *sale.Controller
	connect sale.Connector

	input    textinput.Model
	quitting bool
}

func New(ctx context.Context, cfg *config.Config, ctl *sale.Controller, connect sale.Connector) Model {
	ti := textinput.New()
	ti.Placeholder = "Amount of " + cfg.Contract.TokenSymbol
	ti.CharLimit = 40
	ti.Width = 30
	ti.Focus()

	return Model{ctx: ctx, cfg: cfg, ctl: ctl, connect: connect, input: ti}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitChanged(), m.refreshPrice(), m.connectWallet())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if m.ctl.Busy() {
				return m, nil
			}
			return m, m.purchase(m.input.Value())
		case "ctrl+r":
			// без кошелька ctrl+r повторяет подключение
			if !m.ctl.State().Connected {
				return m, tea.Batch(m.refreshPrice(), m.connectWallet())
			}
			return m, tea.Batch(m.refreshPrice(), m.refreshRate())
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if m.input.Value() != before {
			m.ctl.Recalculate(m.input.Value())
		}
		return m, cmd

	case changedMsg:
		return m, m.waitChanged()

	case purchaseDoneMsg, actionDoneMsg:
		// итог уже лежит в State контроллера
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	st := m.ctl.State()
	native := m.cfg.Chain.NativeSymbol

	var b strings.Builder
	b.WriteString(titleStyle.Render("Buy " + m.cfg.Contract.TokenSymbol))
	b.WriteString("\n")
	b.WriteString(statusLine("Rate", st.APIStatus))
	b.WriteString(statusLine("Wallet", st.WalletStatus))
	b.WriteString("\n")
	b.WriteString(inputStyle.Render(m.input.View()))
	b.WriteString("\n\n")

	if st.Quote.OK {
		b.WriteString(labelStyle.Render("Cost") + valueStyle.Render(st.Quote.NativeText()+" "+native) + "\n")
		fiat := "$ —"
		if st.Quote.FiatOK {
			fiat = "$" + st.Quote.FiatText()
		}
		b.WriteString(labelStyle.Render("≈ USD") + valueStyle.Render(fiat) + "\n")
	} else {
		b.WriteString(labelStyle.Render("Cost") + mutedStyle.Render("—") + "\n")
	}
	b.WriteString("\n")

	if st.Busy {
		b.WriteString(busyButtonStyle.Render("Processing..."))
	} else {
		b.WriteString(buttonStyle.Render("Buy " + m.cfg.Contract.TokenSymbol))
	}
	b.WriteString("\n\n")

	if st.TxStatus != "" {
		b.WriteString(txStatusStyle(st.TxStatus).Render(st.TxStatus) + "\n")
	}
	if st.TxURL != "" {
		b.WriteString(mutedStyle.Render(st.TxURL) + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render("enter: buy • ctrl+r: refresh / reconnect • esc: quit") + "\n")
	return b.String()
}

func statusLine(label, v string) string {
	if v == "" {
		v = "…"
	}
	return labelStyle.Render(label) + v + "\n"
}

func txStatusStyle(s string) lipgloss.Style {
	switch {
	case strings.HasPrefix(s, "Success"):
		return okStyle
	case strings.HasPrefix(s, "Error"), strings.HasPrefix(s, "Please"), strings.HasPrefix(s, "Too many"):
		return errStyle
	}
	return valueStyle
}

func (m Model) waitChanged() tea.Cmd {
	ch := m.ctl.Changed()
	ctx := m.ctx
	return func() tea.Msg {
		select {
		case <-ch:
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m Model) refreshPrice() tea.Cmd {
	return func() tea.Msg { return actionDoneMsg{err: m.ctl.RefreshPrice(m.ctx)} }
}

func (m Model) refreshRate() tea.Cmd {
	return func() tea.Msg { return actionDoneMsg{err: m.ctl.RefreshRate(m.ctx)} }
}

func (m Model) connectWallet() tea.Cmd {
	if m.connect == nil {
		return nil
	}
	return func() tea.Msg { return actionDoneMsg{err: m.ctl.Connect(m.ctx, m.connect)} }
}

func (m Model) purchase(amount string) tea.Cmd {
	return func() tea.Msg {
		rcpt, err := m.ctl.Purchase(m.ctx, amount)
		return purchaseDoneMsg{rcpt: rcpt, err: err}
	}
}
