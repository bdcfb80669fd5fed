package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/app"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/market"
)

const (
	activityRows = 12
	marketRows   = 8
	opTimeout    = 30 * time.Second
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type tickMsg time.Time

// opDoneMsg 后台操作结束
type opDoneMsg struct {
	what string
	err  error
}

type marketsMsg struct {
	listings []market.Listing
	err      error
}

type quoteMsg struct {
	info domain.TokenAccountInfo
	err  error
}

// model 是界面状态；数据都从 App 读取，界面只保存最近一次操作结果
type model struct {
	app       *app.App
	ctx       context.Context
	quoteMint solana.PublicKey

	busy    string
	lastErr error
	quote   *domain.TokenAccountInfo
	markets []market.Listing
	now     time.Time
}

func newModel(ctx context.Context, a *app.App, quoteMint solana.PublicKey) model {
	return model{app: a, ctx: ctx, quoteMint: quoteMint, now: time.Now()}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) run(what string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, opTimeout)
		defer cancel()
		return opDoneMsg{what: what, err: fn(ctx)}
	}
}

func (m model) loadMarkets() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, opTimeout)
		defer cancel()
		list, err := m.app.Markets.ListMarkets(ctx)
		return marketsMsg{listings: list, err: err}
	}
}

func (m model) loadQuote() tea.Cmd {
	if m.quoteMint.IsZero() {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, opTimeout)
		defer cancel()
		info, err := m.app.Markets.HolderBalance(ctx, m.quoteMint)
		return quoteMsg{info: info, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		if m.busy != "" {
			return m, nil
		}
		switch msg.String() {
		case "c":
			m.busy = "connect"
			return m, m.run("connect", func(ctx context.Context) error {
				_, err := m.app.Session.Connect(ctx)
				return err
			})
		case "d":
			m.busy = "disconnect"
			m.quote = nil
			return m, m.run("disconnect", m.app.Session.Disconnect)
		case "r":
			if !m.app.Session.IsConnected() {
				m.lastErr = domain.ErrNotInitialized
				return m, nil
			}
			m.busy = "refresh"
			return m, m.run("refresh", func(ctx context.Context) error {
				m.app.Session.RefreshBalance(ctx, nil)
				return nil
			})
		case "m":
			m.busy = "markets"
			return m, m.loadMarkets()
		}

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case opDoneMsg:
		m.busy = ""
		m.lastErr = msg.err
		if msg.err == nil && msg.what != "disconnect" {
			return m, m.loadQuote()
		}

	case marketsMsg:
		m.busy = ""
		m.lastErr = msg.err
		if msg.err == nil {
			m.markets = msg.listings
		}

	case quoteMsg:
		if msg.err == nil {
			info := msg.info
			m.quote = &info
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("solbook"))
	b.WriteString(" ")
	b.WriteString(dimStyle.Render(m.app.Config.RPC.Endpoint))
	b.WriteString("\n\n")

	left := borderStyle.Render(m.sessionView())
	right := borderStyle.Render(m.networkView())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right))
	b.WriteString("\n")

	if len(m.markets) > 0 {
		b.WriteString(borderStyle.Render(m.marketsView()))
		b.WriteString("\n")
	}
	b.WriteString(borderStyle.Render(m.activityView()))
	b.WriteString("\n")

	if m.busy != "" {
		b.WriteString(dimStyle.Render(m.busy + "..."))
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString(badStyle.Render("错误: " + m.lastErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("c 连接  d 断开  r 刷新余额  m 市场列表  q 退出"))
	return b.String()
}

func (m model) sessionView() string {
	s := m.app.Session.Snapshot()
	var b strings.Builder
	b.WriteString(titleStyle.Render("钱包"))
	b.WriteString("\n")

	state := badStyle.Render(s.State)
	if s.Connected {
		state = okStyle.Render(s.State)
	}
	fmt.Fprintf(&b, "状态: %s\n", state)
	if s.Provider != "" {
		fmt.Fprintf(&b, "来源: %s\n", s.Provider)
	}
	if s.PublicKey != nil {
		fmt.Fprintf(&b, "地址: %s\n", shortKey(*s.PublicKey))
	}
	if s.SOLBalance != nil {
		fmt.Fprintf(&b, "SOL: %s\n", s.SOLBalance.StringFixed(4))
	}
	if m.quote != nil && s.Connected {
		fmt.Fprintf(&b, "USDC: %s\n", m.quote.Balance.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) networkView() string {
	snap := m.app.Monitor.Snapshot()
	var b strings.Builder
	b.WriteString(titleStyle.Render("网络"))
	b.WriteString("\n")

	if !snap.Polling {
		b.WriteString(dimStyle.Render("连接钱包后开始轮询"))
		return b.String()
	}
	if snap.Network != nil {
		fmt.Fprintf(&b, "slot: %d\n", snap.Network.Slot)
		fmt.Fprintf(&b, "epoch: %d (%d/%d)\n", snap.Network.Epoch, snap.Network.SlotIndex, snap.Network.SlotsInEpoch)
		fmt.Fprintf(&b, "高度: %d\n", snap.Network.BlockHeight)
	} else if snap.NetworkError != "" {
		fmt.Fprintf(&b, "%s\n", badStyle.Render(snap.NetworkError))
	}
	if snap.Health != nil {
		status := badStyle.Render(snap.Health.Status)
		if snap.Health.Healthy {
			status = okStyle.Render(snap.Health.Status)
		}
		fmt.Fprintf(&b, "健康: %s %s\n", status, dimStyle.Render(snap.Health.Latency.Round(time.Millisecond).String()))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) marketsView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("市场 (%d)", len(m.markets))))
	for i, l := range m.markets {
		if i >= marketRows {
			fmt.Fprintf(&b, "\n%s", dimStyle.Render(fmt.Sprintf("... 还有 %d 个", len(m.markets)-marketRows)))
			break
		}
		name := "-"
		if l.Header != nil {
			name = l.Header.Name
		}
		fmt.Fprintf(&b, "\n%s  %-16s %d bytes", shortKey(l.Address), name, l.DataSize)
	}
	return b.String()
}

func (m model) activityView() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("活动"))
	entries := m.app.Activity.Entries()
	if len(entries) == 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("暂无"))
		return b.String()
	}
	for i, e := range entries {
		if i >= activityRows {
			break
		}
		fmt.Fprintf(&b, "\n%s %s", dimStyle.Render(e.Timestamp.Format("15:04:05")), e.Message)
	}
	return b.String()
}

func shortKey(pk solana.PublicKey) string {
	s := pk.String()
	if len(s) <= 12 {
		return s
	}
	return s[:6] + ".." + s[len(s)-4:]
}
