package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/botdash/internal/botapi"
	"github.com/betbot/botdash/internal/botsync"
	"github.com/betbot/botdash/internal/probe"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("238"))

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// dashboard TUI 用到的同步器能力
type dashboard interface {
	Snapshot() botsync.Snapshot
	Refresh(ctx context.Context) error
	DeleteBot(ctx context.Context, name, code string) error
}

type prober interface {
	Test(ctx context.Context) probe.Result
	Invalidate()
}

// snapshotMsg 同步器状态变化
type snapshotMsg botsync.Snapshot

// noticeMsg 同步器通知
type noticeMsg botsync.Notice

// opDoneMsg 后台操作完成
type opDoneMsg struct {
	what string
	err  error
}

type probeMsg probe.Result

// model 是应用程序的状态
type model struct {
	ctx     context.Context
	sync    dashboard
	prober  prober
	backend func() string

	snap    botsync.Snapshot
	cursor  int
	confirm bool // 删除确认中
	busy    string
	status  string
	notice  *botsync.Notice
	probe   *probe.Result
	width   int
}

func newModel(ctx context.Context, d dashboard, p prober, backend func() string) model {
	if backend == nil {
		backend = func() string { return "" }
	}
	return model{ctx: ctx, sync: d, prober: p, backend: backend, snap: d.Snapshot()}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.probeCmd(false))
}

func (m model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{what: "refresh", err: m.sync.Refresh(m.ctx)}
	}
}

func (m model) deleteCmd(b botsync.Bot) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{what: "delete " + b.Name, err: m.sync.DeleteBot(m.ctx, b.Name, b.Code)}
	}
}

func (m model) probeCmd(retry bool) tea.Cmd {
	if m.prober == nil {
		return nil
	}
	return func() tea.Msg {
		if retry {
			m.prober.Invalidate()
		}
		return probeMsg(m.prober.Test(m.ctx))
	}
}

func (m model) selected() (botsync.Bot, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Bots) {
		return botsync.Bot{}, false
	}
	return m.snap.Bots[m.cursor], true
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.confirm {
			m.confirm = false
			if msg.String() == "y" {
				if b, ok := m.selected(); ok {
					m.busy = "删除中..."
					return m, m.deleteCmd(b)
				}
			}
			m.status = "已取消"
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.snap.Bots)-1 {
				m.cursor++
			}
		case "r":
			m.busy = "刷新中..."
			return m, m.refreshCmd()
		case "d":
			if b, ok := m.selected(); ok {
				m.confirm = true
				m.status = fmt.Sprintf("删除 %s (%s)? y/N", b.Name, b.Code)
			}
		case "p":
			m.busy = "探测中..."
			return m, m.probeCmd(true)
		}
		return m, nil

	case snapshotMsg:
		m.snap = botsync.Snapshot(msg)
		if m.cursor >= len(m.snap.Bots) {
			m.cursor = max(0, len(m.snap.Bots)-1)
		}
		return m, nil

	case noticeMsg:
		n := botsync.Notice(msg)
		m.notice = &n
		return m, nil

	case opDoneMsg:
		m.busy = ""
		m.snap = m.sync.Snapshot()
		if m.cursor >= len(m.snap.Bots) {
			m.cursor = max(0, len(m.snap.Bots)-1)
		}
		if msg.err != nil {
			m.status = errStyle.Render(fmt.Sprintf("%s 失败: %v", msg.what, msg.err))
		} else {
			m.status = okStyle.Render(msg.what + " 完成")
		}
		return m, nil

	case probeMsg:
		m.busy = ""
		r := probe.Result(msg)
		m.probe = &r
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("botdash"))
	b.WriteString(" ")
	b.WriteString(mutedStyle.Render(m.backend()))
	if m.probe != nil {
		if m.probe.Success {
			b.WriteString(" " + okStyle.Render("● 在线"))
		} else {
			b.WriteString(" " + errStyle.Render("● 无法连接后端 (p 重试)"))
		}
	}
	b.WriteString("\n\n")

	switch {
	case m.snap.Loading:
		b.WriteString("加载中...\n")
	case len(m.snap.Bots) == 0:
		b.WriteString(mutedStyle.Render("还没有 bot") + "\n")
	default:
		for i, bot := range m.snap.Bots {
			line := fmt.Sprintf("%-24s %-12s %s", bot.Name, bot.Code, bot.URL)
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("> "+line) + "\n")
			} else {
				b.WriteString("  " + line + "\n")
			}
		}
	}

	if bot, ok := m.selected(); ok {
		b.WriteString("\n")
		b.WriteString(borderStyle.Render(detail(bot)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.snap.Refreshing || m.busy != "" {
		b.WriteString(warnStyle.Render(firstNonEmpty(m.busy, "刷新中...")) + "  ")
	}
	if !m.snap.LastRefresh.IsZero() {
		b.WriteString(mutedStyle.Render("上次刷新 " + m.snap.LastRefresh.Format(time.TimeOnly)))
	}
	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	if m.notice != nil {
		style := mutedStyle
		switch m.notice.Level {
		case botsync.LevelError:
			style = errStyle
		case botsync.LevelWarn:
			style = warnStyle
		}
		b.WriteString(style.Render(m.notice.Message) + "\n")
	}
	b.WriteString(mutedStyle.Render("↑/↓ 选择  r 刷新  d 删除  p 探测  q 退出"))
	return b.String()
}

func detail(bot botsync.Bot) string {
	rows := []string{
		"名称: " + bot.Name,
		"聊天: " + bot.URL,
		"欢迎语: " + bot.TextOr(botapi.TextChatbox),
		"渐变: " + bot.TextOr(botapi.TextGradient),
	}
	for _, k := range []botapi.ImageKind{botapi.ImageChatIcon, botapi.ImageBotIcon, botapi.ImageBackground, botapi.ImageHeader} {
		v := bot.ImageOr(k)
		if v != botsync.PlaceholderImage {
			v = fmt.Sprintf("已设置 (%d bytes)", len(v))
		} else {
			v = mutedStyle.Render("默认")
		}
		rows = append(rows, fmt.Sprintf("%s: %s", k, v))
	}
	return strings.Join(rows, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
