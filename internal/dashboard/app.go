package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abcfe/abcfe-wallet/internal/dashboard/api"
	"github.com/abcfe/abcfe-wallet/internal/dashboard/components"
	"github.com/abcfe/abcfe-wallet/internal/dashboard/styles"
	"github.com/abcfe/abcfe-wallet/message"
	"github.com/abcfe/abcfe-wallet/session"
	"github.com/abcfe/abcfe-wallet/transport"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Config는 대시보드 설정
type Config struct {
	Host       string
	Port       int
	Session    session.Options
	Endpoint   string // ws://host:port
	LogPath    string // 설정의 LogInfo.Path
	RefreshSec int
}

type keyMap struct {
	Quit    key.Binding
	Help    key.Binding
	Refresh key.Binding
	Lock    key.Binding
	Unlock  key.Binding
	Up      key.Binding
	Down    key.Binding
	Approve key.Binding
	Deny    key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "종료")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "도움말")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "새로고침")),
	Lock:    key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "잠금")),
	Unlock:  key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "잠금 해제")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑↓", "요청 선택")),
	Down:    key.NewBinding(key.WithKeys("down", "j")),
	Approve: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "승인")),
	Deny:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "거절")),
}

// Model은 Bubbletea 모델
type Model struct {
	config Config
	ctx    context.Context
	facade *session.Facade
	states <-chan session.State
	client *api.Client

	state     session.State
	status    *api.Status
	channel   *api.ChannelStatus
	statusErr string
	notice    string

	selected  int
	password  textinput.Model
	prompting bool

	width     int
	height    int
	logViewer *components.LogViewer
	showHelp  bool
	quitting  bool
}

// Run은 대시보드 실행. UI 채널 하나를 열어 백그라운드 상태를 구독한다.
func Run(config Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := session.New(transport.DialWS(config.Endpoint), config.Session)
	f.Start(ctx)
	defer f.Close()

	states, unsubscribe := f.Subscribe()
	defer unsubscribe()

	m := initialModel(ctx, config, f, states)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func initialModel(ctx context.Context, config Config, f *session.Facade, states <-chan session.State) Model {
	ti := textinput.New()
	ti.Placeholder = "password"
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'

	if config.RefreshSec <= 0 {
		config.RefreshSec = 1
	}

	return Model{
		config:    config,
		ctx:       ctx,
		facade:    f,
		states:    states,
		client:    api.NewClient(config.Host, config.Port),
		password:  ti,
		logViewer: components.NewLogViewer(config.LogPath, 10),
	}
}

// tickMsg는 주기적 업데이트 메시지
type tickMsg time.Time

// stateMsg는 파사드가 미러링한 상태 스냅샷
type stateMsg session.State

type statusMsg struct {
	status  *api.Status
	channel *api.ChannelStatus
	err     error
}

// resultMsg는 사용자 동작의 결과
type resultMsg struct {
	action string
	err    error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(m.config.RefreshSec),
		waitState(m.states),
		m.fetchStatus(),
	)
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitState(ch <-chan session.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(s)
	}
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		status, err := m.client.GetStatus()
		if err != nil {
			return statusMsg{err: err}
		}
		channel, _ := m.client.GetChannelStatus()
		return statusMsg{status: status, channel: channel}
	}
}

func (m Model) do(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		return resultMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.facade.SetActive(true)
		if m.prompting {
			return m.updatePrompt(msg)
		}

		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp

		case key.Matches(msg, keys.Refresh):
			cmds = append(cmds, m.fetchStatus(), m.do("refresh", func(ctx context.Context) error {
				_, err := m.facade.Status(ctx)
				return err
			}))

		case key.Matches(msg, keys.Lock):
			cmds = append(cmds, m.do("lock", m.facade.Lock))

		case key.Matches(msg, keys.Unlock):
			m.prompting = true
			m.password.SetValue("")
			cmds = append(cmds, m.password.Focus())

		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}

		case key.Matches(msg, keys.Down):
			if m.selected < len(m.state.PermissionRequests)-1 {
				m.selected++
			}

		case key.Matches(msg, keys.Approve), key.Matches(msg, keys.Deny):
			if m.selected < len(m.state.PermissionRequests) {
				id := m.state.PermissionRequests[m.selected].ID
				allowed := key.Matches(msg, keys.Approve)
				cmds = append(cmds, m.do("respond", func(ctx context.Context) error {
					return m.facade.RespondPermission(ctx, message.PermissionResponse{ID: id, Allowed: allowed})
				}))
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		cmds = append(cmds, tickCmd(m.config.RefreshSec), m.fetchStatus())
		m.logViewer.Refresh()

	case stateMsg:
		m.state = session.State(msg)
		if m.selected >= len(m.state.PermissionRequests) {
			m.selected = 0
		}
		cmds = append(cmds, waitState(m.states))

	case statusMsg:
		if msg.err != nil {
			m.status, m.channel = nil, nil
			m.statusErr = msg.err.Error()
		} else {
			m.status, m.channel = msg.status, msg.channel
			m.statusErr = ""
		}

	case resultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s 실패: %v", msg.action, msg.err)
		} else {
			m.notice = msg.action + " 완료"
		}
		cmds = append(cmds, m.fetchStatus())
	}

	return m, tea.Batch(cmds...)
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.prompting = false
		m.password.Blur()
		m.password.SetValue("")
		return m, nil

	case tea.KeyEnter:
		pw := m.password.Value()
		m.prompting = false
		m.password.Blur()
		m.password.SetValue("")
		return m, m.do("unlock", func(ctx context.Context) error {
			return m.facade.Unlock(ctx, pw)
		})
	}

	var cmd tea.Cmd
	m.password, cmd = m.password.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	// 헤더
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	b.WriteString(m.renderKeyring())
	b.WriteString("\n")

	b.WriteString(m.renderRequests())
	b.WriteString("\n")

	if m.prompting {
		b.WriteString(styles.BoxStyle.Render("Unlock: " + m.password.View()))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(styles.MutedStyle.Render("  " + m.notice))
		b.WriteString("\n")
	}

	// 로그 뷰어
	b.WriteString(m.logViewer.Render(m.width))
	b.WriteString("\n")

	// 도움말 또는 단축키 바
	if m.showHelp {
		b.WriteString(m.renderFullHelp())
	} else {
		b.WriteString(m.renderHelpBar())
	}

	return b.String()
}

func (m Model) renderHeader() string {
	title := styles.TitleStyle.Render(" ABCFe Wallet Dashboard ")

	var status string
	if m.state.Connected {
		status = styles.SuccessStyle.Render("● 연결됨")
	} else {
		status = styles.ErrorStyle.Render("○ 연결 끊김")
	}
	if m.channel != nil {
		status += styles.MutedStyle.Render(fmt.Sprintf(" | UI 채널: %d", m.channel.ConnectedClients))
	}

	// 오른쪽 정렬
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(status) - 2
	if gap < 1 {
		gap = 1
	}

	return title + strings.Repeat(" ", gap) + status
}

func (m Model) renderKeyring() string {
	var b strings.Builder

	b.WriteString(styles.HeaderStyle.Render("Keyring"))
	b.WriteString("\n")

	if m.status == nil {
		b.WriteString(styles.ErrorStyle.Render("  ✗ 백그라운드 응답 없음"))
		if m.statusErr != "" {
			b.WriteString("\n")
			b.WriteString(styles.MutedStyle.Render("  " + m.statusErr))
		}
		return b.String()
	}

	b.WriteString(fmt.Sprintf("  State: %s", styles.StateStyle(m.status.Keyring).Render(m.status.Keyring)))
	b.WriteString(fmt.Sprintf("  Migration: %s", styles.StateStyle(m.status.Migration).Render(m.status.Migration)))
	b.WriteString(fmt.Sprintf("  Network: %s", m.status.Network))

	if m.state.ActiveOrigin != "" {
		b.WriteString("\n")
		b.WriteString(styles.MutedStyle.Render("  Active origin: " + m.state.ActiveOrigin))
	}
	if m.state.LastEntityUpdate != "" {
		b.WriteString("\n")
		b.WriteString(styles.MutedStyle.Render("  Last update: " + m.state.LastEntityUpdate))
	}

	return b.String()
}

func (m Model) renderRequests() string {
	var b strings.Builder

	title := fmt.Sprintf("Permission requests (%d)  Transactions (%d)",
		len(m.state.PermissionRequests), len(m.state.TransactionRequests))
	b.WriteString(styles.HeaderStyle.Render(title))
	b.WriteString("\n")

	if len(m.state.PermissionRequests) == 0 {
		b.WriteString(styles.MutedStyle.Render("  대기 중인 요청 없음"))
		b.WriteString("\n")
		return b.String()
	}

	header := fmt.Sprintf("%-4s %-32s %-30s", "#", "Origin", "Permissions")
	b.WriteString(styles.TableHeaderStyle.Render(header))
	b.WriteString("\n")

	for i, pr := range m.state.PermissionRequests {
		origin := pr.Origin
		if len(origin) > 32 {
			origin = origin[:29] + "..."
		}
		row := fmt.Sprintf("%-4d %-32s %-30s", i+1, origin, strings.Join(pr.Permissions, ","))
		if i == m.selected {
			b.WriteString(styles.TableSelectedRowStyle.Render(row))
		} else {
			b.WriteString(styles.TableRowStyle.Render(row))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderHelpBar() string {
	bindings := []key.Binding{keys.Up, keys.Approve, keys.Deny, keys.Lock, keys.Unlock, keys.Refresh, keys.Help, keys.Quit}

	var parts []string
	for _, k := range bindings {
		h := k.Help()
		parts = append(parts,
			styles.HelpKeyStyle.Render(h.Key)+
				styles.HelpDescStyle.Render(" "+h.Desc))
	}

	return styles.HelpBarStyle.Render(strings.Join(parts, "  │  "))
}

func (m Model) renderFullHelp() string {
	help := `
╭─────────────────────────────────────╮
│            도움말                    │
├─────────────────────────────────────┤
│  ↑/↓, j/k    권한 요청 선택          │
│  a / d       선택한 요청 승인/거절    │
│  l           지갑 잠금               │
│  u           지갑 잠금 해제          │
│  r           수동 새로고침           │
│  ?           도움말 토글             │
│  q, Ctrl+C   종료                   │
╰─────────────────────────────────────╯`
	return styles.MutedStyle.Render(help)
}
