package tui

import (
	"image"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/getcharzp/go-clickseg/sam2"
)

type statusKind int

const (
	statusLoading statusKind = iota
	statusReady
	statusError
)

// Options 启动参数
type Options struct {
	ImagePath  string
	ExportPath string
	Logger     *zap.Logger
}

type Model struct {
	width  int
	height int

	session  *sam2.Session
	renderer *sam2.Renderer
	logger   *zap.Logger

	imagePath  string
	exportPath string

	status      string
	statusKind  statusKind
	busy        int // 进行中的 encode/decode 数量
	helpVisible bool

	// 最近一次渲染的画布
	frame  *image.RGBA
	layout layout

	// 键盘光标, 单位为字符格
	cursorX int
	cursorY int

	// 打开图片时的路径输入
	opening bool
	input   textinput.Model
}

func New(session *sam2.Session, renderer *sam2.Renderer, opts Options) Model {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	exportPath := opts.ExportPath
	if exportPath == "" {
		exportPath = sam2.DefaultExportName
	}
	m := Model{
		session:     session,
		renderer:    renderer,
		logger:      logger,
		imagePath:   opts.ImagePath,
		exportPath:  exportPath,
		helpVisible: true,
		status:      "Models loaded successfully! Upload an image to start.",
		statusKind:  statusReady,
	}
	m.input = textinput.New()
	m.input.Prompt = "open: "
	m.input.Placeholder = "path to image (png/jpeg). Enter to load; Esc to cancel."
	m.input.CharLimit = 0
	m.input.Width = 60
	if m.imagePath != "" {
		m.status = "Loading image..."
		m.statusKind = statusLoading
		m.busy = 1
	}
	return m
}

func (m Model) Init() tea.Cmd {
	if m.imagePath == "" {
		return nil
	}
	return loadImageCmd(m.session, m.imagePath)
}
