package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-ntfs"
)

type rootParameters struct {
	Filepath string `short:"f" long:"filepath" description:"File-path of NTFS filesystem (or volume image)" required:"true"`
}

var (
	rootArguments = new(rootParameters)

	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dirStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	sizeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// model is a stack of directories: model.stack[len-1] is the directory
// currently displayed, with model.cursor indexing into its children.
type model struct {
	fs      *ntfs.FileSystem
	stack   []*ntfs.FileEntry
	names   []string
	entries [][]*ntfs.FileEntry
	cursor  []int
	err     error
}

func newModel(fs *ntfs.FileSystem, root *ntfs.FileEntry) (*model, error) {
	children, err := root.Children()
	if err != nil {
		return nil, err
	}

	return &model{
		fs:      fs,
		stack:   []*ntfs.FileEntry{root},
		names:   []string{`\`},
		entries: [][]*ntfs.FileEntry{children},
		cursor:  []int{0},
	}, nil
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) current() []*ntfs.FileEntry {
	return m.entries[len(m.entries)-1]
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if ok != true {
		return m, nil
	}

	depth := len(m.stack) - 1

	switch keyMsg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.cursor[depth] > 0 {
			m.cursor[depth]--
		}

	case "down", "j":
		if m.cursor[depth] < len(m.current())-1 {
			m.cursor[depth]++
		}

	case "enter", "l", "right":
		children := m.current()
		if len(children) == 0 {
			return m, nil
		}

		selected := children[m.cursor[depth]]
		if selected.IsDirectory() != true {
			return m, nil
		}

		kids, err := selected.Children()
		if err != nil {
			m.err = err
			return m, nil
		}

		m.stack = append(m.stack, selected)
		m.names = append(m.names, selected.Name())
		m.entries = append(m.entries, kids)
		m.cursor = append(m.cursor, 0)

	case "backspace", "h", "left":
		if depth > 0 {
			m.stack = m.stack[:depth]
			m.names = m.names[:depth]
			m.entries = m.entries[:depth]
			m.cursor = m.cursor[:depth]
		}
	}

	return m, nil
}

func (m *model) View() string {
	depth := len(m.stack) - 1

	var path string
	for _, name := range m.names {
		if name == `\` {
			path = `\`
			continue
		}

		if path == `\` {
			path += name
		} else {
			path += `\` + name
		}
	}

	out := fmt.Sprintf("%s\n\n", path)

	children := m.current()

	for i, child := range children {
		cursor := "  "
		if i == m.cursor[depth] {
			cursor = "> "
		}

		line := fmt.Sprintf("%-40s %12s", child.Name(), humanize.Comma(int64(child.Size())))

		if child.IsDirectory() {
			line = dirStyle.Render(line)
		} else {
			line = sizeStyle.Render(line)
		}

		if i == m.cursor[depth] {
			line = selectedStyle.Render(cursor + line)
		} else {
			line = cursor + line
		}

		out += line + "\n"
	}

	out += "\n(up/down to move, enter to open a directory, backspace to go up, q to quit)\n"

	return out
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	f, err := os.Open(rootArguments.Filepath)
	log.PanicIf(err)

	defer f.Close()

	fs, err := ntfs.Open(f, ntfs.DefaultOptions())
	log.PanicIf(err)

	root, err := fs.Root()
	log.PanicIf(err)

	m, err := newModel(fs, root)
	log.PanicIf(err)

	_, err = tea.NewProgram(m).Run()
	log.PanicIf(err)
}
