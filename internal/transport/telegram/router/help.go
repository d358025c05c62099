package router

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// helpText lists every registered command with its usage line.
func (m *CommandManager) helpText() string {
	cmds := m.Commands()
	lines := make([]string, 0, len(cmds)+1)
	lines = append(lines, "📋 Команды:")
	for _, c := range cmds {
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "/" + c.Name
		}
		if d := lowerFirst(strings.TrimSpace(c.Description)); d != "" {
			usage += " — " + d
		}
		lines = append(lines, usage)
	}
	return strings.Join(lines, "\n")
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToLower(r)) + s[n:]
}
