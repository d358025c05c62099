package router

import (
	"strings"

	kit "remindbot/internal/transport"
)

// Telegram limits: command [a-z0-9_]{1,32}, description 1..256 chars,
// at most 100 commands.
const (
	maxMenuCommands  = 100
	maxCommandLen    = 32
	maxDescRuneCount = 256
)

// sanitizeTelegramCommand converts a command name into a Telegram-safe bot
// command, or "" when nothing usable is left.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > maxCommandLen {
		out = strings.TrimRight(out[:maxCommandLen], "_")
	}
	return out
}

// buildMenuCommands keeps registration order and drops duplicates.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	seen := map[string]bool{}
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if r := []rune(desc); len(r) > maxDescRuneCount {
			desc = string(r[:maxDescRuneCount])
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= maxMenuCommands {
			break
		}
	}
	return out
}
