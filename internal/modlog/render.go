package modlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxContent = 1000
	emptyValue = "*none*"
)

func joinLines(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func field(name, value string) string {
	return "**" + name + ":** " + value
}

// block renders a labelled code block.
func block(name, content string) string {
	return "**" + name + ":**\n" + quote(content)
}

func change(name, before, after string) string {
	return fmt.Sprintf("**%s:** %s → %s", name, orNone(before), orNone(after))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyValue
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func channelMention(id string) string {
	if id == "" {
		return ""
	}
	return "<#" + id + ">"
}

func roleMention(id string) string { return "<@&" + id + ">" }

func userMention(id string) string {
	if id == "" {
		return ""
	}
	return "<@" + id + ">"
}

func timestamp(t time.Time, style string) string {
	return "<t:" + strconv.FormatInt(t.Unix(), 10) + ":" + style + ">"
}

func hexColor(c int) string { return fmt.Sprintf("#%06X", c) }

func hexPerms(p int64) string { return fmt.Sprintf("0x%X", p) }

func quote(s string) string {
	s = truncate(s, maxContent)
	if s == "" {
		return emptyValue
	}
	return "```\n" + strings.ReplaceAll(s, "```", "`\u200b``") + "\n```"
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

func messageLink(guildID, channelID, messageID string) string {
	return "https://discord.com/channels/" + guildID + "/" + channelID + "/" + messageID
}

func humanAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours() / 24)
	switch {
	case days >= 365:
		return fmt.Sprintf("%d years, %d days", days/365, days%365)
	case days >= 1:
		return fmt.Sprintf("%d days", days)
	case d >= time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
}
