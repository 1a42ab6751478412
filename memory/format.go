package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory/textnorm"
)

var roleIcons = map[core.Role]string{
	core.RoleUser:      "👤",
	core.RoleAssistant: "🤖",
	core.RoleTool:      "⚙️",
}

var contextRule = strings.Repeat("─", 60)

// formatMessages renders messages as a prompt block, one line per message.
func formatMessages(msgs []core.Message, loc *time.Location, maxLen int) string {
	if len(msgs) == 0 {
		return ""
	}

	lines := make([]string, 0, len(msgs)+3)
	lines = append(lines, "📜 CONTEXTO DE CONVERSACIÓN RECIENTE:", contextRule)
	for _, msg := range msgs {
		lines = append(lines, fmt.Sprintf("%s [%s] %s",
			roleIcons[msg.Role],
			msg.Timestamp.In(loc).Format("15:04:05"),
			formatContent(msg, maxLen)))
	}
	lines = append(lines, contextRule)
	return strings.Join(lines, "\n")
}

func formatContent(msg core.Message, maxLen int) string {
	content := strings.Join(strings.Fields(msg.Content), " ")
	if msg.Role == core.RoleTool && msg.ToolName != "" {
		content = msg.ToolName + ": " + content
	}
	return textnorm.Truncate(content, maxLen)
}
