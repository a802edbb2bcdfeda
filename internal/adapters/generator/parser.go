package generator

import (
	"fmt"
	"regexp"
	"strings"
)

// ParsedReply — разобранный ответ модели в формате "1. [Тип]: Текст".
type ParsedReply struct {
	ReplyType string
	Text      string
}

var replyLinePattern = regexp.MustCompile(`^\s*\d+\.\s*\[([^\[\]]+)\]:\s*(.+)$`)

// ParseReply строго разбирает ответ модели. Ответ, не соответствующий
// формату, считается ошибкой генерации: молчаливых фолбэков нет, чтобы
// испорченный вывод модели не попадал в черновики.
func ParseReply(content string) (ParsedReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return ParsedReply{}, fmt.Errorf("пустой ответ модели")
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		match := replyLinePattern.FindStringSubmatch(line)
		if match == nil {
			return ParsedReply{}, fmt.Errorf("строка не соответствует формату %q: %q", "1. [Тип]: Текст", line)
		}
		replyType := strings.TrimSpace(match[1])
		text := strings.TrimSpace(match[2])
		if replyType == "" || text == "" {
			return ParsedReply{}, fmt.Errorf("пустой тип или текст ответа: %q", line)
		}
		return ParsedReply{ReplyType: replyType, Text: text}, nil
	}
	return ParsedReply{}, fmt.Errorf("ответ модели не содержит строк")
}
