package domain

import "fmt"

// EngagementType — закрытое перечисление стилей вовлечения.
// Диспетчеризация идёт только через таблицу engagementTones,
// полнота которой проверяется на старте процесса.
type EngagementType string

const (
	EngagementAuthority  EngagementType = "AUTHORITY"
	EngagementEmpathy    EngagementType = "EMPATHY"
	EngagementSolution   EngagementType = "SOLUTION"
	EngagementHumor      EngagementType = "HUMOR"
	EngagementQuestion   EngagementType = "QUESTION"
	EngagementContrarian EngagementType = "CONTRARIAN"
	EngagementTrend      EngagementType = "TREND"
	EngagementWhatIf     EngagementType = "WHAT_IF"
)

// EngagementTypes — порядок обхода типов при round-robin назначении.
var EngagementTypes = []EngagementType{
	EngagementAuthority,
	EngagementEmpathy,
	EngagementSolution,
	EngagementHumor,
	EngagementQuestion,
	EngagementContrarian,
	EngagementTrend,
	EngagementWhatIf,
}

var engagementTones = map[EngagementType]string{
	EngagementAuthority: "Informative insights, expert opinions, actionable guidance, " +
		"clarifications and forward-looking thought leadership.",
	EngagementEmpathy: "Simple empathy (\"I understand how frustrating this can be\") " +
		"or detailed compassion with a real example.",
	EngagementSolution:   "Broad suggestions or detailed step-by-step actionable tips.",
	EngagementHumor:      "Lighthearted or witty responses that create a memorable interaction.",
	EngagementQuestion:   "Thoughtful, context-relevant questions that spark conversation.",
	EngagementContrarian: "Respectful counterpoints or alternative views.",
	EngagementTrend:      "Align the reply with current, relevant industry trends.",
	EngagementWhatIf:     "Imaginative scenarios or hypotheticals that engage creatively.",
}

// ToneFor возвращает тональность для типа вовлечения.
// Неизвестный тип — ошибка программирования, а не данных.
func ToneFor(engagement EngagementType) (string, error) {
	tone, ok := engagementTones[engagement]
	if !ok {
		return "", fmt.Errorf("нет тональности для типа вовлечения %q", engagement)
	}
	return tone, nil
}

// ValidateEngagementTones проверяет полноту таблицы тональностей.
// Вызывается на старте процесса: падаем сразу, а не на первом запросе.
func ValidateEngagementTones() error {
	for _, engagement := range EngagementTypes {
		if _, ok := engagementTones[engagement]; !ok {
			return fmt.Errorf("тип вовлечения %q не имеет тональности", engagement)
		}
	}
	return nil
}
