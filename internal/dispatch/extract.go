package dispatch

import (
	"strings"

	"wabridge/internal/domain"
)

// Field labels recognized at the start of a line of the text body, as the
// panel renders them. Matching is case- and accent-insensitive on the label.
var contextLabels = map[string]func(*domain.CorrelationContext, string){
	"cpf":         func(c *domain.CorrelationContext, v string) { c.CustomerRef = v },
	"cliente":     func(c *domain.CorrelationContext, v string) { c.CustomerRef = v },
	"solicitacao": func(c *domain.CorrelationContext, v string) { c.RequestLabel = v },
	"assunto":     func(c *domain.CorrelationContext, v string) { c.RequestLabel = v },
	"agente":      func(c *domain.CorrelationContext, v string) { c.Agent = v },
}

// ExtractContext scans a text body for labeled lines ("Label: value") and
// returns whatever business context it can find. Best effort: unknown or
// malformed lines are skipped and an empty context is a valid result.
func ExtractContext(text string) domain.CorrelationContext {
	var ctx domain.CorrelationContext
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "*"))
		if value == "" {
			continue
		}
		set, ok := contextLabels[normalizeLabel(label)]
		if !ok {
			continue
		}
		set(&ctx, value)
	}
	return ctx
}

// normalizeLabel lowercases a label and folds the accented characters the
// panel uses, so "Solicitação" matches "solicitacao".
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "*") // panel bolds labels with *Label:*
	replacer := strings.NewReplacer(
		"ã", "a", "á", "a", "à", "a", "â", "a",
		"é", "e", "ê", "e",
		"í", "i",
		"ó", "o", "õ", "o", "ô", "o",
		"ú", "u", "ç", "c",
	)
	return replacer.Replace(s)
}
