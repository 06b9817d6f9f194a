package normalize

import (
	"strings"
	"unicode"
)

// CanonicalName turns a vendor sensor label into a stable identifier so the
// same physical sensor maps to one key no matter which backend reported it.
// "CPU1 Temp", "CPU 1" and "CPU#1" all become "cpu1".
func CanonicalName(kind, name string) string {
	tokens := tokenize(name)
	if kind == "temperature" {
		tokens = trimTemperatureTokens(tokens)
	}

	var builder strings.Builder
	for i, token := range tokens {
		if i > 0 && !(isAlpha(tokens[i-1]) && startsWithDigit(token)) {
			builder.WriteByte('_')
		}
		builder.WriteString(token)
	}
	return builder.String()
}

// Key joins kind and the canonical identifier.
func Key(kind, id string) string {
	if id == "" {
		return kind
	}
	return kind + "_" + id
}

func tokenize(name string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '#' || r == '\'' {
			return -1
		}
		return r
	}, strings.ToLower(name))

	return strings.FieldsFunc(cleaned, func(r rune) bool {
		return r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
}

func trimTemperatureTokens(tokens []string) []string {
	isTemperatureWord := func(token string) bool {
		return token == "temp" || token == "temperature"
	}
	if len(tokens) > 1 && isTemperatureWord(tokens[0]) {
		tokens = tokens[1:]
	}
	if len(tokens) > 1 && isTemperatureWord(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func isAlpha(token string) bool {
	for _, r := range token {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return token != ""
}

func startsWithDigit(token string) bool {
	return token != "" && unicode.IsDigit(rune(token[0]))
}
