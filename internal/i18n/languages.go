package i18n

import "strings"

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"uk": "Ukrainian",
}

func GetLanguageName(code string) string {
	normalized := strings.ToLower(code)
	if name, ok := languageNames[normalized]; ok {
		return name
	}
	return code
}

func GetLanguagesList() []string {
	list := make([]string, 0, len(languageNames))
	for code := range languageNames {
		list = append(list, code)
	}
	return list
}
