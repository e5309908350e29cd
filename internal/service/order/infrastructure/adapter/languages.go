package adapter

import "strings"

// languageCodes 把界面上的语言名称映射为 ISO 639-1 代码
var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"vietnamese": "vi",
	"tagalog":    "tl",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"greek":      "el",
	"hebrew":     "he",
}

// nonLatinScripts 需要 Unicode 字体才能排版
var nonLatinScripts = map[string]bool{
	"zh": true, "ja": true, "ko": true, "ru": true, "ar": true, "hi": true, "el": true, "he": true,
}

func languageCode(language string) string {
	return languageCodes[strings.ToLower(strings.TrimSpace(language))]
}

func isLatinScript(language string) bool {
	return !nonLatinScripts[languageCode(language)]
}
