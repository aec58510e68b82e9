// Пакет pathguard — проверка и нормализация путей, переданных вызывающей стороной,
// до того как они попадут в бэкенд хранилища.
//
// Отказ возвращается как ok=false, а не ошибка: массовые операции (листинг)
// пропускают такие пути и продолжают работу.
package pathguard

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SafePath — нормализованный относительный путь внутри корня хранилища.
// Разделитель — "/", без ведущего слэша, без сегментов "." и "..".
// Пустая строка означает корень.
type SafePath string

// String возвращает путь в виде строки.
func (p SafePath) String() string {
	return string(p)
}

// IsRoot — путь указывает на корень хранилища.
func (p SafePath) IsRoot() bool {
	return p == ""
}

// Validate проверяет путь к файлу. Пустой путь (корень) отклоняется.
func Validate(raw string) (SafePath, bool) {
	p, ok := normalize(raw)
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

// ValidateDir проверяет путь к директории. Пустой путь допустим и означает корень.
func ValidateDir(raw string) (SafePath, bool) {
	return normalize(raw)
}

// normalize выполняет общие проверки и нормализацию.
func normalize(raw string) (SafePath, bool) {
	if !utf8.ValidString(raw) {
		return "", false
	}
	for _, r := range raw {
		if r == 0 || unicode.IsControl(r) {
			return "", false
		}
	}

	p := strings.ReplaceAll(raw, "\\", "/")

	// Абсолютные пути: "/etc/passwd", "\\server\share", "C:/Windows"
	if strings.HasPrefix(p, "/") || hasDriveLetter(p) {
		return "", false
	}

	// Любой сегмент ".." отклоняется, даже если после разрешения путь
	// остаётся внутри корня ("public/../private/x").
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", true
	}
	return SafePath(cleaned), true
}

// hasDriveLetter — путь начинается с буквы диска Windows ("C:").
func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
