package local

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// metaSuffix — суффикс сопутствующего файла метаданных.
// Пример: "public/a.pdf" → "public/a.pdf.meta.json"
const metaSuffix = ".meta.json"

// maxMetaFileSize — максимальный размер meta-файла (4 КБ).
const maxMetaFileSize = 4096

// fileMeta — содержимое meta-файла.
type fileMeta struct {
	ContentType string `json:"contentType"`
}

// writeMeta атомарно записывает meta-файл для файла данных rel.
func writeMeta(root *os.Root, rel, contentType string) error {
	data, err := json.Marshal(fileMeta{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}
	if len(data) > maxMetaFileSize {
		return fmt.Errorf("размер meta-файла (%d байт) превышает максимум (%d байт)", len(data), maxMetaFileSize)
	}
	return writeAtomic(root, rel+metaSuffix, bytes.NewReader(data))
}

// readContentType возвращает сохранённый MIME-тип или "" при отсутствии
// или повреждении meta-файла.
func readContentType(root *os.Root, rel string) string {
	fi, err := root.Lstat(rel + metaSuffix)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() > maxMetaFileSize {
		return ""
	}
	data, err := root.ReadFile(rel + metaSuffix)
	if err != nil {
		return ""
	}
	var m fileMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	return m.ContentType
}

// deleteMeta удаляет meta-файл. Отсутствие файла — не ошибка.
func deleteMeta(root *os.Root, rel string) error {
	err := root.Remove(rel + metaSuffix)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления meta-файла: %w", err)
	}
	return nil
}
