// Пакет storage — единый интерфейс к физическому хранилищу файлов
// (локальный диск или облачный bucket) с проверкой путей и политик директорий.
//
// Backend — вариант хранилища, работает только с уже проверенными путями.
// Store — внешний слой: каждый путь вызывающей стороны проходит pathguard,
// мутирующие операции проверяются политикой директорий.
package storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"mime"
	"path"
	"time"

	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/pathguard"
)

// Ошибки слоя хранилища.
var (
	// ErrNotFound — файл отсутствует (или путь отклонён pathguard).
	ErrNotFound = errors.New("файл не найден")
	// ErrPermissionDenied — операция запрещена политикой директории.
	ErrPermissionDenied = errors.New("операция запрещена политикой директории")
)

// DefaultContentType — MIME-тип, если бэкенд не сохранил собственный.
const DefaultContentType = "application/octet-stream"

// ObjectInfo — метаданные объекта, возвращаемые бэкендом.
// Флаг защищённости вычисляется в Store.
type ObjectInfo struct {
	Path         pathguard.SafePath
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Object — открытый для чтения объект. Вызывающий обязан закрыть Body.
type Object struct {
	Body io.ReadCloser
	Info ObjectInfo
}

// Backend — вариант физического хранилища.
// Все пути уже нормализованы pathguard; ошибки отсутствия — ErrNotFound.
type Backend interface {
	// Name — имя провайдера для логов и метрик.
	Name() string
	// Stat возвращает метаданные файла или ErrNotFound.
	Stat(ctx context.Context, p pathguard.SafePath) (*ObjectInfo, error)
	// Open открывает файл для чтения или возвращает ErrNotFound.
	Open(ctx context.Context, p pathguard.SafePath) (*Object, error)
	// Put записывает содержимое, перезаписывая существующее.
	Put(ctx context.Context, p pathguard.SafePath, r io.Reader, contentType string) error
	// Remove удаляет файл. false — файла не было.
	Remove(ctx context.Context, p pathguard.SafePath) (bool, error)
	// List перечисляет файлы непосредственно в директории dir.
	// Имена, не прошедшие pathguard, бэкенд пропускает сам.
	List(ctx context.Context, dir pathguard.SafePath) iter.Seq2[ObjectInfo, error]
}

// toMetadata переводит ObjectInfo в доменную модель.
func toMetadata(info ObjectInfo, protected bool) model.FileMetadata {
	ct := info.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(info.Path.String()))
	}
	if ct == "" {
		ct = DefaultContentType
	}
	return model.FileMetadata{
		Path:         info.Path.String(),
		Size:         info.Size,
		ContentType:  ct,
		LastModified: info.LastModified,
		IsProtected:  protected,
	}
}
