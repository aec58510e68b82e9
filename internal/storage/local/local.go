// Пакет local — бэкенд хранилища на локальном диске.
//
// Файлы хранятся под корнем LOCAL_STORAGE_PATH по своим относительным путям.
// MIME-тип сохраняется в сопутствующем файле *.meta.json.
// Запись атомарна: temp → fsync → rename.
// Все обращения к диску идут через os.Root: символические ссылки не выводят
// за пределы корня, а сами ссылки не отдаются как файлы.
package local

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/bigkaa/certstore/internal/envguard"
	"github.com/bigkaa/certstore/internal/pathguard"
	"github.com/bigkaa/certstore/internal/storage"
)

// tmpPrefix — префикс временных файлов незавершённой записи.
const tmpPrefix = ".certstore-tmp-"

// Backend — локальное файловое хранилище.
type Backend struct {
	// rootPath — абсолютный путь корня хранилища
	rootPath string
	root     *os.Root
	logger   *slog.Logger
}

// New создаёт локальный бэкенд.
// markers — маркеры serverless-окружения, обнаруженные при загрузке конфигурации;
// при их наличии возвращается envguard.ErrServerlessLocalStorage.
func New(root string, markers []string, logger *slog.Logger) (*Backend, error) {
	if err := envguard.CheckLocalStorage(markers); err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fmt.Errorf("LOCAL_STORAGE_PATH: путь к хранилищу не задан")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("LOCAL_STORAGE_PATH: некорректный путь %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("LOCAL_STORAGE_PATH: не удалось создать директорию %s: %w", abs, err)
	}
	r, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("LOCAL_STORAGE_PATH: не удалось открыть директорию %s: %w", abs, err)
	}

	logger.Info("Локальное хранилище инициализировано", slog.String("root", abs))

	return &Backend{
		rootPath: abs,
		root:     r,
		logger:   logger.With(slog.String("component", "storage_local")),
	}, nil
}

// Root возвращает абсолютный путь корня хранилища.
func (b *Backend) Root() string {
	return b.rootPath
}

// Close освобождает дескриптор корня.
func (b *Backend) Close() error {
	return b.root.Close()
}

// Name возвращает имя провайдера.
func (b *Backend) Name() string {
	return "local"
}

// Stat возвращает метаданные файла.
func (b *Backend) Stat(_ context.Context, p pathguard.SafePath) (*storage.ObjectInfo, error) {
	fi, err := b.lstat(p)
	if err != nil {
		return nil, err
	}
	info := b.objectInfo(p, fi)
	return &info, nil
}

// Open открывает файл для чтения.
func (b *Backend) Open(_ context.Context, p pathguard.SafePath) (*storage.Object, error) {
	fi, err := b.lstat(p)
	if err != nil {
		return nil, err
	}

	f, err := b.root.Open(relPath(p))
	if err != nil {
		if b.notFound(p, err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", p, err)
	}

	// Между Lstat и Open файл мог быть подменён ссылкой
	opened, err := f.Stat()
	if err != nil || !os.SameFile(fi, opened) {
		f.Close()
		return nil, storage.ErrNotFound
	}

	return &storage.Object{Body: f, Info: b.objectInfo(p, opened)}, nil
}

// Put записывает файл атомарно, создавая родительские директории.
func (b *Backend) Put(_ context.Context, p pathguard.SafePath, r io.Reader, contentType string) error {
	if isReserved(path.Base(p.String())) {
		return fmt.Errorf("%w: имя %s зарезервировано", storage.ErrPermissionDenied, p)
	}

	rel := relPath(p)
	if err := b.root.MkdirAll(filepath.Dir(rel), 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию для %s: %w", p, err)
	}

	if err := writeAtomic(b.root, rel, r); err != nil {
		return err
	}

	if err := writeMeta(b.root, rel, contentType); err != nil {
		// Данные уже записаны; без meta тип определится по расширению
		b.logger.Warn("Не удалось сохранить метаданные файла",
			slog.String("path", p.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Remove удаляет файл и его метаданные.
func (b *Backend) Remove(_ context.Context, p pathguard.SafePath) (bool, error) {
	if _, err := b.lstat(p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	rel := relPath(p)
	if err := b.root.Remove(rel); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка удаления файла %s: %w", p, err)
	}
	if err := deleteMeta(b.root, rel); err != nil {
		b.logger.Warn("Не удалось удалить метаданные файла",
			slog.String("path", p.String()),
			slog.String("error", err.Error()),
		)
	}
	return true, nil
}

// List перечисляет файлы директории (без рекурсии).
// Отсутствующая директория — пустая последовательность.
func (b *Backend) List(ctx context.Context, dir pathguard.SafePath) iter.Seq2[storage.ObjectInfo, error] {
	return func(yield func(storage.ObjectInfo, error) bool) {
		d, err := b.root.Open(relPath(dir))
		if err != nil {
			if b.notFound(dir, err) {
				return
			}
			yield(storage.ObjectInfo{}, fmt.Errorf("ошибка чтения директории %s: %w", dir, err))
			return
		}
		entries, err := d.ReadDir(-1)
		d.Close()
		if err != nil {
			yield(storage.ObjectInfo{}, fmt.Errorf("ошибка чтения директории %s: %w", dir, err))
			return
		}
		slices.SortFunc(entries, func(x, y fs.DirEntry) int {
			return strings.Compare(x.Name(), y.Name())
		})

		for _, e := range entries {
			if ctx.Err() != nil {
				yield(storage.ObjectInfo{}, ctx.Err())
				return
			}
			if !e.Type().IsRegular() || isReserved(e.Name()) {
				continue
			}

			p, ok := pathguard.Validate(path.Join(dir.String(), e.Name()))
			if !ok {
				b.logger.Warn("Пропущен файл с небезопасным именем",
					slog.String("dir", dir.String()),
					slog.String("name", fmt.Sprintf("%q", e.Name())),
				)
				continue
			}

			fi, err := e.Info()
			if err != nil {
				// Файл удалён между ReadDir и Info
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				yield(storage.ObjectInfo{}, fmt.Errorf("ошибка получения информации о файле %s: %w", p, err))
				return
			}

			if !yield(b.objectInfo(p, fi), nil) {
				return
			}
		}
	}
}

// lstat возвращает информацию об обычном файле p.
// Служебные файлы, директории и символические ссылки — ErrNotFound.
func (b *Backend) lstat(p pathguard.SafePath) (fs.FileInfo, error) {
	if isReserved(path.Base(p.String())) {
		return nil, storage.ErrNotFound
	}

	fi, err := b.root.Lstat(relPath(p))
	if err != nil {
		if b.notFound(p, err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", p, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, storage.ErrNotFound
	}
	return fi, nil
}

// notFound — файла нет, или путь ведёт за пределы корня через ссылку.
// os.Root сообщает о выходе за корень ошибкой без syscall.Errno.
func (b *Backend) notFound(p pathguard.SafePath, err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return false
	}
	b.logger.Warn("Путь ведёт за пределы корня хранилища",
		slog.String("path", p.String()),
		slog.String("error", err.Error()),
	)
	return true
}

// relPath — путь относительно корня в формате ОС ("." для корня).
func relPath(p pathguard.SafePath) string {
	if p.IsRoot() {
		return "."
	}
	return filepath.FromSlash(p.String())
}

// objectInfo собирает метаданные из os.FileInfo и сопутствующего meta-файла.
func (b *Backend) objectInfo(p pathguard.SafePath, fi fs.FileInfo) storage.ObjectInfo {
	ct := readContentType(b.root, relPath(p))
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(p.String()))
	}
	return storage.ObjectInfo{
		Path:         p,
		Size:         fi.Size(),
		ContentType:  ct,
		LastModified: fi.ModTime().UTC(),
	}
}

// isReserved — служебные файлы бэкенда, недоступные через API.
func isReserved(name string) bool {
	return strings.HasPrefix(name, tmpPrefix) || strings.HasSuffix(name, metaSuffix)
}

// writeAtomic записывает данные из reader во временный файл рядом с целевым,
// выполняет fsync и атомарно переименовывает. При ошибке temp файл удаляется.
func writeAtomic(root *os.Root, rel string, r io.Reader) error {
	tmp := filepath.Join(filepath.Dir(rel), tmpPrefix+rand.Text())
	f, err := root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		root.Remove(tmp)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		root.Remove(tmp)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		root.Remove(tmp)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := root.Rename(tmp, rel); err != nil {
		root.Remove(tmp)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}
