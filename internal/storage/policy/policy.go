// Пакет policy — разрешение политик директорий хранилища.
//
// Политика задаётся для поддерева (ключ — путь директории). Для файла
// действует политика ближайшей директории-предка с заданной политикой.
// protectChildren у любого предка делает защищёнными всех потомков
// независимо от их собственных флагов.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bigkaa/certstore/internal/domain/model"
	"github.com/bigkaa/certstore/internal/pathguard"
)

// Defaults — политики по умолчанию, если STORAGE_DIRECTORY_POLICIES не задан.
func Defaults() map[string]model.DirectoryPolicy {
	return map[string]model.DirectoryPolicy{
		// Корень: файлы можно загружать, удалять и перемещать, директории — нет
		"": {
			AllowUploads:       true,
			AllowCreateSubDirs: true,
			AllowDeleteFiles:   true,
			AllowMoveFiles:     true,
		},
		"public": {
			AllowUploads:       true,
			AllowCreateSubDirs: true,
			AllowDeleteFiles:   true,
			AllowMoveFiles:     true,
		},
		// Фоновые изображения шаблонов сертификатов
		"templates": {
			AllowUploads:    true,
			IsProtected:     true,
			ProtectChildren: true,
		},
	}
}

// Resolver — неизменяемый набор политик с поиском по самому длинному префиксу.
type Resolver struct {
	// keys отсортированы по убыванию длины
	keys     []pathguard.SafePath
	policies map[pathguard.SafePath]model.DirectoryPolicy
}

// NewResolver создаёт Resolver. Ключи нормализуются через pathguard.ValidateDir;
// некорректный ключ — ошибка конфигурации.
// Пустая карта заменяется на Defaults().
func NewResolver(policies map[string]model.DirectoryPolicy) (*Resolver, error) {
	if len(policies) == 0 {
		policies = Defaults()
	}

	r := &Resolver{policies: make(map[pathguard.SafePath]model.DirectoryPolicy, len(policies))}
	for raw, p := range policies {
		key, ok := pathguard.ValidateDir(raw)
		if !ok {
			return nil, fmt.Errorf("некорректный путь политики %q", raw)
		}
		r.policies[key] = p
		r.keys = append(r.keys, key)
	}
	sort.Slice(r.keys, func(i, j int) bool {
		if len(r.keys[i]) != len(r.keys[j]) {
			return len(r.keys[i]) > len(r.keys[j])
		}
		return r.keys[i] < r.keys[j]
	})
	return r, nil
}

// Effective — итоговая политика для директории с учётом наследования защиты.
type Effective struct {
	model.DirectoryPolicy
	// Protected — файлы директории защищены (собственный IsProtected
	// или protectChildren у предка).
	Protected bool
}

// ForDir возвращает итоговую политику директории dir.
// Без подходящей политики все мутирующие операции запрещены.
func (r *Resolver) ForDir(dir pathguard.SafePath) Effective {
	var eff Effective
	matched := false
	for _, key := range r.keys {
		if !isAncestorOrSelf(key, dir) {
			continue
		}
		p := r.policies[key]
		if !matched {
			eff.DirectoryPolicy = p
			matched = true
			if key == dir && p.IsProtected {
				eff.Protected = true
			}
		}
		if p.ProtectChildren {
			eff.Protected = true
		}
	}

	if eff.Protected {
		eff.IsProtected = true
		eff.AllowDelete = false
		eff.AllowMove = false
		eff.AllowDeleteFiles = false
		eff.AllowMoveFiles = false
	}
	return eff
}

// ForFile возвращает итоговую политику директории, содержащей файл.
func (r *Resolver) ForFile(p pathguard.SafePath) Effective {
	return r.ForDir(parentDir(p))
}

// IsProtected — файл исключён из удаления и перемещения.
func (r *Resolver) IsProtected(p pathguard.SafePath) bool {
	return r.ForFile(p).Protected
}

// CanUpload — разрешена ли запись файла по пути p.
func (r *Resolver) CanUpload(p pathguard.SafePath) bool {
	return r.ForFile(p).AllowUploads
}

// CanDeleteFile — разрешено ли удаление файла по пути p.
func (r *Resolver) CanDeleteFile(p pathguard.SafePath) bool {
	return r.ForFile(p).AllowDeleteFiles
}

// isAncestorOrSelf — key совпадает с dir или является его предком.
// Пустой key (корень) — предок всего.
func isAncestorOrSelf(key, dir pathguard.SafePath) bool {
	if key.IsRoot() || key == dir {
		return true
	}
	return strings.HasPrefix(string(dir), string(key)+"/")
}

// parentDir возвращает директорию файла ("" для файла в корне).
func parentDir(p pathguard.SafePath) pathguard.SafePath {
	i := strings.LastIndex(string(p), "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}
