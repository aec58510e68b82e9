package model

import "time"

// FileMetadata — метаданные файла в хранилище (StorageFileMetadata).
// Не хранится отдельно: собирается из листинга бэкенда.
type FileMetadata struct {
	// Path — относительный путь от корня хранилища (разделитель "/").
	Path string `json:"path"`
	// Size — размер в байтах.
	Size int64 `json:"size"`
	// ContentType — MIME-тип.
	ContentType string `json:"contentType"`
	// LastModified — время последнего изменения.
	LastModified time.Time `json:"lastModified"`
	// IsProtected — файл исключён из удаления/перемещения политикой директории.
	IsProtected bool `json:"isProtected"`
}

// DirectoryPolicy — политика поддерева директорий хранилища.
type DirectoryPolicy struct {
	AllowUploads       bool `json:"allowUploads"`
	AllowDelete        bool `json:"allowDelete"`
	AllowMove          bool `json:"allowMove"`
	AllowCreateSubDirs bool `json:"allowCreateSubDirs"`
	AllowDeleteFiles   bool `json:"allowDeleteFiles"`
	AllowMoveFiles     bool `json:"allowMoveFiles"`
	IsProtected        bool `json:"isProtected"`
	// ProtectChildren — защита распространяется на всех потомков
	// независимо от их собственных флагов.
	ProtectChildren bool `json:"protectChildren"`
}

// User — пользователь основного приложения (только поля, нужные для авторизации).
type User struct {
	ID    string
	Email string
}
