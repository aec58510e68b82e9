// Пакет envguard — обнаружение serverless-окружений с эфемерной файловой системой.
// Проверка выполняется один раз при создании локального хранилища:
// запись на диск в таких окружениях не переживает вызов функции.
package envguard

import (
	"errors"
	"fmt"
	"strings"
)

// Markers — переменные окружения, выставляемые serverless-платформами.
var Markers = []string{
	"VERCEL",                   // Vercel
	"AWS_LAMBDA_FUNCTION_NAME", // AWS Lambda
	"K_SERVICE",                // Google Cloud Run / Knative
	"FUNCTION_TARGET",          // Google Cloud Functions
	"FUNCTIONS_WORKER_RUNTIME", // Azure Functions
	"CF_PAGES",                 // Cloudflare Pages
	"RAILWAY_ENVIRONMENT",      // Railway
}

// ErrServerlessLocalStorage — локальное хранилище выбрано в serverless-окружении.
var ErrServerlessLocalStorage = errors.New("локальное хранилище недопустимо в serverless-окружении")

// LookupFunc — источник переменных окружения (os.LookupEnv или подмена в тестах).
type LookupFunc func(key string) (string, bool)

// Detect возвращает имена обнаруженных маркеров в порядке Markers.
// Маркер считается обнаруженным, если переменная задана и не пуста.
func Detect(lookup LookupFunc) []string {
	var found []string
	for _, m := range Markers {
		if v, ok := lookup(m); ok && strings.TrimSpace(v) != "" {
			found = append(found, m)
		}
	}
	return found
}

// CheckLocalStorage возвращает ошибку, если обнаружен хотя бы один маркер.
// detected — результат Detect, сохранённый при загрузке конфигурации.
func CheckLocalStorage(detected []string) error {
	if len(detected) == 0 {
		return nil
	}
	return fmt.Errorf(
		"%w: STORAGE_PROVIDER=local, обнаружены переменные %s — файлы не сохранятся между вызовами, "+
			"используйте облачный провайдер (gcp, s3, r2, azure)",
		ErrServerlessLocalStorage, strings.Join(detected, ", "),
	)
}
