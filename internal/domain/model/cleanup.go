package model

import "fmt"

// CleanupStrategy — внешнее (конфигурационное) значение стратегии очистки
// просроченных signed URL.
type CleanupStrategy string

const (
	// CleanupLazy — удаление только как побочный эффект неудачного claim.
	CleanupLazy CleanupStrategy = "lazy"
	// CleanupCron — удаление по внешнему расписанию через cron endpoint.
	CleanupCron CleanupStrategy = "cron"
	// CleanupBoth — lazy + cron.
	CleanupBoth CleanupStrategy = "both"
	// CleanupDisabled — строки не удаляются вовсе.
	CleanupDisabled CleanupStrategy = "disabled"
)

// ParseCleanupStrategy разбирает строковое значение стратегии.
func ParseCleanupStrategy(s string) (CleanupStrategy, error) {
	switch CleanupStrategy(s) {
	case CleanupLazy, CleanupCron, CleanupBoth, CleanupDisabled:
		return CleanupStrategy(s), nil
	default:
		return "", fmt.Errorf("недопустимое значение %q, допустимые: lazy, cron, both, disabled", s)
	}
}

// SweepMode — внутренний режим удаления просроченных строк.
// Проверка срока при claim от режима не зависит и выполняется всегда.
type SweepMode int

const (
	// SweepNone — удаление отключено.
	SweepNone SweepMode = iota
	// SweepOnClaim — удаление при неудачном claim.
	SweepOnClaim
	// SweepScheduled — удаление по расписанию (cron endpoint, фоновый тикер).
	SweepScheduled
	// SweepBoth — оба варианта.
	SweepBoth
)

// String возвращает имя режима для логов.
func (m SweepMode) String() string {
	switch m {
	case SweepOnClaim:
		return "on_claim"
	case SweepScheduled:
		return "scheduled"
	case SweepBoth:
		return "both"
	default:
		return "none"
	}
}

// CleanupPolicy — две ортогональные настройки, выведенные из CleanupStrategy.
type CleanupPolicy struct {
	// EnforceExpiryOnClaim — всегда true: истёкший токен нельзя использовать.
	EnforceExpiryOnClaim bool
	// Sweep — режим физического удаления строк.
	Sweep SweepMode
}

// Policy преобразует внешнюю стратегию во внутреннюю политику.
func (s CleanupStrategy) Policy() CleanupPolicy {
	p := CleanupPolicy{EnforceExpiryOnClaim: true}
	switch s {
	case CleanupLazy:
		p.Sweep = SweepOnClaim
	case CleanupCron:
		p.Sweep = SweepScheduled
	case CleanupBoth:
		p.Sweep = SweepBoth
	default:
		p.Sweep = SweepNone
	}
	return p
}

// SweepsOnClaim — удалять ли просроченные строки при неудачном claim.
func (p CleanupPolicy) SweepsOnClaim() bool {
	return p.Sweep == SweepOnClaim || p.Sweep == SweepBoth
}

// SweepsScheduled — разрешено ли удаление по расписанию.
func (p CleanupPolicy) SweepsScheduled() bool {
	return p.Sweep == SweepScheduled || p.Sweep == SweepBoth
}

// SweepsOnDemand — разрешена ли ручная очистка администратором.
func (p CleanupPolicy) SweepsOnDemand() bool {
	return p.Sweep != SweepNone
}
