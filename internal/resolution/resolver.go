// internal/resolution/resolver.go

// Пакет resolution вычисляет эффективную гранулярность чтения для оценки
// алерта. Исторически это выражалось декларативным join-представлением;
// здесь — чистая функция без I/O и побочных эффектов.
package resolution

import (
	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
)

// Unset — отсутствующее значение конфигурации (все три входа опциональны).
const Unset = granularity.Granularity("")

// Resolve возвращает первую заданную гранулярность в порядке приоритета:
// переопределение правила алерта → переопределение устройства →
// дефолт пользователя → Raw. Никогда не завершается ошибкой.
func Resolve(alertOverride, deviceOverride, userDefault granularity.Granularity) granularity.Granularity {
	for _, g := range [...]granularity.Granularity{alertOverride, deviceOverride, userDefault} {
		if g != Unset {
			return g
		}
	}
	return granularity.Raw
}
