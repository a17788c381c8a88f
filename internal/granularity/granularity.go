// internal/granularity/granularity.go
package granularity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Granularity — гранулярность агрегации метрик устройства.
// Закрытое множество значений; Raw — сентинел «читать сырые сэмплы напрямую»,
// а не свечная гранулярность.
type Granularity string

const (
	Raw   Granularity = "raw"
	Min15 Granularity = "15min"
	Min30 Granularity = "30min"
	Hour1 Granularity = "1hour"
	Hour4 Granularity = "4hour"
	Day1  Granularity = "1day"
)

// ErrInvalid возвращается для значения вне перечисления.
var ErrInvalid = errors.New("granularity: invalid value")

// Aggregated перечисляет все свечные гранулярности в порядке возрастания окна.
func Aggregated() []Granularity {
	return []Granularity{Min15, Min30, Hour1, Hour4, Day1}
}

// Parse разбирает строковое представление гранулярности.
func Parse(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if err := g.Validate(); err != nil {
		return "", err
	}
	return g, nil
}

// Validate проверяет принадлежность значения закрытому перечислению.
func (g Granularity) Validate() error {
	switch g {
	case Raw, Min15, Min30, Hour1, Hour4, Day1:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalid, string(g))
}

// IsAggregated сообщает, является ли значение свечной гранулярностью.
func (g Granularity) IsAggregated() bool {
	return g != Raw && g.Validate() == nil
}

// Duration возвращает фиксированную длительность окна.
// Для Raw и неизвестных значений — ErrInvalid.
func (g Granularity) Duration() (time.Duration, error) {
	switch g {
	case Min15:
		return 15 * time.Minute, nil
	case Min30:
		return 30 * time.Minute, nil
	case Hour1:
		return time.Hour, nil
	case Hour4:
		return 4 * time.Hour, nil
	case Day1:
		return 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %q has no window duration", ErrInvalid, string(g))
}

func (g Granularity) String() string { return string(g) }
