// internal/aggregator/window.go
package aggregator

import (
	"time"
)

// window — полуинтервал [Start, End).
type window struct {
	Start time.Time
	End   time.Time
}

// anchorToHour возвращает начало часа, содержащего ts.
func anchorToHour(ts time.Time) time.Time {
	return ts.Truncate(time.Hour)
}

// windowsIn разбивает [rangeStart, rangeEnd) на последовательные окна длиной
// dur, выровненные по началу часа, содержащего rangeStart. Выравнивание
// одинаково для всех гранулярностей, включая 1day: суточные окна привязаны
// к часовой границе, а не к календарной полуночи.
//
// Повторный прогон с rangeStart, лежащим на границе окна предыдущего прогона,
// порождает те же самые окна: все границы кратны длительности окна от часовой
// отметки, поэтому пере-якорение стабильно.
func windowsIn(rangeStart, rangeEnd time.Time, dur time.Duration) []window {
	var out []window
	for ws := anchorToHour(rangeStart); ws.Before(rangeEnd); ws = ws.Add(dur) {
		we := ws.Add(dur)
		if !we.After(rangeStart) {
			// окно целиком до начала диапазона
			continue
		}
		out = append(out, window{Start: ws, End: we})
	}
	return out
}

// WindowStartAt возвращает начало окна гранулярности g, содержащего ts,
// при якоре по часу anchor'а. Используется планировщиком для вычисления
// чекпоинта: окно, в которое попадает «сейчас», ещё не закрыто и должно
// быть пересчитано следующим прогоном.
func WindowStartAt(anchor, ts time.Time, dur time.Duration) time.Time {
	base := anchorToHour(anchor)
	if ts.Before(base) {
		return base
	}
	k := ts.Sub(base) / dur
	return base.Add(k * dur)
}
