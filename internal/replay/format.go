package replay

import "fmt"

// FormatClock форматирует позицию в мс как "минуты:секунды"
// с секундами, дополненными нулём до двух цифр.
func FormatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	return fmt.Sprintf("%d:%02d", totalSeconds/60, totalSeconds%60)
}
