package calendar

import (
	"fmt"
	"time"
)

var ruWeekdays = map[time.Weekday]string{
	time.Monday:    "Понедельник",
	time.Tuesday:   "Вторник",
	time.Wednesday: "Среда",
	time.Thursday:  "Четверг",
	time.Friday:    "Пятница",
	time.Saturday:  "Суббота",
	time.Sunday:    "Воскресенье",
}

// FormatSlot форматирует слот в человекочитаемую строку для уведомлений.
// Если loc != nil, время переводится в указанный часовой пояс.
func FormatSlot(s TimeSlot, loc *time.Location) string {
	start := s.Start
	end := s.End()

	if loc != nil {
		start = start.In(loc)
		end = end.In(loc)
	}

	return fmt.Sprintf("%s, %s, %s–%s",
		ruWeekdays[start.Weekday()],
		start.Format("02.01.2006"),
		start.Format("15:04"),
		end.Format("15:04"),
	)
}
