package calendar

import "time"

// Index: снимок занятых слотов. Строится заново на каждое изменение данных
// и после построения не меняется, поэтому безопасен для чтения из разных горутин.
type Index struct {
	window   Window
	occupied map[string]struct{}
}

// NewIndex строит индекс по моментам начала занятых слотов.
// Моменты нормализуются до минуты, поэтому расхождение в секундах не даёт ложного «свободно».
func NewIndex(w Window, occupied []time.Time) *Index {
	set := make(map[string]struct{}, len(occupied))
	for _, t := range occupied {
		set[SlotKey(t)] = struct{}{}
	}
	return &Index{window: w, occupied: set}
}

func (ix *Index) Window() Window {
	return ix.window
}

// OccupiedCount: размер множества занятых слотов.
func (ix *Index) OccupiedCount() int {
	return len(ix.occupied)
}

// IsSlotAvailable ложно тогда и только тогда, когда ключ слота есть среди занятых.
func (ix *Index) IsSlotAvailable(t time.Time) bool {
	_, taken := ix.occupied[SlotKey(t)]
	return !taken
}

// IsDaySelectable: прошедшие дни (раньше today по местной полуночи) недоступны;
// остальные недоступны, только если заняты все слоты DailySlots(date).
// Занятые моменты вне рабочего окна на результат не влияют.
func (ix *Index) IsDaySelectable(date, today time.Time) bool {
	loc := ix.window.loc()
	if dateOnly(date.In(loc)).Before(dateOnly(today.In(loc))) {
		return false
	}
	for _, s := range DailySlots(ix.window, date) {
		if ix.IsSlotAvailable(s.Start) {
			return true
		}
	}
	return false
}

// FreeSlots возвращает свободные слоты дня в порядке возрастания.
func (ix *Index) FreeSlots(date time.Time) []TimeSlot {
	var free []TimeSlot
	for _, s := range DailySlots(ix.window, date) {
		if ix.IsSlotAvailable(s.Start) {
			free = append(free, s)
		}
	}
	return free
}

// DayAvailability: сводка по одному дню месяца.
type DayAvailability struct {
	Date       time.Time
	Selectable bool
	FreeSlots  int
}

// MonthAvailability считает доступность каждого дня месяца, в который попадает month.
// Опорные даты передаются явно; глобального «текущего месяца» нет.
func MonthAvailability(ix *Index, month, today time.Time) []DayAvailability {
	loc := ix.window.loc()
	y, m, _ := month.In(loc).Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)

	var days []DayAvailability
	for day := first; day.Month() == m; day = day.AddDate(0, 0, 1) {
		days = append(days, DayAvailability{
			Date:       day,
			Selectable: ix.IsDaySelectable(day, today),
			FreeSlots:  len(ix.FreeSlots(day)),
		})
	}
	return days
}
