package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidWindow    = errors.New("invalid operating window")
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	ErrUnknownPattern   = errors.New("unknown repetition pattern")
	ErrRangeTooLong     = errors.New("date range is too long")
)

// MaxRangeDays ограничивает длину диапазона для RangeSlots.
const MaxRangeDays = 366

// slotKeyLayout: каноническое представление начала слота: UTC с точностью до минуты.
const slotKeyLayout = "2006-01-02T15:04Z"

// Window описывает ежедневное рабочее окно [OpenHour, CloseHour) в часовом поясе Location.
type Window struct {
	OpenHour     int
	CloseHour    int
	SlotDuration time.Duration
	Location     *time.Location
}

// DefaultWindow: 08:00–17:00, слоты по 60 минут.
func DefaultWindow(loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	return Window{OpenHour: 8, CloseHour: 17, SlotDuration: time.Hour, Location: loc}
}

func (w Window) Validate() error {
	if w.OpenHour < 0 || w.CloseHour > 24 || w.OpenHour >= w.CloseHour {
		return fmt.Errorf("%w: %d..%d", ErrInvalidWindow, w.OpenHour, w.CloseHour)
	}
	if w.SlotDuration < time.Minute || w.SlotDuration%time.Minute != 0 {
		return fmt.Errorf("%w: slot duration %v", ErrInvalidWindow, w.SlotDuration)
	}
	return nil
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// SlotsPerDay: сколько целых слотов помещается в окно.
func (w Window) SlotsPerDay() int {
	if w.SlotDuration <= 0 {
		return 0
	}
	return int(time.Duration(w.CloseHour-w.OpenHour) * time.Hour / w.SlotDuration)
}

// TimeSlot: интервал [Start, Start+Duration). Отдельно не хранится.
type TimeSlot struct {
	Start    time.Time
	Duration time.Duration
}

func (s TimeSlot) End() time.Time {
	return s.Start.Add(s.Duration)
}

func (s TimeSlot) Key() string {
	return SlotKey(s.Start)
}

// NormalizeSlotTime приводит момент к UTC и отбрасывает секунды и доли секунды.
func NormalizeSlotTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// SlotKey возвращает канонический ключ слота. Моменты, различающиеся
// только секундами, дают один и тот же ключ.
func SlotKey(t time.Time) string {
	return NormalizeSlotTime(t).Format(slotKeyLayout)
}

// IsMinuteAligned сообщает, что у момента нет секунд и долей секунды.
func IsMinuteAligned(t time.Time) bool {
	return t.Equal(t.Truncate(time.Minute))
}

// DailySlots возвращает упорядоченные слоты рабочего окна для даты date.
// Используется только календарная дата в часовом поясе окна.
func DailySlots(w Window, date time.Time) []TimeSlot {
	loc := w.loc()
	y, m, d := date.In(loc).Date()

	step := int(w.SlotDuration / time.Minute)
	if step <= 0 {
		return nil
	}
	total := (w.CloseHour - w.OpenHour) * 60

	slots := make([]TimeSlot, 0, total/step)
	for off := 0; off+step <= total; off += step {
		start := time.Date(y, m, d, w.OpenHour, off, 0, 0, loc)
		slots = append(slots, TimeSlot{Start: start, Duration: w.SlotDuration})
	}
	return slots
}

// Pattern: правило отбора дней недели.
type Pattern string

const (
	PatternDaily        Pattern = "daily"
	PatternWeekdaysOnly Pattern = "weekdaysOnly"
	PatternWeekendsOnly Pattern = "weekendsOnly"
)

func ParsePattern(s string) (Pattern, error) {
	switch Pattern(s) {
	case PatternDaily, PatternWeekdaysOnly, PatternWeekendsOnly:
		return Pattern(s), nil
	case "":
		return PatternDaily, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPattern, s)
	}
}

// Matches сообщает, попадает ли день недели под правило.
func (p Pattern) Matches(wd time.Weekday) bool {
	weekend := wd == time.Saturday || wd == time.Sunday
	switch p {
	case PatternWeekdaysOnly:
		return !weekend
	case PatternWeekendsOnly:
		return weekend
	default:
		return true
	}
}

// TimeOfDay: время суток без даты.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay разбирает строку вида "ЧЧ:ММ". "24:00" допустимо как конец дня.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(mm) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	tod := TimeOfDay{Hour: h, Minute: m}
	if tod.Hour < 0 || tod.Minute < 0 || tod.Minute > 59 || tod.Minutes() > 24*60 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return tod, nil
}

func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

var (
	StartOfDay = TimeOfDay{}
	EndOfDay   = TimeOfDay{Hour: 24}
)

// RangeSlots возвращает слоты всех дней диапазона [start, end] (включительно),
// подходящих под pattern. Перепутанные границы меняются местами.
func RangeSlots(w Window, start, end time.Time, pattern Pattern) ([]TimeSlot, error) {
	return RangeSlotsBetween(w, start, end, StartOfDay, EndOfDay, pattern)
}

// RangeSlotsBetween: как RangeSlots, но оставляет только слоты,
// начинающиеся в [from, to) по местному времени. Результат без дублей и по возрастанию.
func RangeSlotsBetween(w Window, start, end time.Time, from, to TimeOfDay, pattern Pattern) ([]TimeSlot, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParsePattern(string(pattern)); err != nil {
		return nil, err
	}
	if from.Minutes() >= to.Minutes() {
		return nil, fmt.Errorf("%w: %s..%s", ErrInvalidTimeOfDay, from, to)
	}

	loc := w.loc()
	first := dateOnly(start.In(loc))
	last := dateOnly(end.In(loc))
	if last.Before(first) {
		first, last = last, first
	}
	if daysBetween(first, last) >= MaxRangeDays {
		return nil, fmt.Errorf("%w: %s..%s", ErrRangeTooLong, first.Format(time.DateOnly), last.Format(time.DateOnly))
	}

	seen := make(map[string]struct{})
	var out []TimeSlot
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if !pattern.Matches(day.Weekday()) {
			continue
		}
		for _, s := range DailySlots(w, day) {
			m := s.Start.Hour()*60 + s.Start.Minute()
			if m < from.Minutes() || m >= to.Minutes() {
				continue
			}
			if _, dup := seen[s.Key()]; dup {
				continue
			}
			seen[s.Key()] = struct{}{}
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func daysBetween(a, b time.Time) int {
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	ua := time.Date(ya, ma, da, 0, 0, 0, 0, time.UTC)
	ub := time.Date(yb, mb, db, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}
