package domain

import "time"

// RangeSummary описывает состояние диапазона номеров по данным портала
// на момент одного опроса. Счётчики приходят независимо друг от друга,
// соотношение Count >= Paid порталом не гарантируется.
type RangeSummary struct {
	RangeName string  `json:"range_name"`
	RangeID   string  `json:"range_id"`
	Count     int     `json:"count"`
	Paid      int     `json:"paid"`
	Unpaid    int     `json:"unpaid"`
	Revenue   float64 `json:"revenue"`
}

// NumberRecord — активный номер внутри диапазона.
type NumberRecord struct {
	Number   string `json:"number"`
	NumberID string `json:"number_id"`
}

// MessageRecord — одно SMS, увиденное для номера. Стабильного ID у
// сообщения нет, идентичность позиционная: N-е по счёту сообщение номера.
type MessageRecord struct {
	ReceivedAt time.Time `json:"received_at"`
	Number     string    `json:"number"`
	RangeName  string    `json:"range"`
	Body       string    `json:"message"`
	Revenue    float64   `json:"revenue"`
}

// TrackedNumber — сохраняемое состояние номера внутри диапазона.
type TrackedNumber struct {
	NumberID     string   `json:"number_id"`
	Delivered    int      `json:"delivered"`
	LastMessages []string `json:"last_messages,omitempty"`
}

// RangeState — сохраняемый снимок диапазонов по имени.
type RangeState map[string]RangeSummary

// NumberState — сохраняемое состояние номеров: диапазон -> номер -> запись.
type NumberState map[string]map[string]TrackedNumber

// Clone возвращает глубокую копию, чтобы рабочая копия цикла не трогала
// сохранённое состояние до коммита.
func (s NumberState) Clone() NumberState {
	out := make(NumberState, len(s))
	for rangeName, numbers := range s {
		copied := make(map[string]TrackedNumber, len(numbers))
		for number, tracked := range numbers {
			copied[number] = tracked
		}
		out[rangeName] = copied
	}
	return out
}

// Tracked возвращает запись номера, если она есть.
func (s NumberState) Tracked(rangeName, number string) (TrackedNumber, bool) {
	numbers, ok := s[rangeName]
	if !ok {
		return TrackedNumber{}, false
	}
	tracked, ok := numbers[number]
	return tracked, ok
}

// SetTracked обновляет запись номера, создавая диапазон при необходимости.
func (s NumberState) SetTracked(rangeName, number string, tracked TrackedNumber) {
	numbers, ok := s[rangeName]
	if !ok {
		numbers = make(map[string]TrackedNumber)
		s[rangeName] = numbers
	}
	numbers[number] = tracked
}

// DateWindow — полуинтервал [From, To) для выборки статистики.
type DateWindow struct {
	From time.Time
	To   time.Time
}

// DayWindow строит окно от текущих суток до завтрашнего дня.
func DayWindow(now time.Time) DateWindow {
	return DateWindow{From: now, To: now.AddDate(0, 0, 1)}
}

// Snapshot — результат одного цикла выборки: список диапазонов за окно.
type Snapshot struct {
	Window DateWindow
	Ranges []RangeSummary
}

// RangeMatch — диапазон, найденный поиском в каталоге портала.
type RangeMatch struct {
	RangeName     string
	TerminationID string
}

// PanelOverview — сводка активных диапазонов панели.
type PanelOverview struct {
	TotalNumbers int
	Ranges       []RangeMatch
}

// RangeAssignment — запись реестра: кто какой диапазон занял.
type RangeAssignment struct {
	UserID        int64
	RangeName     string
	TerminationID string
	AddedAt       time.Time
}
