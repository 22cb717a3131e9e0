package model

import (
	"encoding/json"
	"fmt"
)

// DiscountSet хранит упорядоченное множество идентификаторов скидок.
type DiscountSet struct {
	ids []string
}

// NewDiscountSet строит множество, отбрасывая повторы.
func NewDiscountSet(ids ...string) DiscountSet {
	var s DiscountSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Contains сообщает, входит ли id в множество.
func (s DiscountSet) Contains(id string) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Add добавляет id и возвращает true, если множество изменилось.
func (s *DiscountSet) Add(id string) bool {
	if s.Contains(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Remove удаляет id и возвращает true, если множество изменилось.
func (s *DiscountSet) Remove(id string) bool {
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i:i], s.ids[i+1:]...)
			return true
		}
	}
	return false
}

// Len возвращает размер множества.
func (s DiscountSet) Len() int {
	return len(s.ids)
}

// IDs возвращает копию идентификаторов в порядке добавления.
func (s DiscountSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

func (s DiscountSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *DiscountSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewDiscountSet(ids...)
	return nil
}

// Buckets содержит три списка скидок товара по этапам жизненного цикла.
// Инвариант: идентификатор скидки входит не более чем в один список.
type Buckets struct {
	Upcoming DiscountSet `json:"upcoming"`
	Ongoing  DiscountSet `json:"ongoing"`
	Expired  DiscountSet `json:"expired"`
}

// NewBuckets строит списки из трёх срезов, как они хранятся в базе.
func NewBuckets(upcoming, ongoing, expired []string) Buckets {
	return Buckets{
		Upcoming: NewDiscountSet(upcoming...),
		Ongoing:  NewDiscountSet(ongoing...),
		Expired:  NewDiscountSet(expired...),
	}
}

func (b *Buckets) bucket(status DiscountStatus) *DiscountSet {
	switch status {
	case DiscountUpcoming:
		return &b.Upcoming
	case DiscountOngoing:
		return &b.Ongoing
	case DiscountExpired:
		return &b.Expired
	}
	return nil
}

// Place кладёт скидку в список status, убирая её из остальных.
// Возвращает true, если списки изменились.
func (b *Buckets) Place(id string, status DiscountStatus) (bool, error) {
	target := b.bucket(status)
	if target == nil {
		return false, fmt.Errorf("unknown discount status %q", status)
	}
	changed := false
	for _, s := range []DiscountStatus{DiscountUpcoming, DiscountOngoing, DiscountExpired} {
		if s != status && b.bucket(s).Remove(id) {
			changed = true
		}
	}
	if target.Add(id) {
		changed = true
	}
	return changed, nil
}

// Remove убирает скидку из всех списков.
func (b *Buckets) Remove(id string) bool {
	changed := b.Upcoming.Remove(id)
	changed = b.Ongoing.Remove(id) || changed
	changed = b.Expired.Remove(id) || changed
	return changed
}

// StatusOf возвращает список, в котором находится скидка.
func (b Buckets) StatusOf(id string) (DiscountStatus, bool) {
	switch {
	case b.Upcoming.Contains(id):
		return DiscountUpcoming, true
	case b.Ongoing.Contains(id):
		return DiscountOngoing, true
	case b.Expired.Contains(id):
		return DiscountExpired, true
	}
	return "", false
}

// Validate проверяет инвариант исключительности списков.
func (b Buckets) Validate() error {
	seen := make(map[string]DiscountStatus)
	for _, s := range []DiscountStatus{DiscountUpcoming, DiscountOngoing, DiscountExpired} {
		for _, id := range b.bucket(s).ids {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("discount %s is in both %s and %s buckets", id, prev, s)
			}
			seen[id] = s
		}
	}
	return nil
}

// Clone возвращает независимую копию списков.
func (b Buckets) Clone() Buckets {
	return NewBuckets(b.Upcoming.IDs(), b.Ongoing.IDs(), b.Expired.IDs())
}
