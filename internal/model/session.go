package model

import (
	"time"
)

// Session хранит состояние корзины покупателя между запросами.
type Session struct {
	ID        string            `json:"id"`
	Items     []CartLine        `json:"items"`
	Values    map[string]string `json:"values,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`

	dirty bool
}

// NewSession создаёт пустую сессию с указанным идентификатором.
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		Values:    map[string]string{},
		UpdatedAt: time.Now().UTC(),
	}
}

// Lines возвращает копию позиций корзины.
func (s *Session) Lines() []CartLine {
	out := make([]CartLine, len(s.Items))
	copy(out, s.Items)
	return out
}

// GetLine возвращает позицию корзины по ключу.
func (s *Session) GetLine(key string) (CartLine, bool) {
	for _, l := range s.Items {
		if l.Key == key {
			return l, true
		}
	}
	return CartLine{}, false
}

// SetLine добавляет позицию или заменяет существующую с тем же ключом.
func (s *Session) SetLine(line CartLine) {
	s.markDirty()
	for i, l := range s.Items {
		if l.Key == line.Key {
			s.Items[i] = line
			return
		}
	}
	s.Items = append(s.Items, line)
}

// RemoveLine удаляет позицию корзины.
func (s *Session) RemoveLine(key string) {
	for i, l := range s.Items {
		if l.Key == key {
			s.Items = append(s.Items[:i], s.Items[i+1:]...)
			s.markDirty()
			return
		}
	}
}

// Clear очищает корзину, сохраняя остальные значения сессии.
func (s *Session) Clear() {
	s.Items = nil
	s.markDirty()
}

// GetSessionValue возвращает значение, сохранённое в сессии.
func (s *Session) GetSessionValue(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// SetSessionValue сохраняет значение в сессии.
func (s *Session) SetSessionValue(key, value string) {
	if s.Values == nil {
		s.Values = map[string]string{}
	}
	s.Values[key] = value
	s.markDirty()
}

// UnsetSessionValue удаляет значение из сессии.
func (s *Session) UnsetSessionValue(key string) {
	if _, ok := s.Values[key]; !ok {
		return
	}
	delete(s.Values, key)
	s.markDirty()
}

// Dirty сообщает, изменялась ли сессия после загрузки.
func (s *Session) Dirty() bool { return s.dirty }

func (s *Session) markDirty() {
	s.dirty = true
	s.UpdatedAt = time.Now().UTC()
}

// SessionID возвращает идентификатор сессии.
func (s *Session) SessionID() string { return s.ID }
