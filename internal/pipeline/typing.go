package pipeline

import "sync"

// TypingState tracks which chats currently show a typing indicator.
type TypingState struct {
	mu     sync.Mutex
	typing map[string]struct{}
}

func NewTypingState() *TypingState {
	return &TypingState{typing: make(map[string]struct{})}
}

// Set records the typing state of chat and reports whether it changed.
func (s *TypingState) Set(chat string, typing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, was := s.typing[chat]
	if was == typing {
		return false
	}
	if typing {
		s.typing[chat] = struct{}{}
	} else {
		delete(s.typing, chat)
	}
	return true
}

// IsTyping reports the current state of chat.
func (s *TypingState) IsTyping(chat string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.typing[chat]
	return ok
}
