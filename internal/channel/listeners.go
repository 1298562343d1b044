// Package channel holds the chat platforms an agent can run on.
package channel

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"
)

// Command is a platform command served by the transport itself, outside
// the reply pipeline.
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args string) string
}

func findCommand(cmds []Command, name string) (Command, bool) {
	name = strings.TrimPrefix(name, "/")
	for _, c := range cmds {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// listeners is a registration-ordered set of callbacks.
type listeners[T any] struct {
	mu      sync.RWMutex
	nextID  int
	entries []listenerEntry[T]
}

type listenerEntry[T any] struct {
	id int
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) (remove func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// session tracks the done channel of the current connection.
type session struct {
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// begin starts a new connection and returns its done channel.
func (s *session) begin() {
	s.mu.Lock()
	s.done = make(chan struct{})
	s.closed = false
	s.mu.Unlock()
}

func (s *session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil && !s.closed {
		close(s.done)
		s.closed = true
	}
}

func (s *session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	return s.done
}

func (s *session) open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil && !s.closed
}

// splitMessage cuts msg into chunks of at most maxLen runes, preferring
// newline boundaries. Cuts never fall inside a character.
func splitMessage(msg string, maxLen int) []string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return []string{msg}
	}
	var chunks []string
	for msg != "" {
		if utf8.RuneCountInString(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		end := runeOffset(msg, maxLen)
		cut := end
		if idx := strings.LastIndex(msg[:end], "\n"); idx > end/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// fitMessage shortens msg to at most maxLen runes, ending it with an
// ellipsis when anything was dropped.
func fitMessage(msg string, maxLen int) string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return msg
	}
	return msg[:runeOffset(msg, maxLen-1)] + "…"
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	off := 0
	for i := 0; i < n && off < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}
