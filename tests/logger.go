package testutil

import (
	"sync"

	"github.com/trezcool/phqcare/core"
)

// Logger records logged messages.
type Logger struct {
	mu       sync.Mutex
	Messages []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, msg)
}

func (l *Logger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Messages)
}

func (l *Logger) Debug(msg string, _ ...interface{}) { l.log(msg) }
func (l *Logger) Info(msg string, _ ...interface{})  { l.log(msg) }
func (l *Logger) Warn(msg string, _ ...interface{})  { l.log(msg) }
func (l *Logger) Error(msg string, _ ...interface{}) { l.log(msg) }
func (l *Logger) Fatal(msg string, _ ...interface{}) { l.log(msg) }
