package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Line is a single log entry as shown to an operator
type Line struct {
	Time    time.Time
	Level   zapcore.Level
	Logger  string
	Message string
	Fields  map[string]any
}

// String formats the Line like "15:04:05 INFO movement: finished progress=1"
func (l Line) String() string {
	var sb strings.Builder
	sb.WriteString(l.Time.Format("15:04:05"))
	sb.WriteString(" ")
	sb.WriteString(l.Level.CapitalString())
	sb.WriteString(" ")
	if l.Logger != "" {
		sb.WriteString(l.Logger)
		sb.WriteString(": ")
	}
	sb.WriteString(l.Message)

	keys := make([]string, 0, len(l.Fields))
	for k := range l.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, l.Fields[k])
	}

	return sb.String()
}

// Sink receives every Line written by a logger created with the Hub
type Sink func(Line)

// Hub fans log lines out to subscribed sinks
type Hub struct {
	mtx   sync.RWMutex
	sinks []Sink
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Subscribe(s Sink) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.sinks = append(h.sinks, s)
}

func (h *Hub) publish(l Line) {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	for _, s := range h.sinks {
		s(l)
	}
}

// observerCore wraps a zapcore.Core and publishes every entry it writes to a Hub
type observerCore struct {
	zapcore.Core
	hub    *Hub
	fields []zapcore.Field
}

func (c *observerCore) With(fields []zapcore.Field) zapcore.Core {
	return &observerCore{
		Core:   c.Core.With(fields),
		hub:    c.hub,
		fields: append(append([]zapcore.Field(nil), c.fields...), fields...),
	}
}

func (c *observerCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *observerCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	c.hub.publish(Line{
		Time:    entry.Time,
		Level:   entry.Level,
		Logger:  entry.LoggerName,
		Message: entry.Message,
		Fields:  enc.Fields,
	})

	return c.Core.Write(entry, fields)
}
