// ABOUTME: slog setup for the odoo-bridge binary: colorized text or JSON
// ABOUTME: Output goes to a caller-chosen writer so the stdio transport can keep stdout clean

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/odoo-bridge/internal/config"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{mu: &sync.Mutex{}, out: w, level: level}
	}
	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Handlers derived with WithAttrs or WithGroup share the parent's lock.
// attrs hold keys already qualified by the groups open when they were added.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	writeAttr := func(a slog.Attr) {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(h.qualify(a))
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprint(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, h.qualify(a))
	}
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: h.attrs, groups: newGroups}
}

func (h *colorHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}
