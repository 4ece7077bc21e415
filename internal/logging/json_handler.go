package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: jsonTopLevelAttr,
	})
}

// jsonTopLevelAttr renames ts, lowercases level and shortens source to
// file:line. Attributes nested in groups pass through.
func jsonTopLevelAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	value := attr.Value
	switch attr.Key {
	case slog.TimeKey:
		if value.Kind() != slog.KindTime {
			return slog.Attr{Key: "ts", Value: value}
		}
		return slog.String("ts", value.Time().UTC().Format(time.RFC3339Nano))
	case slog.LevelKey:
		return slog.String(slog.LevelKey, strings.ToLower(value.String()))
	case slog.SourceKey:
		src, ok := value.Any().(*slog.Source)
		if !ok || src == nil {
			return attr
		}
		return slog.String(slog.SourceKey, filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
	}
	return attr
}
