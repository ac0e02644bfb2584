package results

import (
	"log/slog"
	"strings"
)

// Open picks a backend from path: a ".db"/".sqlite" file or ":memory:" opens
// SQLite, anything else is treated as a Badger directory.
func Open(path string, logger *slog.Logger) (Store, error) {
	if path == ":memory:" || strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite") {
		return NewSQLiteStore(path)
	}
	return NewBadgerStore(path, logger)
}
