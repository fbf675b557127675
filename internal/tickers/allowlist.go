package tickers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// AllowList is the immutable set of symbols eligible for reporting.
// The zero value and a nil *AllowList are both empty.
type AllowList struct {
	symbols map[string]struct{}
}

// NewAllowList builds a list from raw symbols, normalizing case and dropping blanks.
func NewAllowList(symbols ...string) *AllowList {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = Normalize(s)
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	return &AllowList{symbols: set}
}

// ReadAllowList parses one symbol per non-empty line. Lines starting with # are ignored.
func ReadAllowList(r io.Reader) (*AllowList, error) {
	var symbols []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allow-list: %w", err)
	}
	return NewAllowList(symbols...), nil
}

// LoadAllowList reads the allow-list file at path. A missing file yields an empty
// list and a warning, since analysis simply pauses until a list is supplied.
func LoadAllowList(path string) (*AllowList, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Allow-list file not found, ticker analysis will be skipped", "path", path)
			return NewAllowList(), nil
		}
		return nil, fmt.Errorf("open allow-list %s: %w", path, err)
	}
	defer f.Close()

	list, err := ReadAllowList(f)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded ticker allow-list", "path", path, "symbols", list.Len())
	return list, nil
}

// Contains reports whether the normalized symbol is allowed.
func (a *AllowList) Contains(symbol string) bool {
	if a == nil {
		return false
	}
	_, ok := a.symbols[Normalize(symbol)]
	return ok
}

// Len returns the number of symbols.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.symbols)
}

// Empty reports whether no symbol is allowed.
func (a *AllowList) Empty() bool {
	return a.Len() == 0
}
