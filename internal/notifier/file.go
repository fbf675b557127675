package notifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

// File writes each report as a YAML document under dir.
type File struct {
	dir string
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

type fileReport struct {
	Name        string              `yaml:"name"`
	Window      string              `yaml:"window"`
	GeneratedAt time.Time           `yaml:"generated_at"`
	Commentary  string              `yaml:"commentary,omitempty"`
	Tickers     []models.TickerStat `yaml:"tickers"`
}

func (f *File) Name() string { return "file" }

// Emit writes <name>-<UTC timestamp>.yaml through a temp file and rename.
func (f *File) Emit(_ context.Context, report models.Report) error {
	doc := fileReport{
		Name:        report.Name,
		Window:      report.Window.String(),
		GeneratedAt: report.GeneratedAt.UTC(),
		Commentary:  report.Commentary,
		Tickers:     report.Ranked,
	}
	if doc.Tickers == nil {
		doc.Tickers = []models.TickerStat{}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	name := fmt.Sprintf("%s-%s.yaml", report.Name, report.GeneratedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(f.dir, name)

	tmp, err := os.CreateTemp(f.dir, ".report-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
