package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/session"
)

// Direction of a recorded payload.
const (
	TX = "tx" // Command sent to the device
	RX = "rx" // Line received from the device
)

// Logger records every command and received line to CSV files with
// automatic rotation.
type Logger struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool
	now     func() time.Time

	file   *os.File
	writer *csv.Writer
	path   string
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

const defaultMaxRows = 100_000

var csvHeader = []string{"timestamp", "session", "device", "direction", "payload"}

// New creates a new Logger. No file is created until the first record.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/hc06ctl"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Logger{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
		now:     time.Now,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the file currently being written, if any.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Observe records sent and line events. It is meant to be registered with
// session.Manager.OnEvent; other event types are ignored.
func (l *Logger) Observe(ev session.Event) {
	switch ev.Type {
	case session.EventSent:
		l.Record(ev.At, ev.SessionID, ev.Device, TX, ev.Payload)
	case session.EventLine:
		if ev.Line != nil {
			l.Record(ev.At, ev.SessionID, ev.Device, RX, ev.Line.Text)
		}
	}
}

// Record writes one traffic row.
func (l *Logger) Record(at time.Time, sessionID, device, direction, payload string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if at.IsZero() {
		at = l.now()
	}

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(l.now()); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	row := []string{at.Format(time.RFC3339Nano), sessionID, device, direction, payload}
	if err := l.writer.Write(row); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	path := filepath.Join(l.dir, fmt.Sprintf("hc06_%s.csv", now.Format("2006-01-02_150405.000")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.path = path
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.path = ""
}
