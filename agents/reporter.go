package agents

import (
	"errors"
	"sync"

	receiver "github.com/bt-bridge/xr-receiver"
	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/goccy/go-yaml"
)

// ConsoleReporter prints every published status through a Printer.
type ConsoleReporter struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer

	mu    sync.Mutex
	last  receiver.Status
	count int
}

var _ receiver.StatusReporter = (*ConsoleReporter)(nil)

func NewConsoleReporter(logger shared.LoggerAdapter, printer *shared.Printer) (*ConsoleReporter, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	return &ConsoleReporter{logger: logger, printer: printer}, nil
}

func (r *ConsoleReporter) Publish(s receiver.Status) {
	r.mu.Lock()
	r.last = s
	r.count++
	r.mu.Unlock()

	if err := r.printer.Writeln("🪪 "+s.Identity, 0); err != nil {
		r.logger.Error("printing identity", err)
	}
	if s.Link != "" {
		if err := r.printer.Writeln("🔗 "+s.Link, 1); err != nil {
			r.logger.Error("printing link", err)
		}
	}
	if s.Hint != "" {
		if err := r.printer.Writeln("💬 "+s.Hint, 1); err != nil {
			r.logger.Error("printing hint", err)
		}
	}
}

func (r *ConsoleReporter) Last() receiver.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *ConsoleReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// PrintSnapshot writes snap as an indented YAML block.
func PrintSnapshot(printer *shared.Printer, snap receiver.Snapshot) error {
	out, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}
	if err := printer.Writeln("📋 Session", 0); err != nil {
		return err
	}
	return printer.Write(string(out), 1)
}
