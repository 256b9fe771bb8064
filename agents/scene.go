package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	receiver "github.com/bt-bridge/xr-receiver"
	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/bt-bridge/xr-receiver/signaling"
	"github.com/bt-bridge/xr-receiver/tools"
	"go.uber.org/zap"
)

// Trigger is a command the host scene forwards to the session manager.
type Trigger string

const (
	TriggerStart  Trigger = "start"
	TriggerToggle Trigger = "toggle"
	TriggerEnter  Trigger = "enter"
	TriggerExit   Trigger = "exit"
	TriggerStatus Trigger = "status"
	TriggerQuit   Trigger = "quit"
)

var triggerAliases = map[string]Trigger{
	"start":  TriggerStart,
	"s":      TriggerStart,
	"toggle": TriggerToggle,
	"t":      TriggerToggle,
	"enter":  TriggerEnter,
	"vr":     TriggerEnter,
	"exit":   TriggerExit,
	"status": TriggerStatus,
	"?":      TriggerStatus,
	"quit":   TriggerQuit,
	"q":      TriggerQuit,
}

func ParseTrigger(s string) (Trigger, error) {
	t, ok := triggerAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown command %q", strings.TrimSpace(s))
	}
	return t, nil
}

// SceneAgent stands in for the host scene: it owns the two display planes,
// wires the camera, signaling and peer factory into a session manager and
// forwards user triggers to it.
type SceneAgent struct {
	logger   shared.LoggerAdapter
	printer  *shared.Printer
	manager  *receiver.Manager
	remote   *VideoPlane
	fallback *VideoPlane
	reporter *ConsoleReporter

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	runErr error
}

func (a *SceneAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *shared.Config,
	printer *shared.Printer,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning scene agent")
	if err := a.printer.Writeln("🥽 Spawning XR receiver...\n", 0); err != nil {
		a.logger.Error("printing spawning message", err)
	}

	// Printing config
	out, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := a.printer.Writeln("📋 Config", 0); err != nil {
		a.logger.Error("printing config header", err)
	}
	if err := a.printer.Write(string(out), 1); err != nil {
		a.logger.Error("printing config", err)
	}

	// Signaling and peer factory. Either missing leaves the session
	// unavailable; start then reports the error on screen.
	var sig receiver.Signaling
	client, err := signaling.New(logger.With(zap.String("component", "signaling")), cfg.Signaling)
	if err != nil {
		a.logger.Error("creating signaling client", err)
	} else {
		sig = client
	}
	newPeer, err := receiver.NewPeerFactory(logger.With(zap.String("component", "peer")), cfg.WebRTC)
	if err != nil {
		a.logger.Error("creating peer factory", err)
	}

	// Local camera for the fallback plane
	var camera receiver.CameraSource
	cam, err := tools.NewCamera(logger.With(zap.String("component", "camera")), cfg.Camera)
	if err != nil {
		a.logger.Error("creating camera", err)
	} else {
		camera = cam
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.remote = NewVideoPlane(runCtx, logger, "remote")
	a.fallback = NewVideoPlane(runCtx, logger, "fallback")
	a.reporter, err = NewConsoleReporter(logger.With(zap.String("component", "reporter")), printer)
	if err != nil {
		cancel()
		return err
	}

	a.manager, err = receiver.NewManager(logger.With(zap.String("component", "session")), receiver.ManagerOptions{
		Remote:    a.remote,
		Fallback:  a.fallback,
		Camera:    camera,
		Signaling: sig,
		NewPeer:   newPeer,
		Reporter:  a.reporter,
		Config: receiver.ManagerConfig{
			BaseURL:       cfg.Share.BaseURL,
			OpenTimeout:   cfg.Signaling.OpenTimeout.Std(),
			AnswerTimeout: cfg.Signaling.AnswerTimeout.Std(),
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("creating session manager: %w", err)
	}

	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		err := a.manager.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		a.mu.Lock()
		a.runErr = err
		a.mu.Unlock()
		a.remote.Close()
		a.fallback.Close()
		a.logger.Info("scene agent stopped")
	}()

	if err := a.printer.Writeln("✅ Ready. Commands: start, toggle, enter, exit, status, quit\n", 0); err != nil {
		a.logger.Error("printing ready message", err)
	}
	return nil
}

// Trigger forwards t to the session manager.
func (a *SceneAgent) Trigger(t Trigger) error {
	if a.manager == nil {
		return errors.New("scene agent not spawned")
	}
	switch t {
	case TriggerStart:
		return a.manager.Start()
	case TriggerToggle:
		return a.manager.Toggle()
	case TriggerEnter:
		return a.manager.ImmersiveEnter()
	case TriggerExit:
		return a.manager.ImmersiveExit()
	case TriggerStatus:
		return a.PrintStatus()
	case TriggerQuit:
		return a.Close()
	default:
		return fmt.Errorf("unknown trigger %q", t)
	}
}

func (a *SceneAgent) PrintStatus() error {
	if err := PrintSnapshot(a.printer, a.manager.Snapshot()); err != nil {
		return err
	}
	return a.printer.Writeln(fmt.Sprintf("🎞️  remote frames: %d", a.remote.Frames()), 1)
}

func (a *SceneAgent) Snapshot() receiver.Snapshot {
	return a.manager.Snapshot()
}

func (a *SceneAgent) Done() <-chan struct{} {
	return a.done
}

// Err is the error Run stopped with, if any.
func (a *SceneAgent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runErr
}

func (a *SceneAgent) Close() error {
	if a.manager == nil {
		return nil
	}
	err := a.manager.Close()
	a.cancel()
	return err
}
