// Package dispatch executes bulk state changes against openHAB items on
// behalf of the agent.
package dispatch

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/nugget/thane-openhab/internal/events"
	"github.com/nugget/thane-openhab/internal/tools"
)

// Function names advertised to the agent.
const (
	FuncUpdateSwitches = "update_switchs"
	FuncUpdateShutters = "update_shutters"
)

// Result texts returned to the agent.
const (
	ResultDone       = "Done."
	ResultInProgress = "In progress."
	errorPrefix      = "Error: "
)

// ActionStop is the only shutter verb that completes immediately.
const ActionStop = "stop"

//go:embed functions/*.json
var functionFS embed.FS

// Commander sends a single command to an item.
type Commander interface {
	SendCommand(ctx context.Context, item, command string) error
}

// Dispatcher applies one action to many items, one at a time.
type Dispatcher struct {
	commander Commander
	limiter   *rate.Limiter
	logger    *slog.Logger
	events    *events.Bus
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRate paces commands at perSecond with the given burst. A
// non-positive rate leaves commands unpaced.
func WithRate(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithEvents publishes a command_sent or command_failed event for every
// item command.
func WithEvents(bus *events.Bus) Option {
	return func(d *Dispatcher) { d.events = bus }
}

// New creates a dispatcher that sends commands through c.
func New(c Commander, opts ...Option) *Dispatcher {
	d := &Dispatcher{commander: c, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// UpdateSwitches sends action to every switch in ids. Switch commands
// complete synchronously, so success is always ResultDone.
func (d *Dispatcher) UpdateSwitches(ctx context.Context, action string, ids []string) (string, error) {
	if err := d.send(ctx, action, ids); err != nil {
		return "", err
	}
	return ResultDone, nil
}

// UpdateShutters sends action to every shutter in ids. Only a stop
// completes immediately; any other movement is reported as in progress.
func (d *Dispatcher) UpdateShutters(ctx context.Context, action string, ids []string) (string, error) {
	if err := d.send(ctx, action, ids); err != nil {
		return "", err
	}
	if action == ActionStop {
		return ResultDone, nil
	}
	return ResultInProgress, nil
}

// send issues the commands in order and stops at the first failure.
// Commands already accepted are not rolled back.
func (d *Dispatcher) send(ctx context.Context, action string, ids []string) error {
	command := strings.ToUpper(action)
	for i, id := range ids {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("wait to send %s to %s: %w", command, id, err)
			}
		}
		if err := d.commander.SendCommand(ctx, id, command); err != nil {
			d.logger.Warn("item command failed",
				"item", id,
				"command", command,
				"sent", i,
				"remaining", len(ids)-i,
				"error", err,
			)
			d.events.Emit(events.SourceDispatch, events.KindCommandFailed, map[string]any{
				"item":    id,
				"command": command,
				"error":   err.Error(),
			})
			return err
		}
		d.logger.Debug("item command sent", "item", id, "command", command)
		d.events.Emit(events.SourceDispatch, events.KindCommandSent, map[string]any{
			"item":    id,
			"command": command,
		})
	}
	return nil
}

// Register adds the agent-callable functions to reg. Handlers never
// return an error: failures are reported as "Error: <message>" text.
func (d *Dispatcher) Register(reg *tools.Registry) error {
	switches, err := SwitchesSchema()
	if err != nil {
		return err
	}
	shutters, err := ShuttersSchema()
	if err != nil {
		return err
	}

	reg.Register(&tools.Tool{Schema: switches, Handler: d.handler(d.UpdateSwitches), InvalidArgs: errorText})
	reg.Register(&tools.Tool{Schema: shutters, Handler: d.handler(d.UpdateShutters), InvalidArgs: errorText})
	return nil
}

type updateFunc func(ctx context.Context, action string, ids []string) (string, error)

func (d *Dispatcher) handler(fn updateFunc) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		action, err := tools.StringArg(args, "action")
		if err != nil {
			return errorText(err), nil
		}
		ids, err := tools.StringSliceArg(args, "ids")
		if err != nil {
			return errorText(err), nil
		}
		out, err := fn(ctx, action, ids)
		if err != nil {
			return errorText(err), nil
		}
		return out, nil
	}
}

func errorText(err error) string {
	return errorPrefix + err.Error()
}

// SwitchesSchema returns the update_switchs function schema.
func SwitchesSchema() (tools.Schema, error) {
	return loadSchema(FuncUpdateSwitches)
}

// ShuttersSchema returns the update_shutters function schema.
func ShuttersSchema() (tools.Schema, error) {
	return loadSchema(FuncUpdateShutters)
}

func loadSchema(name string) (tools.Schema, error) {
	data, err := functionFS.ReadFile("functions/" + name + ".json")
	if err != nil {
		return tools.Schema{}, fmt.Errorf("read %s schema: %w", name, err)
	}
	var s tools.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return tools.Schema{}, fmt.Errorf("parse %s schema: %w", name, err)
	}
	if s.Name != name {
		return tools.Schema{}, fmt.Errorf("parse %s schema: name is %q", name, s.Name)
	}
	return s, nil
}
