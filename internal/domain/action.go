package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ActionType is the kind of device-control instruction.
type ActionType string

const (
	ActionRotate ActionType = "rotate"
	ActionZoom   ActionType = "zoom"
	ActionFocus  ActionType = "focus"
	ActionReset  ActionType = "reset"
)

// Valid reports whether t is one of the four known action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionRotate, ActionZoom, ActionFocus, ActionReset:
		return true
	}
	return false
}

// Rotation directions.
const (
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Defaults applied when an instruction omits a parameter.
const (
	DefaultRotateAngle = 30
	DefaultZoomScale   = 1.5
	DefaultFocusTarget = "center"
)

// RotateParams are the parameters of a rotate action.
type RotateParams struct {
	Direction string `json:"direction"`
	Angle     int    `json:"angle"`
}

// ZoomParams are the parameters of a zoom action. Scale is the multiplier
// applied to the view: values below 1 shrink, above 1 enlarge.
type ZoomParams struct {
	Scale float64 `json:"scale"`
}

// ActionCommand is a structured device-control instruction. Exactly one of
// Rotate or Zoom is set for rotate and zoom actions; focus uses Target and
// reset carries nothing.
type ActionCommand struct {
	Type   ActionType
	Target string
	Rotate *RotateParams
	Zoom   *ZoomParams
}

// NewReset returns a reset command.
func NewReset() *ActionCommand {
	return &ActionCommand{Type: ActionReset}
}

// NewFocus returns a focus command for target.
func NewFocus(target string) *ActionCommand {
	return &ActionCommand{Type: ActionFocus, Target: target}
}

// NewRotate returns a rotate command.
func NewRotate(direction string, angle int) *ActionCommand {
	return &ActionCommand{Type: ActionRotate, Rotate: &RotateParams{Direction: direction, Angle: angle}}
}

// NewZoom returns a zoom command.
func NewZoom(scale float64) *ActionCommand {
	return &ActionCommand{Type: ActionZoom, Zoom: &ZoomParams{Scale: scale}}
}

// Params returns the loosely-typed parameter map sent over the wire.
func (a *ActionCommand) Params() map[string]any {
	switch a.Type {
	case ActionRotate:
		p := a.rotateParams()
		return map[string]any{"direction": p.Direction, "angle": p.Angle}
	case ActionZoom:
		return map[string]any{"scale": a.zoomParams().Scale}
	case ActionFocus:
		target := a.Target
		if target == "" {
			target = DefaultFocusTarget
		}
		return map[string]any{"target": target}
	default:
		return map[string]any{}
	}
}

func (a *ActionCommand) rotateParams() RotateParams {
	p := RotateParams{Direction: DirectionLeft, Angle: DefaultRotateAngle}
	if a.Rotate != nil {
		if a.Rotate.Direction != "" {
			p.Direction = a.Rotate.Direction
		}
		p.Angle = a.Rotate.Angle
	}
	return p
}

func (a *ActionCommand) zoomParams() ZoomParams {
	if a.Zoom == nil {
		return ZoomParams{Scale: DefaultZoomScale}
	}
	return *a.Zoom
}

// String renders the command for logs.
func (a *ActionCommand) String() string {
	switch a.Type {
	case ActionRotate:
		p := a.rotateParams()
		return fmt.Sprintf("rotate(%s,%d)", p.Direction, p.Angle)
	case ActionZoom:
		return fmt.Sprintf("zoom(%g)", a.zoomParams().Scale)
	case ActionFocus:
		return fmt.Sprintf("focus(%s)", a.Target)
	default:
		return string(a.Type)
	}
}

type wireAction struct {
	Type   string         `json:"type"`
	Target string         `json:"target,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// MarshalJSON encodes the command as {type, target?, params?}.
func (a *ActionCommand) MarshalJSON() ([]byte, error) {
	w := wireAction{Type: string(a.Type), Target: a.Target}
	if a.Type == ActionRotate || a.Type == ActionZoom {
		w.Params = a.Params()
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. Unknown types are rejected.
func (a *ActionCommand) UnmarshalJSON(data []byte) error {
	var w wireAction
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	cmd, err := fromWire(w)
	if err != nil {
		return err
	}
	*a = *cmd
	return nil
}

// ParseActionCommand decodes a remote-supplied action. It returns nil when
// the payload is empty, malformed or names an unknown action type.
func ParseActionCommand(raw json.RawMessage) *ActionCommand {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil
	}
	var cmd ActionCommand
	if err := json.Unmarshal(trimmed, &cmd); err != nil {
		return nil
	}
	return &cmd
}

func fromWire(w wireAction) (*ActionCommand, error) {
	t := ActionType(strings.ToLower(strings.TrimSpace(w.Type)))
	if !t.Valid() {
		return nil, fmt.Errorf("unknown action type %q", w.Type)
	}

	cmd := &ActionCommand{Type: t, Target: w.Target}
	switch t {
	case ActionRotate:
		p := RotateParams{Direction: DirectionLeft, Angle: DefaultRotateAngle}
		if d, ok := w.Params["direction"].(string); ok && d != "" {
			p.Direction = d
		}
		if n, ok := numberParam(w.Params["angle"]); ok {
			p.Angle = int(n)
		}
		cmd.Rotate = &p
	case ActionZoom:
		p := ZoomParams{Scale: DefaultZoomScale}
		if n, ok := numberParam(w.Params["scale"]); ok {
			p.Scale = n
		}
		cmd.Zoom = &p
	case ActionFocus:
		if cmd.Target == "" {
			if target, ok := w.Params["target"].(string); ok {
				cmd.Target = target
			}
		}
	}
	return cmd, nil
}

func numberParam(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
