package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"stepcore/movement"
)

// ErrTooManyAxes is returned when more axis letters are given than drivers
var ErrTooManyAxes = errors.New("gcode: more axes than drivers")

// ActionKind says what an Action asks of the motion core
type ActionKind int

const (
	ActionMove ActionKind = iota
	ActionSetPosition
)

// Action is one motion core call produced from a G-code line
type Action struct {
	Kind     ActionKind
	Request  movement.MoveRequest         // ActionMove
	Position [movement.MaxDrivers]float64 // ActionSetPosition
	Line     int
}

// Translator tracks modal state (G90/G91, M82/M83, feed rate) and emits
// actions. Axis letters map to driver indices in the order given.
type Translator struct {
	axes        []byte
	extruder    int // index of 'E' in axes, -1 if none
	absolute    bool
	relExtruder bool
	feed        float64 // mm/s
	position    [movement.MaxDrivers]float64
}

// NewTranslator creates a translator for axis letters such as "XYZE".
// defaultFeed is in mm/s.
func NewTranslator(axes string, defaultFeed float64) (*Translator, error) {
	if len(axes) > movement.MaxDrivers {
		return nil, ErrTooManyAxes
	}
	t := &Translator{
		axes:     []byte(strings.ToUpper(axes)),
		extruder: strings.IndexByte(strings.ToUpper(axes), 'E'),
		absolute: true,
		feed:     defaultFeed,
	}
	return t, nil
}

// Position returns the last commanded position
func (t *Translator) Position() [movement.MaxDrivers]float64 {
	return t.position
}

// Translate converts one command. Commands that do not move return nil.
func (t *Translator) Translate(cmd *Command) (*Action, error) {
	if cmd == nil {
		return nil, nil
	}

	switch cmd.Type {
	case 'G':
		switch cmd.Number {
		case 0, 1:
			return t.linearMove(cmd)
		case 90:
			t.absolute = true
		case 91:
			t.absolute = false
		case 92:
			return t.setPosition(cmd), nil
		}
	case 'M':
		switch cmd.Number {
		case 82:
			t.relExtruder = false
		case 83:
			t.relExtruder = true
		}
	}
	return nil, nil
}

func (t *Translator) linearMove(cmd *Command) (*Action, error) {
	if cmd.HasParameter('F') {
		f := cmd.GetParameter('F', 0) / 60.0 // mm/min to mm/s
		if f <= 0 {
			return nil, &SyntaxError{Line: cmd.Line, Msg: "feed rate must be positive"}
		}
		t.feed = f
	}

	target := t.position
	moved := false
	for i, letter := range t.axes {
		if !cmd.HasParameter(letter) {
			continue
		}
		v := cmd.GetParameter(letter, 0)
		relative := !t.absolute
		if i == t.extruder {
			relative = relative || t.relExtruder
		}
		if relative {
			target[i] += v
		} else {
			target[i] = v
		}
		if math.Abs(target[i]-t.position[i]) > 1e-9 {
			moved = true
		}
	}
	if !moved {
		return nil, nil
	}

	t.position = target
	return &Action{
		Kind: ActionMove,
		Request: movement.MoveRequest{
			Target:      target,
			FeedRate:    t.feed,
			Coordinated: true,
		},
		Line: cmd.Line,
	}, nil
}

// MoveTo emits an absolute move outside of any G-code modal state.
// A target equal to the current position returns nil.
func (t *Translator) MoveTo(target [movement.MaxDrivers]float64, feed float64) *Action {
	if target == t.position {
		return nil
	}
	t.position = target
	return &Action{
		Kind: ActionMove,
		Request: movement.MoveRequest{
			Target:      target,
			FeedRate:    feed,
			Coordinated: true,
		},
	}
}

func (t *Translator) setPosition(cmd *Command) *Action {
	for i, letter := range t.axes {
		if cmd.HasParameter(letter) {
			t.position[i] = cmd.GetParameter(letter, 0)
		}
	}
	return &Action{Kind: ActionSetPosition, Position: t.position, Line: cmd.Line}
}

// ReadProgram parses and translates every line of r
func ReadProgram(r io.Reader, t *Translator) ([]Action, error) {
	var actions []Action
	parser := NewParser()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd, err := parser.ParseLine(scanner.Text())
		if err != nil {
			return actions, err
		}
		action, err := t.Translate(cmd)
		if err != nil {
			return actions, err
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}
	if err := scanner.Err(); err != nil {
		return actions, fmt.Errorf("read gcode: %w", err)
	}
	return actions, nil
}
