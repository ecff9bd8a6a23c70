package gcode

import (
	"errors"
	"strings"
	"testing"
)

func TestParseBasicCommands(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		input   string
		cmdType byte
		cmdNum  int
		params  map[byte]float64
	}{
		{
			input:   "G0 X10 Y20",
			cmdType: 'G',
			cmdNum:  0,
			params:  map[byte]float64{'X': 10, 'Y': 20},
		},
		{
			input:   "G1 X100.5 Y200.25 F3000",
			cmdType: 'G',
			cmdNum:  1,
			params:  map[byte]float64{'X': 100.5, 'Y': 200.25, 'F': 3000},
		},
		{
			input:   "N12 G1 X.5",
			cmdType: 'G',
			cmdNum:  1,
			params:  map[byte]float64{'X': 0.5},
		},
		{
			input:   "M83",
			cmdType: 'M',
			cmdNum:  83,
			params:  map[byte]float64{},
		},
		{
			input:   "G92 X0 Y0 Z0",
			cmdType: 'G',
			cmdNum:  92,
			params:  map[byte]float64{'X': 0, 'Y': 0, 'Z': 0},
		},
	}

	for _, test := range tests {
		cmd, err := parser.ParseLine(test.input)
		if err != nil {
			t.Errorf("Failed to parse '%s': %v", test.input, err)
			continue
		}
		if cmd == nil {
			t.Errorf("Got nil command for '%s'", test.input)
			continue
		}

		if cmd.Type != test.cmdType {
			t.Errorf("Expected type %c, got %c for '%s'", test.cmdType, cmd.Type, test.input)
		}
		if cmd.Number != test.cmdNum {
			t.Errorf("Expected number %d, got %d for '%s'", test.cmdNum, cmd.Number, test.input)
		}
		for param, value := range test.params {
			if !cmd.HasParameter(param) {
				t.Errorf("Missing parameter %c in '%s'", param, test.input)
			} else if cmd.GetParameter(param, 0) != value {
				t.Errorf("Expected %c=%f, got %c=%f in '%s'",
					param, value, param, cmd.GetParameter(param, 0), test.input)
			}
		}
	}
}

func TestParseNegativeNumbers(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("G1 X-10.5 Y-20")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.GetParameter('X', 0) != -10.5 {
		t.Errorf("Expected X=-10.5, got X=%f", cmd.GetParameter('X', 0))
	}
	if cmd.GetParameter('Y', 0) != -20 {
		t.Errorf("Expected Y=-20, got Y=%f", cmd.GetParameter('Y', 0))
	}
}

func TestParseComments(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{"; This is a comment", "G0 X10 ; Move to X10", "(This is a comment)"} {
		cmd, err := parser.ParseLine(line)
		if err != nil {
			t.Errorf("Failed to parse '%s': %v", line, err)
		}
		if cmd == nil || cmd.Comment == "" {
			t.Errorf("Expected comment for '%s'", line)
		}
	}
}

func TestParseLowercase(t *testing.T) {
	parser := NewParser()

	cmd, err := parser.ParseLine("g1 x10 y20")
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if cmd.Type != 'G' || cmd.Number != 1 {
		t.Errorf("Expected G1, got %c%d", cmd.Type, cmd.Number)
	}
	if cmd.GetParameter('X', 0) != 10 {
		t.Errorf("Expected X=10, got X=%f", cmd.GetParameter('X', 0))
	}
}

func TestParseEmptyLine(t *testing.T) {
	parser := NewParser()

	for _, line := range []string{"", "   \t"} {
		cmd, err := parser.ParseLine(line)
		if err != nil {
			t.Errorf("Empty line should not error: %v", err)
		}
		if cmd != nil {
			t.Errorf("Empty line should return nil command")
		}
	}
}

func TestParseErrors(t *testing.T) {
	parser := NewParser()
	parser.ParseLine("G28")

	_, err := parser.ParseLine("G1 X10 #")
	var syn *SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if syn.Line != 2 {
		t.Errorf("error line %d, want 2", syn.Line)
	}

	if _, err := parser.ParseLine("G X1"); err == nil {
		t.Error("expected error for missing command number")
	}
}

func TestTranslateModes(t *testing.T) {
	tr, err := NewTranslator("XYZE", 10)
	if err != nil {
		t.Fatal(err)
	}

	program := `
G1 X10 Y5 F1200
G91
G1 X5 E2
M83
G90
G1 E1
G92 X0 E0
G1 X0
G1 X3
`
	actions, err := ReadProgram(strings.NewReader(program), tr)
	if err != nil {
		t.Fatalf("ReadProgram failed: %v", err)
	}
	if len(actions) != 5 {
		t.Fatalf("got %d actions, want 5: %+v", len(actions), actions)
	}

	first := actions[0].Request
	if first.Target[0] != 10 || first.Target[1] != 5 || first.FeedRate != 20 || !first.Coordinated {
		t.Errorf("first move %+v", first)
	}

	second := actions[1].Request
	if second.Target[0] != 15 || second.Target[3] != 2 || second.FeedRate != 20 {
		t.Errorf("relative move %+v", second)
	}

	// M83 keeps E relative under G90
	third := actions[2].Request
	if third.Target[3] != 3 || third.Target[0] != 15 {
		t.Errorf("relative extrusion move %+v", third)
	}

	if actions[3].Kind != ActionSetPosition || actions[3].Position[0] != 0 || actions[3].Position[1] != 5 {
		t.Errorf("set position %+v", actions[3])
	}

	// G1 X0 after G92 X0 does not move
	if actions[4].Request.Target[0] != 3 || actions[4].Line != 10 {
		t.Errorf("last move %+v", actions[4])
	}
}

func TestTranslateRejectsBadFeed(t *testing.T) {
	tr, _ := NewTranslator("XY", 10)
	if _, err := ReadProgram(strings.NewReader("G1 X1 F0\n"), tr); err == nil {
		t.Error("expected error for zero feed")
	}
	if _, err := NewTranslator("XYZEABC", 10); !errors.Is(err, ErrTooManyAxes) {
		t.Errorf("expected ErrTooManyAxes, got %v", err)
	}
}
