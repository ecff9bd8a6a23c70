// Package sim runs motion jobs against the motion core on a virtual clock
package sim

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stepcore/host/gcode"
)

// Job is a YAML job file. Moves are applied after the G-code.
//
//	name: square
//	feed: 50
//	gcode: |
//	  G1 X10 F3000
//	moves:
//	  - {x: 10, y: 10}
//	  - {x: 0, y: 10, feed: 20}
type Job struct {
	Name      string    `yaml:"name"`
	Feed      float64   `yaml:"feed"` // mm/s
	GCode     string    `yaml:"gcode"`
	GCodeFile string    `yaml:"gcode_file"`
	Moves     []JobMove `yaml:"moves"`
}

// JobMove is an absolute target keyed by lower case axis letter
type JobMove map[string]float64

// LoadJob reads a job file
func LoadJob(path string) (*Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job: %w", err)
	}
	defer f.Close()

	job, err := ParseJob(f)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", path, err)
	}
	return job, nil
}

// ParseJob decodes a job, rejecting unknown keys
func ParseJob(r io.Reader) (*Job, error) {
	var job Job
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if job.Feed <= 0 {
		job.Feed = 25
	}
	return &job, nil
}

// Actions translates the job for the given axis letters (e.g. "XYZE")
func (j *Job) Actions(axes string) ([]gcode.Action, error) {
	tr, err := gcode.NewTranslator(axes, j.Feed)
	if err != nil {
		return nil, err
	}

	var actions []gcode.Action
	if j.GCodeFile != "" {
		f, err := os.Open(j.GCodeFile)
		if err != nil {
			return nil, fmt.Errorf("open gcode: %w", err)
		}
		acts, err := gcode.ReadProgram(f, tr)
		f.Close()
		if err != nil {
			return nil, err
		}
		actions = append(actions, acts...)
	}
	if j.GCode != "" {
		acts, err := gcode.ReadProgram(strings.NewReader(j.GCode), tr)
		if err != nil {
			return nil, err
		}
		actions = append(actions, acts...)
	}

	letters := strings.ToLower(axes)
	for i, mv := range j.Moves {
		target := tr.Position()
		feed := j.Feed
		for key, v := range mv {
			if key == "feed" {
				feed = v
				continue
			}
			idx := strings.Index(letters, strings.ToLower(key))
			if len(key) != 1 || idx < 0 {
				return nil, fmt.Errorf("move %d: unknown axis %q", i, key)
			}
			target[idx] = v
		}
		if action := tr.MoveTo(target, feed); action != nil {
			actions = append(actions, *action)
		}
	}
	return actions, nil
}
