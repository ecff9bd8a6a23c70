package core

// StepperBackend is the output stage for one stepper driver.
// Implementations can use GPIO, PIO, or other methods. Step and SetDirection
// are called from the step interrupt and must not block.
type StepperBackend interface {
	// Step generates a single step pulse
	// Must handle pulse width timing internally
	Step()

	// SetDirection sets the direction output
	// dir: true = reverse, false = forward
	// Must ensure proper dir-to-step setup time
	SetDirection(dir bool)

	// Enable energises the driver
	Enable()

	// Disable de-energises the driver
	Disable()

	// Stop immediately halts stepping and discards queued pulses
	Stop()

	// GetName returns backend implementation name
	GetName() string
}

// CountingBackend is a StepperBackend that only tracks position.
// Host builds use it in place of real step pins.
type CountingBackend struct {
	Name     string
	Position int64
	Steps    uint64
	Reverse  bool
	Enabled  bool
	Stops    int
}

func (c *CountingBackend) Step() {
	c.Steps++
	if c.Reverse {
		c.Position--
	} else {
		c.Position++
	}
}

func (c *CountingBackend) SetDirection(dir bool) { c.Reverse = dir }
func (c *CountingBackend) Enable()               { c.Enabled = true }
func (c *CountingBackend) Disable()              { c.Enabled = false }
func (c *CountingBackend) Stop()                 { c.Stops++ }

func (c *CountingBackend) GetName() string {
	if c.Name == "" {
		return "counting"
	}
	return c.Name
}
