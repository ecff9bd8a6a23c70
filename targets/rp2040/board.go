//go:build rp2040

package main

import (
	"machine"

	"stepcore/driver/tmc"
	"stepcore/movement"
)

// Board wiring: X, Y, Z, E on PIO0 state machines 0-3
var stepperPins = []StepperPins{
	{Name: "stepper_x", Step: machine.GPIO11, Dir: machine.GPIO10, Enable: machine.GPIO12},
	{Name: "stepper_y", Step: machine.GPIO6, Dir: machine.GPIO5, Enable: machine.GPIO7},
	{Name: "stepper_z", Step: machine.GPIO19, Dir: machine.GPIO28, Enable: machine.GPIO2},
	{Name: "extruder", Step: machine.GPIO14, Dir: machine.GPIO13, Enable: machine.GPIO15},
}

// Driver chip selects on SPI1, same order as stepperPins
var driverSelect = []machine.Pin{machine.GPIO9, machine.GPIO8, machine.GPIO3, machine.GPIO16}

var driverCurrent = tmc.Config{RunCurrent: 16, IdlePercent: 30, HoldDelay: 6}

func motionConfig() movement.Config {
	cfg := movement.DefaultConfig()
	cfg.Drivers = []movement.DriverConfig{
		{StepsPerMM: 80, MaxSpeed: 300, MaxAccel: 3000},
		{StepsPerMM: 80, MaxSpeed: 300, MaxAccel: 3000},
		{StepsPerMM: 400, MaxSpeed: 10, MaxAccel: 100},
		{StepsPerMM: 100, MaxSpeed: 50, MaxAccel: 3000},
	}
	cfg.KinematicsParams.Limits[0].Max = 220
	cfg.KinematicsParams.Limits[1].Max = 220
	cfg.KinematicsParams.Limits[2].Max = 250
	return cfg
}

// initDrivers sets up the TMC drivers. A driver that does not answer is
// reported and left out of current control.
func initDrivers() tmc.Group {
	bus := machine.SPI1
	bus.Configure(machine.SPIConfig{
		Frequency: 2000000,
		SCK:       machine.GPIO26,
		SDO:       machine.GPIO27,
		SDI:       machine.GPIO24,
		Mode:      3,
	})

	var group tmc.Group
	for _, cs := range driverSelect {
		cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
		cs.High()
		pin := cs
		d := tmc.New(bus, func(selected bool) { pin.Set(!selected) }, driverCurrent)
		if err := d.Configure(); err != nil {
			println("tmc:", err.Error())
			continue
		}
		group = append(group, d)
	}
	return group
}
