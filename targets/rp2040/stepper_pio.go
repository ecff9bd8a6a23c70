//go:build rp2040

package main

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// Command word format, shifted out LSB first:
//
//	Bits 0-15:  pulse count minus one
//	Bits 16-23: delay cycles between pulses
//	Bit 24:     direction (0=forward, 1=reverse)
func buildStepperProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // 1: out x, 16 (pulse count)
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // 2: out y, 8 (delay cycles)
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 3: out pins, 1 (direction)
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 4: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 5: set pins, 0
		// delay_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // 7: jmp x--, 4
		// .wrap
	}
}

// The program is shared by every state machine of a block
var programOffset = [2]int{-1, -1}

// PIOStepper drives step and direction pins from a PIO state machine.
// Each Step queues one pulse. When the TX FIFO is full the pulse is held in
// a backlog and merged into the next command, so Step never waits on the
// state machine.
type PIOStepper struct {
	name      string
	pio       *rp2pio.PIO
	sm        rp2pio.StateMachine
	stepPin   machine.Pin
	dirPin    machine.Pin
	enablePin machine.Pin
	direction bool

	backlog    uint16 // pulses not yet handed to the FIFO
	backlogDir bool
	dropped    uint32
}

// StepperPins is the wiring of one driver
type StepperPins struct {
	Name   string
	Step   machine.Pin
	Dir    machine.Pin
	Enable machine.Pin // active low, NoPin if hard wired
}

// NewPIOStepper claims state machine smNum of block pioNum for pins
func NewPIOStepper(pioNum, smNum uint8, pins StepperPins) (*PIOStepper, error) {
	pioHW := rp2pio.PIO0
	if pioNum == 1 {
		pioHW = rp2pio.PIO1
	}

	s := &PIOStepper{
		name:      pins.Name,
		pio:       pioHW,
		sm:        pioHW.StateMachine(smNum),
		stepPin:   pins.Step,
		dirPin:    pins.Dir,
		enablePin: pins.Enable,
	}
	s.sm.TryClaim()

	program := buildStepperProgram()
	if programOffset[pioNum] < 0 {
		offset, err := pioHW.AddProgram(program, 0)
		if err != nil {
			return nil, err
		}
		programOffset[pioNum] = int(offset)
	}
	offset := uint8(programOffset[pioNum])

	s.stepPin.Configure(machine.PinConfig{Mode: pioHW.PinMode()})
	s.dirPin.Configure(machine.PinConfig{Mode: pioHW.PinMode()})
	if s.enablePin != machine.NoPin {
		s.enablePin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		s.enablePin.High()
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(s.stepPin, 1)
	cfg.SetOutPins(s.dirPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(1000, 0)

	// Pin directions must be set after Init
	s.sm.Init(offset, cfg)
	s.sm.SetPindirsConsecutive(s.stepPin, 1, true)
	s.sm.SetPindirsConsecutive(s.dirPin, 1, true)
	s.sm.SetPinsConsecutive(s.stepPin, 1, false)
	s.sm.SetPinsConsecutive(s.dirPin, 1, false)
	s.sm.SetEnabled(true)

	return s, nil
}

// Step queues one pulse with the current direction
func (s *PIOStepper) Step() {
	s.flushBacklog()
	if s.backlog == 0 && !s.sm.IsTxFIFOFull() {
		s.sm.TxPut(pulseCommand(1, s.direction))
		return
	}
	if s.backlog == 0 || (s.backlogDir == s.direction && s.backlog < 0xFFFF) {
		s.backlogDir = s.direction
		s.backlog++
		return
	}
	// A reversal behind a full FIFO and an existing backlog
	s.dropped++
}

func (s *PIOStepper) flushBacklog() {
	if s.backlog == 0 || s.sm.IsTxFIFOFull() {
		return
	}
	s.sm.TxPut(pulseCommand(s.backlog, s.backlogDir))
	s.backlog = 0
}

// Dropped returns the number of pulses that could not be queued
func (s *PIOStepper) Dropped() uint32 {
	return s.dropped
}

// pulseCommand encodes count pulses (at least one) with a one cycle delay
func pulseCommand(count uint16, reverse bool) uint32 {
	cmd := uint32(count-1) | 1<<16
	if reverse {
		cmd |= 1 << 24
	}
	return cmd
}

// SetDirection latches the direction for the following pulses
func (s *PIOStepper) SetDirection(dir bool) {
	s.direction = dir
}

func (s *PIOStepper) Enable() {
	if s.enablePin != machine.NoPin {
		s.enablePin.Low()
	}
}

func (s *PIOStepper) Disable() {
	if s.enablePin != machine.NoPin {
		s.enablePin.High()
	}
}

// Stop discards queued pulses
func (s *PIOStepper) Stop() {
	s.sm.SetEnabled(false)
	s.backlog = 0
	s.sm.ClearFIFOs()
	s.sm.Restart()
	s.sm.SetEnabled(true)
}

func (s *PIOStepper) GetName() string {
	return s.name
}
