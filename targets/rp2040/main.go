//go:build rp2040

package main

import (
	"machine"
	"time"

	"stepcore/core"
	"stepcore/driver/tmc"
	"stepcore/movement"
	"stepcore/protocol"
)

var (
	move     *movement.Move
	registry *core.CommandRegistry
	decoder  protocol.FrameDecoder
	outSeq   uint8
	rxBuf    [64]byte

	msgerrors uint32
)

func main() {
	// Clear any watchdog state left from a previous run
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	UpdateSystemTime()
	core.TimerInit()

	outputs := make([]core.StepperBackend, len(stepperPins))
	for i, pins := range stepperPins {
		s, err := NewPIOStepper(0, uint8(i), pins)
		if err != nil {
			println("pio:", err.Error())
			return
		}
		outputs[i] = s
	}

	drivers := initDrivers()
	cfg := motionConfig()
	cfg.Current = drivers

	move = movement.New(cfg, outputs)
	if err := move.Init(); err != nil {
		println("movement:", err.Error())
		return
	}

	registry = core.NewCommandRegistry()
	movement.RegisterCommands(registry, move)
	registry.SetResponder(sendResponse)

	lastFaultCheck := core.GetTime()
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
				}
			}()

			UpdateSystemTime()
			pollUSB()
			core.ProcessTimers()
			move.Spin()

			// Driver faults are polled once a second, moving or not
			now := core.GetTime()
			if now-lastFaultCheck > core.TimerFreq {
				lastFaultCheck = now
				checkDrivers(drivers, outputs)
			}
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// pollUSB feeds received bytes to the frame decoder and dispatches commands
func pollUSB() {
	n := USBRead(rxBuf[:])
	if n == 0 {
		return
	}
	decoder.Write(rxBuf[:n])
	for {
		frame, ok := decoder.Next()
		if !ok {
			return
		}
		err := protocol.SplitCommands(frame.Payload, registry.Dispatch)
		if err != nil {
			msgerrors++
		}
	}
}

// sendResponse frames a response payload and writes it to USB
func sendResponse(payload []byte) {
	frame, err := protocol.AppendFrame(nil, outSeq, payload)
	if err != nil {
		msgerrors++
		return
	}
	outSeq = (outSeq + 1) & protocol.MessageSeqMask
	if _, err := USBWriteBytes(frame); err != nil {
		msgerrors++
	}
}

func checkDrivers(drivers tmc.Group, outputs []core.StepperBackend) {
	if err := drivers.CheckFault(); err != nil {
		println("tmc:", err.Error())
		move.StopDrivers(^uint32(0))
	}
	for _, out := range outputs {
		if s, ok := out.(*PIOStepper); ok && s.Dropped() != 0 {
			println("pio:", s.GetName(), "dropped", s.Dropped(), "pulses")
		}
	}
}
