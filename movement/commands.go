package movement

import (
	"errors"

	"stepcore/core"
	"stepcore/movement/kinematics"
	"stepcore/protocol"
)

// Fixed point scales for the wire format
const (
	PositionScale = 1000.0 // micrometres
	FeedScale     = 1000.0 // micrometres per second
)

// queue_move flag bits
const (
	WireFlagRawMotor    = 1 << 0
	WireFlagCoordinated = 1 << 1
)

const queueMoveFormat = "flags=%c feed=%i t0=%i t1=%i t2=%i t3=%i t4=%i t5=%i"

// EncodeMoveRequest writes the queue_move arguments for req
func EncodeMoveRequest(output protocol.OutputBuffer, req MoveRequest) {
	var flags uint32
	if IsRawMotorMove(req.Flags) {
		flags |= WireFlagRawMotor
	}
	if req.Coordinated {
		flags |= WireFlagCoordinated
	}
	protocol.EncodeVLQUint(output, flags)
	protocol.EncodeVLQFixed(output, req.FeedRate, FeedScale)
	for _, t := range req.Target {
		protocol.EncodeVLQFixed(output, t, PositionScale)
	}
}

// DecodeMoveRequest reads the queue_move arguments
func DecodeMoveRequest(data *[]byte) (MoveRequest, error) {
	var req MoveRequest

	flags, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return req, err
	}
	if flags&WireFlagRawMotor != 0 {
		req.Flags |= MoveRawMotor
	}
	req.Coordinated = flags&WireFlagCoordinated != 0

	if req.FeedRate, err = protocol.DecodeVLQFixed(data, FeedScale); err != nil {
		return req, err
	}
	for i := range req.Target {
		if req.Target[i], err = protocol.DecodeVLQFixed(data, PositionScale); err != nil {
			return req, err
		}
	}
	return req, nil
}

// RegisterCommands installs the motion commands on a registry.
// m may be nil when only the dictionary is needed.
func RegisterCommands(reg *core.CommandRegistry, m *Move) {
	reg.Register("queue_move", queueMoveFormat, func(data *[]byte) error {
		req, err := DecodeMoveRequest(data)
		if err != nil {
			return err
		}
		return m.QueueMove(req)
	})

	reg.Register("stop_drivers", "mask=%u", func(data *[]byte) error {
		mask, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		m.StopDrivers(mask)
		return nil
	})

	reg.Register("reset_move_counters", "", func(data *[]byte) error {
		m.ResetMoveCounters()
		return nil
	})

	reg.Register("set_kinematics", "type=%c", func(data *[]byte) error {
		t, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		if !m.AllMovesAreFinished() {
			return errors.New("set_kinematics: moves pending")
		}
		return m.SetKinematicsType(kinematics.Type(t))
	})

	reg.Register("get_move_stats", "", func(data *[]byte) error {
		s := m.Stats()
		hiccups := m.GetAndClearHiccups()
		return reg.Respond("move_stats", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, s.Scheduled)
			protocol.EncodeVLQUint(output, s.Completed)
			protocol.EncodeVLQUint(output, hiccups)
			protocol.EncodeVLQUint(output, s.StepErrors)
			protocol.EncodeVLQUint(output, uint32(s.Occupancy))
			protocol.EncodeVLQUint(output, uint32(s.IdleState))
		})
	})

	reg.RegisterResponse("move_stats",
		"scheduled=%u completed=%u hiccups=%u step_errors=%u occupancy=%c state=%c")
}
