// Package link sends motion commands to a controller over a byte stream
package link

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"stepcore/core"
	"stepcore/movement"
	"stepcore/protocol"
)

// Link frames commands with the IDs of the controller's command dictionary
type Link struct {
	w      io.Writer
	ids    map[string]uint16
	seq    uint8
	logger *slog.Logger
	sent   int
}

// New creates a link writing to w. Command IDs come from the same
// registration order the controller uses.
func New(w io.Writer, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	reg := core.NewCommandRegistry()
	movement.RegisterCommands(reg, nil)

	ids := make(map[string]uint16)
	for _, name := range []string{
		"queue_move", "stop_drivers", "reset_move_counters",
		"set_kinematics", "get_move_stats", "move_stats",
	} {
		id, ok := reg.Lookup(name)
		if !ok {
			panic("link: command not registered: " + name)
		}
		ids[name] = id
	}

	return &Link{w: w, ids: ids, logger: logger}
}

// CommandID returns the dictionary ID for name
func (l *Link) CommandID(name string) (uint16, bool) {
	id, ok := l.ids[name]
	return id, ok
}

// Sent returns the number of frames written
func (l *Link) Sent() int {
	return l.sent
}

// QueueMove sends one queue_move command
func (l *Link) QueueMove(req movement.MoveRequest) error {
	return l.send("queue_move", func(out protocol.OutputBuffer) {
		movement.EncodeMoveRequest(out, req)
	})
}

// QueueMoves sends reqs, packing as many commands per frame as fit
func (l *Link) QueueMoves(reqs []movement.MoveRequest) error {
	var payload []byte
	for i, req := range reqs {
		cmd := l.encode("queue_move", func(out protocol.OutputBuffer) {
			movement.EncodeMoveRequest(out, req)
		})
		if len(payload)+len(cmd) > protocol.MaxPayload {
			if err := l.writeFrame(payload); err != nil {
				return fmt.Errorf("move %d: %w", i, err)
			}
			payload = payload[:0]
		}
		payload = append(payload, cmd...)
	}
	if len(payload) == 0 {
		return nil
	}
	return l.writeFrame(payload)
}

// StopDrivers sends stop_drivers for the drivers in mask
func (l *Link) StopDrivers(mask uint32) error {
	return l.send("stop_drivers", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, mask)
	})
}

// ResetCounters sends reset_move_counters
func (l *Link) ResetCounters() error {
	return l.send("reset_move_counters", nil)
}

// RequestStats sends get_move_stats. The reply is a move_stats response.
func (l *Link) RequestStats() error {
	return l.send("get_move_stats", nil)
}

func (l *Link) send(name string, args func(out protocol.OutputBuffer)) error {
	return l.writeFrame(l.encode(name, args))
}

func (l *Link) encode(name string, args func(out protocol.OutputBuffer)) []byte {
	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(l.ids[name]))
	if args != nil {
		args(out)
	}
	return append([]byte(nil), out.Result()...)
}

func (l *Link) writeFrame(payload []byte) error {
	frame, err := protocol.AppendFrame(nil, l.seq, payload)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	l.logger.Debug("frame sent", "seq", l.seq, "bytes", len(frame))
	l.seq = (l.seq + 1) & protocol.MessageSeqMask
	l.sent++
	return nil
}

// ErrNotStats is returned by DecodeStats for payloads of another response
var ErrNotStats = errors.New("not a move_stats response")

// Stats is the decoded move_stats response
type Stats struct {
	Scheduled  uint32
	Completed  uint32
	Hiccups    uint32
	StepErrors uint32
	Occupancy  uint32
	IdleState  movement.IdleState
}

// DecodeStats decodes a move_stats response payload
func (l *Link) DecodeStats(payload []byte) (Stats, error) {
	var s Stats
	id, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return s, err
	}
	if uint16(id) != l.ids["move_stats"] {
		return s, ErrNotStats
	}

	fields := []*uint32{&s.Scheduled, &s.Completed, &s.Hiccups, &s.StepErrors, &s.Occupancy}
	for _, f := range fields {
		if *f, err = protocol.DecodeVLQUint(&payload); err != nil {
			return s, err
		}
	}
	state, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return s, err
	}
	s.IdleState = movement.IdleState(state)
	return s, nil
}
