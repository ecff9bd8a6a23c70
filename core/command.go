package core

import (
	"errors"
	"sync"

	"stepcore/protocol"
)

// ErrUnknownCommand is returned when dispatching an unregistered command ID
var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler handles a command with raw frame data.
// The handler decodes its own arguments and advances the data slice.
type CommandHandler func(data *[]byte) error

// Responder receives encoded response payloads (command ID included)
type Responder func(payload []byte)

// Command is one entry of the command dictionary
type Command struct {
	ID      uint16
	Name    string
	Format  string // Format string for dictionary (e.g., "mask=%u")
	Handler CommandHandler
}

// CommandRegistry holds all registered commands and responses
type CommandRegistry struct {
	mu        sync.RWMutex
	commands  map[uint16]*Command
	nameToID  map[string]uint16
	nextID    uint16
	responder Responder
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// Register adds a command to the registry and returns its ID.
// Registering an existing name returns the existing ID.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{ID: id, Name: name, Format: format, Handler: handler}
	r.nameToID[name] = id
	return id
}

// RegisterResponse registers a response message (no handler)
func (r *CommandRegistry) RegisterResponse(name string, format string) uint16 {
	return r.Register(name, format, nil)
}

// GetCommand retrieves a command by ID
func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// Lookup returns the ID registered for name
func (r *CommandRegistry) Lookup(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	return id, ok
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch calls the handler registered for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok || cmd.Handler == nil {
		return errors.New("unknown command ID: " + itoa(int(cmdID)))
	}
	return cmd.Handler(data)
}

// Dictionary returns "name format" lines in ID order
func (r *CommandRegistry) Dictionary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dict := ""
	for i := uint16(0); i < r.nextID; i++ {
		cmd, ok := r.commands[i]
		if !ok {
			continue
		}
		if cmd.Format != "" {
			dict += cmd.Name + " " + cmd.Format + "\n"
		} else {
			dict += cmd.Name + "\n"
		}
	}
	return dict
}

// SetResponder sets where encoded responses are delivered
func (r *CommandRegistry) SetResponder(responder Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responder = responder
}

// Respond encodes a registered response and hands it to the responder
func (r *CommandRegistry) Respond(name string, args func(output protocol.OutputBuffer)) error {
	r.mu.RLock()
	id, ok := r.nameToID[name]
	responder := r.responder
	r.mu.RUnlock()

	if !ok {
		return ErrUnknownCommand
	}
	if responder == nil {
		return nil
	}

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, uint32(id))
	if args != nil {
		args(output)
	}
	responder(append([]byte(nil), output.Result()...))
	return nil
}
