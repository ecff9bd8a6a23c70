package core

import (
	"errors"
	"testing"

	"stepcore/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryDuplicateName(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "a=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "b=%u", func(data *[]byte) error { return nil })
	again := registry.Register("command1", "", nil)

	if id1 == id2 {
		t.Error("Different commands got the same ID")
	}
	if again != id1 {
		t.Errorf("Re-registering returned %d, want %d", again, id1)
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 commands, got %d", registry.Count())
	}

	want := "command1 a=%u\ncommand2 b=%u\n"
	if got := registry.Dictionary(); got != want {
		t.Errorf("Dictionary = %q, want %q", got, want)
	}
}

func TestCommandRegistryResponseNotDispatchable(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.RegisterResponse("stats", "count=%u")

	var data []byte
	if err := registry.Dispatch(id, &data); err == nil {
		t.Error("Dispatching a response should fail")
	}
}

func TestCommandRegistryRespond(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.RegisterResponse("stats", "count=%u")

	var got []byte
	registry.SetResponder(func(payload []byte) { got = payload })

	err := registry.Respond("stats", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 300)
	})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	gotID, err := protocol.DecodeVLQUint(&got)
	if err != nil || uint16(gotID) != id {
		t.Fatalf("Response ID = %d (%v), want %d", gotID, err, id)
	}
	count, err := protocol.DecodeVLQUint(&got)
	if err != nil || count != 300 {
		t.Errorf("count = %d (%v), want 300", count, err)
	}

	if err := registry.Respond("missing", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Respond(missing) = %v, want ErrUnknownCommand", err)
	}
}
