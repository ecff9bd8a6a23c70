package tmc

import (
	"errors"
	"testing"

	"go.uber.org/multierr"
)

// fakeSPI emulates the register file of one TMC5240
type fakeSPI struct {
	regs     map[uint8]uint32
	pending  uint8 // address of the previous read request
	writes   []uint8
	failWith error
}

func newFakeSPI() *fakeSPI {
	return &fakeSPI{regs: make(map[uint8]uint32)}
}

func (f *fakeSPI) Tx(w, r []byte) error {
	if f.failWith != nil {
		return f.failWith
	}
	addr := w[0] & registerAddrMask
	value := uint32(w[1])<<24 | uint32(w[2])<<16 | uint32(w[3])<<8 | uint32(w[4])

	out := f.regs[f.pending]
	r[0] = 0x01
	r[1] = byte(out >> 24)
	r[2] = byte(out >> 16)
	r[3] = byte(out >> 8)
	r[4] = byte(out)

	if w[0]&writeFlag != 0 {
		f.regs[addr] = value
		f.writes = append(f.writes, addr)
	}
	f.pending = addr
	return nil
}

func (f *fakeSPI) Transfer(b byte) (byte, error) { return 0, nil }

func TestIHoldIRunPacking(t *testing.T) {
	v := IHoldIRun(5, 20, 6, 0)
	if v != 5|20<<8|6<<16 {
		t.Errorf("IHoldIRun = 0x%x", v)
	}
	hold, run := SplitIHoldIRun(v)
	if hold != 5 || run != 20 {
		t.Errorf("split = %d/%d, want 5/20", hold, run)
	}
}

func TestReadRegisterUsesSecondDatagram(t *testing.T) {
	bus := newFakeSPI()
	bus.regs[RegIOIN] = 0x30000001
	d := New(bus, nil, Config{})

	v, err := d.ReadRegister(RegIOIN)
	if err != nil {
		t.Fatalf("ReadRegister failed: %v", err)
	}
	if v != 0x30000001 {
		t.Errorf("IOIN = 0x%x, want 0x30000001", v)
	}
	if d.Status() != 0x01 {
		t.Errorf("status = 0x%x", d.Status())
	}
}

func TestConfigureAndIdleCurrent(t *testing.T) {
	bus := newFakeSPI()
	selects := 0
	d := New(bus, func(selected bool) {
		if selected {
			selects++
		}
	}, Config{RunCurrent: 20, IdlePercent: 30, HoldDelay: 6, Invert: true})

	if err := d.Configure(); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if bus.regs[RegGCONF]&GCONFShaft == 0 {
		t.Error("shaft bit not set for inverted driver")
	}
	if bus.regs[RegCHOPCONF] != DefaultCHOPCONF {
		t.Errorf("CHOPCONF = 0x%x", bus.regs[RegCHOPCONF])
	}
	hold, run := SplitIHoldIRun(bus.regs[RegIHOLDIRUN])
	if hold != 20 || run != 20 {
		t.Errorf("run current hold/run = %d/%d, want 20/20", hold, run)
	}
	if selects == 0 {
		t.Error("chip select never asserted")
	}

	if err := d.SetIdleCurrent(true); err != nil {
		t.Fatalf("SetIdleCurrent failed: %v", err)
	}
	hold, run = SplitIHoldIRun(bus.regs[RegIHOLDIRUN])
	if hold != 6 || run != 20 {
		t.Errorf("idle hold/run = %d/%d, want 6/20", hold, run)
	}
	if !d.Idle() {
		t.Error("driver not marked idle")
	}

	if err := d.SetIdleCurrent(false); err != nil {
		t.Fatalf("SetIdleCurrent failed: %v", err)
	}
	if hold, _ = SplitIHoldIRun(bus.regs[RegIHOLDIRUN]); hold != 20 {
		t.Errorf("restored hold = %d, want 20", hold)
	}
}

func TestConfigureReportsFault(t *testing.T) {
	bus := newFakeSPI()
	bus.regs[RegGSTAT] = GSTATDrvErr
	d := New(bus, nil, Config{RunCurrent: 16})

	if err := d.Configure(); !errors.Is(err, ErrDriverFault) {
		t.Errorf("Configure error = %v, want ErrDriverFault", err)
	}
}

func TestCheckFault(t *testing.T) {
	bus := newFakeSPI()
	d := New(bus, nil, Config{})
	if err := d.CheckFault(); err != nil {
		t.Fatalf("healthy driver reported %v", err)
	}
	bus.regs[RegDRVSTATUS] = DrvStatusOT
	if err := d.CheckFault(); !errors.Is(err, ErrDriverFault) {
		t.Errorf("CheckFault = %v, want ErrDriverFault", err)
	}
}

func TestGroupCollectsErrors(t *testing.T) {
	good := New(newFakeSPI(), nil, Config{RunCurrent: 10, IdlePercent: 50})
	badBus := newFakeSPI()
	badBus.failWith = errors.New("bus stuck")
	bad1 := New(badBus, nil, Config{})
	bad2 := New(badBus, nil, Config{})

	err := Group{good, bad1, bad2}.SetIdleCurrent(true)
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("got %d errors, want 2: %v", n, err)
	}
	if !good.Idle() {
		t.Error("healthy driver not switched")
	}
}
