// Package tmc drives the holding current of TMC5240 stepper drivers over SPI.
// The motion core reduces current through it when the machine goes idle.
package tmc

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"tinygo.org/x/drivers"
)

// ErrDriverFault is returned when the driver reports a shutdown condition
var ErrDriverFault = errors.New("tmc driver fault")

// Config sets the driver currents
type Config struct {
	RunCurrent  uint8 // IRUN, 0-31
	IdlePercent int   // IHOLD as a percentage of IRUN while idle
	HoldDelay   uint8 // IHOLDDELAY, 0-15
	Invert      bool  // Set GCONF.shaft
}

// Driver is one TMC5240 on an SPI bus. Select drives its chip select line
// and may be nil when the bus handles it.
type Driver struct {
	bus      drivers.SPI
	selectFn func(selected bool)
	cfg      Config

	idle   bool
	status uint8 // SPI status byte of the last datagram
	tx     [5]byte
	rx     [5]byte
}

// New creates a driver handle
func New(bus drivers.SPI, selectFn func(selected bool), cfg Config) *Driver {
	return &Driver{bus: bus, selectFn: selectFn, cfg: cfg}
}

func (d *Driver) transfer(addr uint8, value uint32) (uint32, error) {
	d.tx[0] = addr
	d.tx[1] = byte(value >> 24)
	d.tx[2] = byte(value >> 16)
	d.tx[3] = byte(value >> 8)
	d.tx[4] = byte(value)

	if d.selectFn != nil {
		d.selectFn(true)
		defer d.selectFn(false)
	}
	if err := d.bus.Tx(d.tx[:], d.rx[:]); err != nil {
		return 0, err
	}

	d.status = d.rx[0]
	return uint32(d.rx[1])<<24 | uint32(d.rx[2])<<16 | uint32(d.rx[3])<<8 | uint32(d.rx[4]), nil
}

// WriteRegister writes a 32-bit register
func (d *Driver) WriteRegister(addr uint8, value uint32) error {
	if _, err := d.transfer(addr&registerAddrMask|writeFlag, value); err != nil {
		return fmt.Errorf("tmc write 0x%02x: %w", addr, err)
	}
	return nil
}

// ReadRegister reads a 32-bit register. The TMC returns read data on the
// datagram following the request.
func (d *Driver) ReadRegister(addr uint8) (uint32, error) {
	if _, err := d.transfer(addr&registerAddrMask, 0); err != nil {
		return 0, fmt.Errorf("tmc read 0x%02x: %w", addr, err)
	}
	v, err := d.transfer(addr&registerAddrMask, 0)
	if err != nil {
		return 0, fmt.Errorf("tmc read 0x%02x: %w", addr, err)
	}
	return v, nil
}

// Status returns the SPI status byte of the last transfer
func (d *Driver) Status() uint8 { return d.status }

// Configure clears the reset flag and loads chopper and run current settings
func (d *Driver) Configure() error {
	gstat, err := d.ReadRegister(RegGSTAT)
	if err != nil {
		return err
	}
	if gstat&GSTATDrvErr != 0 {
		return fmt.Errorf("%w: GSTAT 0x%x", ErrDriverFault, gstat)
	}

	gconf := uint32(GCONFMultistepFilt)
	if d.cfg.Invert {
		gconf |= GCONFShaft
	}

	// Write 1 to clear the GSTAT flags
	err = multierr.Combine(
		d.WriteRegister(RegGSTAT, GSTATReset|GSTATDrvErr|GSTATUVCP),
		d.WriteRegister(RegGCONF, gconf),
		d.WriteRegister(RegCHOPCONF, DefaultCHOPCONF),
		d.WriteRegister(RegIHOLDIRUN, d.currentRegister(false)),
	)
	d.idle = false
	return err
}

func (d *Driver) holdCurrent() uint8 {
	pct := d.cfg.IdlePercent
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return uint8((int(d.cfg.RunCurrent&currentMask)*pct + 50) / 100)
}

func (d *Driver) currentRegister(idle bool) uint32 {
	hold := d.cfg.RunCurrent
	if idle {
		hold = d.holdCurrent()
	}
	return IHoldIRun(hold, d.cfg.RunCurrent, d.cfg.HoldDelay, 0)
}

// SetIdleCurrent switches between run and reduced holding current
func (d *Driver) SetIdleCurrent(idle bool) error {
	if err := d.WriteRegister(RegIHOLDIRUN, d.currentRegister(idle)); err != nil {
		return err
	}
	d.idle = idle
	return nil
}

// Idle reports whether the reduced holding current is active
func (d *Driver) Idle() bool { return d.idle }

// CheckFault reads DRV_STATUS and reports shutdown conditions
func (d *Driver) CheckFault() error {
	v, err := d.ReadRegister(RegDRVSTATUS)
	if err != nil {
		return err
	}
	if v&(DrvStatusOT|DrvStatusS2GA|DrvStatusS2GB) != 0 {
		return fmt.Errorf("%w: DRV_STATUS 0x%08x", ErrDriverFault, v)
	}
	return nil
}

// Group applies current changes to several drivers
type Group []*Driver

// SetIdleCurrent sets every driver and reports all failures
func (g Group) SetIdleCurrent(idle bool) error {
	var err error
	for _, d := range g {
		err = multierr.Append(err, d.SetIdleCurrent(idle))
	}
	return err
}

// CheckFault returns the faults of every driver
func (g Group) CheckFault() error {
	var err error
	for _, d := range g {
		err = multierr.Append(err, d.CheckFault())
	}
	return err
}
