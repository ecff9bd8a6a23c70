package tmc

// TMC5240 registers used for current control and status
// Based on TMC5240 datasheet Rev. 1.09
const (
	RegGCONF         = 0x00 // Global configuration flags
	RegGSTAT         = 0x01 // Global status flags
	RegIFCNT         = 0x02 // Interface transmission counter
	RegIOIN          = 0x04 // Reads the state of all input pins
	RegDRVCONF       = 0x0A // Driver configuration
	RegGLOBALSCALER  = 0x0B // Global current scaler
	RegIHOLDIRUN     = 0x10 // Driver current control
	RegTPOWERDOWN    = 0x11 // Delay after standstill
	RegTSTEP         = 0x12 // Measured time between two steps (read only)
	RegCHOPCONF      = 0x6C // Chopper configuration
	RegDRVSTATUS     = 0x6F // Driver status flags and current level read back
	RegPWMCONF       = 0x70 // StealthChop PWM configuration
	writeFlag        = 0x80
	registerAddrMask = 0x7F
)

// GCONF bits
const (
	GCONFEnPWMMode     = 1 << 2 // StealthChop
	GCONFMultistepFilt = 1 << 3
	GCONFShaft         = 1 << 4 // Inverse motor direction
)

// GSTAT bits
const (
	GSTATReset  = 1 << 0 // Reset since last read
	GSTATDrvErr = 1 << 1 // Driver shut down by over temperature or short
	GSTATUVCP   = 1 << 2 // Charge pump undervoltage
)

// DRV_STATUS bits
const (
	DrvStatusS2GA  = 1 << 27 // Short to ground phase A
	DrvStatusS2GB  = 1 << 28 // Short to ground phase B
	DrvStatusOT    = 1 << 25 // Overtemperature
	DrvStatusOTPW  = 1 << 26 // Overtemperature pre-warning
	DrvStatusStst  = 1 << 31 // Standstill
	DrvStatusCSAct = 0x1F << 16
)

// IHOLD_IRUN fields
const (
	iholdShift      = 0
	irunShift       = 8
	iholdDelayShift = 16
	irunDelayShift  = 24
	currentMask     = 0x1F
	delayMask       = 0x0F
)

// CHOPCONF defaults: TOFF=3, HSTRT=4, HEND=1, TBL=2, MRES=0 (256 microsteps)
const DefaultCHOPCONF = 0x10410153

// IHoldIRun packs the current control register
func IHoldIRun(hold, run, holdDelay, runDelay uint8) uint32 {
	return uint32(hold&currentMask)<<iholdShift |
		uint32(run&currentMask)<<irunShift |
		uint32(holdDelay&delayMask)<<iholdDelayShift |
		uint32(runDelay&delayMask)<<irunDelayShift
}

// SplitIHoldIRun returns the hold and run current fields
func SplitIHoldIRun(v uint32) (hold, run uint8) {
	return uint8(v>>iholdShift) & currentMask, uint8(v>>irunShift) & currentMask
}
