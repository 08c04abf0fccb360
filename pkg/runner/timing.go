package runner

import "time"

// QuantumTiming holds the scheduling parameters for one guest tick rate
// (§4.7): how long a quantum lasts in wall-clock time, and the instruction
// batch size executed within it.
type QuantumTiming struct {
	QuantumDuration        time.Duration
	TicksPerSecond         int
	InstructionsPerQuantum int
}

// DefaultInstructionsPerQuantum is the nominal batch size executed per
// scheduling quantum (§4.7 step 3).
const DefaultInstructionsPerQuantum = 10000

// QuantumTimings is keyed by the guest's declared ticks_per_second (SYSDAT
// offset 122) rather than a video platform name, since this emulator has no
// display to synchronize to — only the guest's own notion of a clock tick.
var QuantumTimings = map[int]QuantumTiming{
	60: {
		QuantumDuration:        16667 * time.Microsecond,
		TicksPerSecond:         60,
		InstructionsPerQuantum: DefaultInstructionsPerQuantum,
	},
	50: {
		QuantumDuration:        20000 * time.Microsecond,
		TicksPerSecond:         50,
		InstructionsPerQuantum: DefaultInstructionsPerQuantum,
	},
	100: {
		QuantumDuration:        10000 * time.Microsecond,
		TicksPerSecond:         100,
		InstructionsPerQuantum: DefaultInstructionsPerQuantum,
	},
}

// defaultTiming is used when the guest declares a ticks_per_second value
// with no entry in QuantumTimings.
var defaultTiming = QuantumTiming{
	QuantumDuration:        16667 * time.Microsecond,
	TicksPerSecond:         60,
	InstructionsPerQuantum: DefaultInstructionsPerQuantum,
}

// TimingFor returns the quantum timing for a guest's declared tick rate,
// falling back to the 60 Hz default for an unrecognized rate.
func TimingFor(ticksPerSecond int) QuantumTiming {
	if t, ok := QuantumTimings[ticksPerSecond]; ok {
		return t
	}
	return defaultTiming
}

// TicksPerOneSecondNotification is how many scheduling quanta make up one
// second of guest time, at which point the runner notifies XIOS of the
// one-second flag (§4.7 step 2). It assumes one quantum per guest tick.
const TicksPerOneSecondNotification = 60

// AutoEnableInstructionCount is the instruction count after which the
// runner force-enables the clock if the guest never reached STARTCLOCK
// (§4.7 step 4, §9): a historical safety net, not a contract the guest
// should rely on.
const AutoEnableInstructionCount = 5_000_000
