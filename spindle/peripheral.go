package spindle

// DACRegister is the I2C register the DAC value is written to, per §6.
const DACRegister = 0x00

// DACBytes packs volts (clamped to [0, vref]) into the 12-bit big-endian
// value the DAC write format requires: a full-scale fraction of 4095
// split across two bytes, high byte first. A real I2C-backed VFDSink
// writes these two bytes to DACRegister at the configured slave address;
// this function is kept pure and pin-free so it can be unit tested
// without a bus.
func DACBytes(volts, vref float64) [2]byte {
	if vref <= 0 {
		return [2]byte{0, 0}
	}
	if volts < 0 {
		volts = 0
	}
	if volts > vref {
		volts = vref
	}
	value := int(volts / vref * 4095)
	return [2]byte{byte(value >> 8), byte(value & 0xFF)}
}
