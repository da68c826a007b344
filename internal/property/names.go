package property

// Published property names
const (
	StartStop       = "StartStop"
	SetCurrent      = "SetCurrent"
	Mode            = "Mode"
	MaxCurrent      = "MaxCurrent"
	ChargingTime    = "ChargingTime"
	Power           = "Ac/Power"
	L1Power         = "Ac/L1/Power"
	L2Power         = "Ac/L2/Power"
	L3Power         = "Ac/L3/Power"
	EnergyForward   = "Ac/Energy/Forward"
	Voltage         = "Ac/Voltage"
	Current         = "Current"
	Temperature     = "MCU/Temperature"
	Status          = "Status"
	Connected       = "Connected"
	UpdateIndex     = "UpdateIndex"
	FirmwareVersion = "FirmwareVersion"
	Serial          = "Serial"
	ProductName     = "ProductName"
	DeviceInstance  = "DeviceInstance"
)

// Definition describes a numeric property to register
type Definition struct {
	Name     string
	Initial  float64
	Format   Formatter
	Writable bool
}

// ChargerDefinitions returns the EV charger property set. Every data path
// is writable; management paths are not.
func ChargerDefinitions() []Definition {
	return []Definition{
		{Name: Power, Format: Watts, Writable: true},
		{Name: L1Power, Format: Watts, Writable: true},
		{Name: L2Power, Format: Watts, Writable: true},
		{Name: L3Power, Format: Watts, Writable: true},
		{Name: EnergyForward, Format: KilowattHours, Writable: true},
		{Name: ChargingTime, Format: Seconds, Writable: true},
		{Name: Voltage, Format: Volts, Writable: true},
		{Name: Current, Format: Amps, Writable: true},
		{Name: SetCurrent, Format: Amps, Writable: true},
		{Name: MaxCurrent, Format: Amps, Writable: true},
		{Name: Temperature, Format: Celsius, Writable: true},
		{Name: StartStop, Format: Plain, Writable: true},
		{Name: Mode, Format: Plain, Writable: true},
		{Name: Status, Format: Plain, Writable: true},
		{Name: Connected, Format: Plain},
		{Name: UpdateIndex, Format: Plain},
		{Name: FirmwareVersion, Format: Plain},
		{Name: DeviceInstance, Format: Plain},
	}
}
