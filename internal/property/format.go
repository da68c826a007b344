package property

import "strconv"

// Formatter renders a value for display
type Formatter func(v float64) string

func Watts(v float64) string         { return fixed(v, 1) + "W" }
func KilowattHours(v float64) string { return fixed(v, 2) + "kWh" }
func Amps(v float64) string          { return fixed(v, 1) + "A" }
func Volts(v float64) string         { return fixed(v, 1) + "V" }
func Celsius(v float64) string       { return plain(v) + "°C" }
func Seconds(v float64) string       { return plain(v) + "s" }
func Plain(v float64) string         { return plain(v) }

func fixed(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func plain(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
