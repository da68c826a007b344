package lektrico

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is a numeric field the charger firmware reports either as a JSON
// number or as a numeric string.
type Number float64

// UnmarshalJSON accepts 16, 16.5 and "16". Non-finite values are errors.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	// ParseFloat accepts "NaN" and "Inf"
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("not a finite number: %s", data)
	}
	*n = Number(f)
	return nil
}

// Float returns the value as float64
func (n Number) Float() float64 {
	return float64(n)
}

// Token is an identifier reported either as a string or as a bare number,
// e.g. load_balancing_mode "3" or 3.
type Token string

// UnmarshalJSON accepts "3" and 3
func (t *Token) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Token(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("not a token: %s", data)
	}
	*t = Token(data)
	return nil
}

// ChargerInfo is the charger_info.get payload. Pointer fields are nil when
// the firmware omitted them.
type ChargerInfo struct {
	ChargerState   Token   `json:"charger_state"`
	InstantPower   *Number `json:"instant_power"`
	Voltage        *Number `json:"voltage"`
	Current        *Number `json:"current"`
	SessionEnergy  *Number `json:"session_energy"`
	DynamicCurrent *Number `json:"dynamic_current"`
	ChargingTime   *Number `json:"charging_time"`
	Temperature    *Number `json:"temperature"`
	FirmwareVer    string  `json:"fw_version"`
}

// ChargerConfig is the charger_config.get payload
type ChargerConfig struct {
	SerialNumber Token `json:"serial_number"`
}

// EnergyManagerConfig is the energy manager's app_config.get payload
type EnergyManagerConfig struct {
	LoadBalancingMode Token `json:"load_balancing_mode"`
}

// RPCRequest is the envelope for every POST /rpc call
type RPCRequest struct {
	Src    string                 `json:"src"`
	ID     int                    `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// RPCResponse is the device's answer to an RPCRequest. Result is nil when
// the device omitted it.
type RPCResponse struct {
	ID     int             `json:"id"`
	Src    string          `json:"src"`
	Dst    string          `json:"dst"`
	Result *bool           `json:"result"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Succeeded reports whether the device explicitly acknowledged the call
func (r *RPCResponse) Succeeded() bool {
	return r != nil && r.Result != nil && *r.Result
}

// Target selects which device an RPC is addressed to
type Target int

const (
	TargetCharger Target = iota
	TargetEnergyManager
)

func (t Target) String() string {
	switch t {
	case TargetCharger:
		return "charger"
	case TargetEnergyManager:
		return "energy_manager"
	default:
		return "unknown"
	}
}

// RPC method names
const (
	MethodChargeStart       = "charge.start"
	MethodChargeStop        = "charge.stop"
	MethodDynamicCurrentSet = "dynamic_current.set"
	MethodAppConfigSet      = "app_config.set"
	ParamDynamicCurrent     = "dynamic_current"
	ParamTag                = "tag"
	ParamConfigKey          = "config_key"
	ParamConfigValue        = "config_value"
	ConfigKeyLoadBalancing  = "load_balancing_mode"
	chargerInfoPath         = "/rpc/charger_info.get"
	chargerConfigPath       = "/rpc/charger_config.get"
	energyManagerConfigPath = "/rpc/app_config.get"
	rpcPath                 = "/rpc"
)

// FirmwareNumber converts "1.2.3" into 123. Unparseable versions yield 0.
func FirmwareNumber(version string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(version), ".", ""))
	if err != nil {
		return 0
	}
	return n
}
