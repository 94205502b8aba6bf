package station

import (
	"strconv"
	"strings"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// deliveredWh is the energy between two register readings. A register that went backwards
// (meter swap, rollover) counts as nothing delivered.
func deliveredWh(start, stop int) int {
	if stop < start {
		return 0
	}
	return stop - start
}

// activePowerKW returns the most recent Power.Active.Import reading in kW. Phase values of
// one sample are summed when no total is reported. Readings default to W as OCPP does.
func activePowerKW(values []protocol.MeterValue) (float64, bool) {
	var (
		power float64
		found bool
	)
	for _, mv := range values {
		var total, phases float64
		var hasTotal, hasPhases bool
		for _, sv := range mv.SampledValue {
			if sv.Measurand != protocol.MeasurandPowerActiveImport {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(sv.Value), 64)
			if err != nil {
				continue
			}
			if !strings.EqualFold(sv.Unit, protocol.UnitKW) {
				v /= 1000
			}
			if sv.Phase == "" {
				total, hasTotal = v, true
			} else {
				phases += v
				hasPhases = true
			}
		}
		switch {
		case hasTotal:
			power, found = total, true
		case hasPhases:
			power, found = phases, true
		}
	}
	return power, found
}
