package ports

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one line of the outbound device vocabulary, sent verbatim
// over whichever transport carries the link.
type Command string

const (
	CmdStatusRequest     Command = "GET-STATUS"
	CmdDataRequest       Command = "GET-DATA"
	CmdThresholdsRequest Command = "GET-THRESHOLDS"
)

// ActuatorCommand builds the cooler override command for mode ON, OFF
// or AUTO (case-insensitive). Any other mode is rejected.
func ActuatorCommand(mode string) (Command, error) {
	switch strings.ToUpper(mode) {
	case "ON", "OFF", "AUTO":
		return Command("SET-ACTUATOR=" + strings.ToUpper(mode)), nil
	default:
		return "", fmt.Errorf("unknown actuator mode %q (want ON, OFF or AUTO)", mode)
	}
}

// ThresholdStartCommand sets the temperature at which the cooler engages.
func ThresholdStartCommand(v float64) Command {
	return Command("SET-THRESHOLD-START=" + strconv.FormatFloat(v, 'g', -1, 64))
}

// ThresholdStopCommand sets the temperature at which the cooler disengages.
func ThresholdStopCommand(v float64) Command {
	return Command("SET-THRESHOLD-STOP=" + strconv.FormatFloat(v, 'g', -1, 64))
}
