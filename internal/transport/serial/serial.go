// Package serial opens a direct USB connection to a Meshtastic radio as an
// alternative to the TCP network API.
package serial

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultPortSpeed is the baud rate Meshtastic radios speak over USB.
const DefaultPortSpeed = 115200

// Connect opens port at DefaultPortSpeed.
func Connect(port string) (serial.Port, error) {
	mode := &serial.Mode{BaudRate: DefaultPortSpeed}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return p, nil
}
