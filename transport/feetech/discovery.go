package feetech

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	sts "github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// Candidate is a serial port with the servos that answered on it.
type Candidate struct {
	Port            string
	Servos          []int
	CalibrationFile string
}

// Discover pings servoIDs on every candidate serial port and returns the
// ports where at least one answered. calibrationDir, if set, is searched for
// a calibration file per port.
func Discover(ctx context.Context, baudrate int, servoIDs []int, calibrationDir string, logger logging.Logger) ([]Candidate, error) {
	allPorts := enumerateSerialPorts(logger)
	candidates := filterCandidatePorts(allPorts)
	logger.Debugf("Found %d serial ports, %d candidates", len(allPorts), len(candidates))

	var found []Candidate
	for _, port := range candidates {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}
		answered := pingServos(ctx, port, baudrate, servoIDs, logger)
		if len(answered) == 0 {
			logger.Debugf("No servos detected on %s", port)
			continue
		}
		c := Candidate{Port: port, Servos: answered}
		if calibrationDir != "" {
			c.CalibrationFile = findCalibrationFile(calibrationDir, extractPortSuffix(port), logger)
		}
		logger.Infof("Discovered %d servos on %s", len(answered), port)
		found = append(found, c)
	}
	return found, nil
}

// CandidatePorts lists serial ports that look like USB servo adapters.
func CandidatePorts(logger logging.Logger) []string {
	return filterCandidatePorts(enumerateSerialPorts(logger))
}

func pingServos(ctx context.Context, port string, baudrate int, ids []int, logger logging.Logger) []int {
	bus, err := sts.NewBus(sts.BusConfig{
		Port:     port,
		BaudRate: baudrate,
		Protocol: sts.ProtocolSTS,
		Timeout:  50 * time.Millisecond,
	})
	if err != nil {
		logger.Debugf("Failed to open port %s: %v", port, err)
		return nil
	}
	defer bus.Close()

	var answered []int
	for _, id := range ids {
		servo := sts.NewServo(bus, id, &sts.ModelSTS3215)
		if _, err := servo.Ping(ctx); err == nil {
			answered = append(answered, id)
		}
	}
	return answered
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	for _, prefix := range []string{"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial"} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// findCalibrationFile tries <suffix>_calibration.json, then
// calibration.json, returning the full path or "".
func findCalibrationFile(dir, portSuffix string, logger logging.Logger) string {
	for _, name := range []string{portSuffix + "_calibration.json", "calibration.json"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			logger.Debugf("Found calibration file: %s", name)
			return p
		}
	}
	logger.Debug("No calibration file found")
	return ""
}

func enumerateSerialPorts(logger logging.Logger) []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		logger.Debugf("Failed to enumerate serial ports: %v", err)
		return []string{}
	}
	portPaths := make([]string, 0, len(ports))
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
