package main

import (
	"context"

	"github.com/spf13/cobra"

	"stepcore/host/gcode"
	"stepcore/host/link"
	"stepcore/host/serial"
	"stepcore/host/sim"
	"stepcore/movement"
)

var (
	portName    string
	baudRate    int
	wsURL       string
	noSSLVerify bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Stream a job to a controller",
	Long: `Translate a job file and send it as queue_move commands over a serial link.

Position resets (G92) have no wire command and are skipped with a warning.
With --url the frames go to a WebSocket bridge instead of a local port.`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&portName, "port", "p", "/dev/ttyACM0", "Serial port device")
	sendCmd.Flags().IntVarP(&baudRate, "baud", "b", 250000, "Baud rate (ignored for USB CDC)")
	sendCmd.Flags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://), instead of --port")
	sendCmd.Flags().BoolVar(&noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	sendCmd.Flags().StringVarP(&jobPath, "job", "j", "", "Job file (YAML)")
	sendCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	job, err := sim.LoadJob(jobPath)
	if err != nil {
		return err
	}
	actions, err := job.Actions(cfg.AxisLetters())
	if err != nil {
		return err
	}

	var reqs []movement.MoveRequest
	for _, a := range actions {
		if a.Kind != gcode.ActionMove {
			logger.Warn("skipping position reset", "line", a.Line)
			continue
		}
		reqs = append(reqs, a.Request)
	}

	port, target, err := openPort(cmd.Context())
	if err != nil {
		return err
	}
	defer port.Close()

	l := link.New(port, logger)
	if err := l.QueueMoves(reqs); err != nil {
		return err
	}
	if err := l.RequestStats(); err != nil {
		return err
	}
	logger.Info("job sent", "moves", len(reqs), "frames", l.Sent(), "target", target)
	return nil
}

// openPort opens the WebSocket bridge when --url is set, else the serial port
func openPort(ctx context.Context) (serial.Port, string, error) {
	if wsURL != "" {
		port, err := serial.OpenWebSocket(ctx, wsURL, noSSLVerify)
		return port, wsURL, err
	}
	sc := serial.DefaultConfig(portName)
	sc.Baud = baudRate
	port, err := serial.Open(sc)
	return port, portName, err
}
