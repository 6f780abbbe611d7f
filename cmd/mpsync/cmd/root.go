package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpsync/mpsync/internal/config"
	"github.com/mpsync/mpsync/internal/logx"
	"github.com/mpsync/mpsync/pkg/device"
)

var (
	portFlag    string
	baudFlag    int
	timeoutFlag int
	verbose     bool

	startedAt time.Time
)

var rootCmd = &cobra.Command{
	Use:   "mpsync",
	Short: "Synchronize files between this computer and MicroPython devices",
	Long: `mpsync drives a MicroPython board's interactive prompt over a serial
port to inspect the device filesystem, transfer files in both directions, and
execute code on the board.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logx.SetVerbose(verbose)
		startedAt = time.Now()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			fmt.Printf("Total time elapsed: %.2fs\n", time.Since(startedAt).Seconds())
		}
	},
}

// Execute runs the root command.
func Execute() error {
	defer logx.Sync()
	return rootCmd.Execute()
}

func init() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		cfg = &config.Config{Baud: config.DefaultBaudRate, Timeout: config.DefaultTimeout}
	}

	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", cfg.Port,
		"Serial port to use (defaults to MPSYNC_PORT or ESP_PORT)")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baudrate", "b", cfg.Baud,
		fmt.Sprintf("Baud rate, default is %d", config.DefaultBaudRate))
	rootCmd.PersistentFlags().IntVarP(&timeoutFlag, "timeout", "t", int(cfg.Timeout/time.Second),
		"Idle timeout in seconds; any non-positive value means infinite")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Be verbose")
}

// sink returns the progress sink for the session: stdout when verbose,
// discard otherwise.
func sink() func(string) {
	if !verbose {
		return func(string) {}
	}
	return func(msg string) {
		os.Stdout.WriteString(msg)
	}
}

// openDevice connects to the configured serial port and resets the board
// into a known prompt state. The caller must Close the device.
func openDevice() (*device.Device, error) {
	if portFlag == "" {
		return nil, fmt.Errorf("either --port must be given or the MPSYNC_PORT/ESP_PORT environment variable must be set")
	}
	idle := config.NormalizeTimeout(timeoutFlag)
	logx.Debug("opening %s at %d baud (idle timeout %v)", portFlag, baudFlag, idle)

	d, err := device.Open(portFlag, baudFlag, idle, sink())
	if err != nil {
		return nil, err
	}
	if err := d.Reset(); err != nil {
		d.Close()
		return nil, fmt.Errorf("reset device: %w", err)
	}
	return d, nil
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Hardware-reset the device into the interactive prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		return d.Close()
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
