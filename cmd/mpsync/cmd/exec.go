package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mpsync/mpsync/internal/config"
	"github.com/mpsync/mpsync/internal/console"
	"github.com/mpsync/mpsync/internal/logx"
	"github.com/mpsync/mpsync/internal/transport"
	"github.com/mpsync/mpsync/pkg/device"
)

var (
	outputPath       string
	stopOnTerminator bool
)

var executeCmd = &cobra.Command{
	Use:   "execute <code>",
	Short: "Execute a snippet of source on the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		opts, out, closeOut, err := forwardSetup("")
		if err != nil {
			return err
		}
		defer closeOut()
		opts.WholeInput = true

		_, err = d.Forward(strings.NewReader(args[0]), out, opts)
		return err
	},
}

var executeFileCmd = &cobra.Command{
	Use:   "execute-file <path>",
	Short: "Execute a local script on the device",
	Long: `Send a local file to the device and execute it as pasted source. Use -
to forward standard input interactively.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()
		return runScript(d, args[0], false)
	},
}

var hotReloadCmd = &cobra.Command{
	Use:   "hot-reload <path>",
	Short: "Execute a local script and re-run it whenever it changes",
	Long: `Execute a local script on the device, watch its modification time, and on
every change reset the board and execute it again without ending the session.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "-" {
			return fmt.Errorf("cannot hot-reload stdin, it would not be possible to watch for changes")
		}
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()
		return runScript(d, args[0], true)
	},
}

// forwardSetup resolves the shared forwarding options and the output side of
// the --output flag. watchPath is set for hot reload.
func forwardSetup(watchPath string) (console.Options, io.Writer, func(), error) {
	opts := console.Options{
		IdleTimeout: config.NormalizeTimeout(timeoutFlag),
		PasteMode:   true,
		WatchPath:   watchPath,
	}
	if stopOnTerminator {
		opts.Terminator = transport.DefaultTerminator
	}

	closeOut := func() {}
	var out io.Writer
	switch outputPath {
	case "":
	case "-":
		out = os.Stdout
		opts.OutEncoding = "utf-8"
	default:
		f, err := os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return opts, nil, nil, err
		}
		out = f
		closeOut = func() { f.Close() }
	}
	return opts, out, closeOut, nil
}

// runScript forwards a file (or stdin) to the device, restarting after a
// reset whenever the watched file changes.
func runScript(d *device.Device, path string, hotReload bool) error {
	watchPath := ""
	if hotReload {
		watchPath = path
	}
	opts, out, closeOut, err := forwardSetup(watchPath)
	if err != nil {
		return err
	}
	defer closeOut()

	var in io.ReadCloser
	if path == "-" {
		in = os.Stdin
		opts.InEncoding = "utf-8"

		// Forward keystrokes unbuffered when attached to a terminal.
		if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
			old, err := term.MakeRaw(fd)
			if err != nil {
				return err
			}
			defer term.Restore(fd, old)
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		in = f
		opts.WholeInput = true
	}
	defer in.Close()

	for {
		restart, err := d.Forward(in, out, opts)
		if err != nil {
			return err
		}
		if !restart {
			return nil
		}

		logx.Debug("%s changed, resetting device and re-running", path)
		in.Close()
		if err := d.Reset(); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		in = f
	}
}

func init() {
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(executeFileCmd)
	rootCmd.AddCommand(hotReloadCmd)

	for _, c := range []*cobra.Command{executeCmd, executeFileCmd, hotReloadCmd} {
		c.Flags().StringVar(&outputPath, "output", "", "Write device output here; use - for stdout")
		c.Flags().BoolVarP(&stopOnTerminator, "stop-on-terminator", "s", false, "Stop when the prompt terminator appears in the device output")
	}
}
