package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List a directory on the device",
	Long:  `List entry names: sorted directories first (with a trailing /), then sorted files.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		names, err := d.FS().List(args[0])
		if err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var lslCmd = &cobra.Command{
	Use:   "lsl <path>",
	Short: "List a directory on the device with sizes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		entries, err := d.FS().ListSizes(args[0])
		if err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\n", e.Name, e.Size)
		}
		return w.Flush()
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory on the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		sink()("MKDIR " + args[0] + "\n")
		if err := d.FS().Mkdir(args[0]); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return nil
	},
}

var makedirsCmd = &cobra.Command{
	Use:   "makedirs <path>",
	Short: "Create a directory and all missing ancestors",
	Long:  `Create every missing directory along an absolute path, left to right. Fails if an existing ancestor is a file.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		sink()("MAKEDIRS " + args[0] + "\n")
		if err := d.FS().MakeDirs(args[0]); err != nil {
			return fmt.Errorf("failed to create directories: %w", err)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file from the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		sink()("RM " + args[0] + "\n")
		if err := d.FS().Remove(args[0]); err != nil {
			return fmt.Errorf("failed to remove: %w", err)
		}
		return nil
	},
}

var rmtreeCmd = &cobra.Command{
	Use:   "rmtree <path>",
	Short: "Remove a file or directory tree from the device",
	Long: `Delete a path recursively. The path must be absolute and must not end
with a slash, except for "rmtree /" which wipes everything under the root
without removing the root itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.FS().RemoveTree(args[0]); err != nil {
			return fmt.Errorf("failed to remove tree: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(lslCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(makedirsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rmtreeCmd)
}
