package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpsync/mpsync/internal/transfer"
)

var (
	overwrite bool
	contents  bool
	quick     bool
)

func transferOptions() transfer.Options {
	return transfer.Options{
		Overwrite: overwrite,
		Contents:  contents,
		Quick:     quick,
	}
}

var uploadCmd = &cobra.Command{
	Use:   "upload <src> <dst>",
	Short: "Upload a local file or directory tree to the device",
	Long: `Upload src into the remote directory dst. With --contents, the children
of src are placed directly under dst instead of recreating src itself; src
must then be a directory.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Transfer().Upload(args[0], args[1], transferOptions()); err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <src> <dst>",
	Short: "Download a file or directory tree from the device",
	Long:  `Download remote src into the local directory dst, which must exist.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDevice()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Transfer().Download(args[0], args[1], transferOptions()); err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)

	for _, c := range []*cobra.Command{uploadCmd, downloadCmd} {
		c.Flags().BoolVarP(&overwrite, "overwrite", "o", false, "Overwrite existing destination files")
		c.Flags().BoolVarP(&contents, "contents", "c", false, "Copy the contents of the source directory instead of the directory itself")
		c.Flags().BoolVarP(&quick, "quick", "q", false, "Copy only if the file size differs")
	}
}
