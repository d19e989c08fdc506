package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fly-io/thinp-harness/pkg/blockdev"
	"github.com/fly-io/thinp-harness/pkg/errors"
	"github.com/fly-io/thinp-harness/pkg/security"
	"github.com/spf13/cobra"
)

var wipeSectors uint64

var devSizeCmd = &cobra.Command{
	Use:   "dev-size <path>",
	Short: "Print the size of a block device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevSize,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe <path>",
	Short: "Zero-fill a device, or its first --sectors sectors",
	Args:  cobra.ExactArgs(1),
	RunE:  runWipe,
}

var devCodeCmd = &cobra.Command{
	Use:   "dev-code <path>",
	Short: "Print the major:minor device code used in tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevCode,
}

func init() {
	rootCmd.AddCommand(devSizeCmd, wipeCmd, devCodeCmd)
	wipeCmd.Flags().Uint64Var(&wipeSectors, "sectors", 0, "Limit the wipe to this many sectors (0 wipes the whole device)")
}

func runDevSize(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadToolsConfig()
	if err != nil {
		return err
	}
	_, tools := newTools(cfg)

	sectors, err := tools.Size(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d sectors (%s)\n", args[0], sectors, humanize.IBytes(sectors*blockdev.SectorSize))
	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadToolsConfig()
	if err != nil {
		return err
	}
	path := args[0]

	if err := security.NewValidator().ValidateDevicePath(path); err != nil {
		return err
	}

	_, tools := newTools(cfg)
	if wipeSectors > 0 {
		err = tools.WipeSectors(ctx, path, wipeSectors)
	} else {
		err = tools.Wipe(ctx, path)
	}
	if err != nil {
		return errors.Wrap(err, "wipe failed")
	}

	fmt.Printf("wiped %s\n", path)
	return nil
}

func runDevCode(cmd *cobra.Command, args []string) error {
	code, err := blockdev.DeviceCode(args[0])
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}
