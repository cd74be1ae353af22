package commands

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/greeddj/go-sbp/internal/progress"
	"github.com/greeddj/go-sbp/internal/sbp/archive"
	"github.com/urfave/cli/v2"
)

var errUnpackArgs = errors.New("usage: go-sbp unpack <bundle> [destination]")

// Unpack returns the CLI command that extracts the files of a bundle archive.
func Unpack() *cli.Command {
	return &cli.Command{
		Name:      "unpack",
		Aliases:   []string{"u"},
		Usage:     "Extract the serialized files of a built bundle",
		ArgsUsage: "<bundle> [destination]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "Only list the archive entries",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				progress.Errorf("%s", errUnpackArgs.Error())
				return errUnpackArgs
			}
			path := c.Args().Get(0)
			p := progress.New(false, false)
			defer p.Close()

			if c.Bool("list") {
				info, err := archive.ReadInfo(path)
				if err != nil {
					p.Errorf("Error: %s", err.Error())
					return err
				}
				for _, entry := range info.Entries {
					p.PersistentPrintf("%10d  %s", entry.Size, entry.Name)
				}
				p.PersistentPrintf("%d entries, %s", len(info.Entries), info.Compression)
				return nil
			}

			dst := c.Args().Get(1)
			if dst == "" {
				dst = strings.TrimSuffix(path, filepath.Ext(path)) + "_unpacked"
			}
			info, err := archive.Unpack(path, dst)
			if err != nil {
				p.Errorf("Error: %s", err.Error())
				return err
			}
			p.PersistentPrintf("✨ Unpacked %d files into %s", len(info.Entries), dst)
			return nil
		},
	}
}
