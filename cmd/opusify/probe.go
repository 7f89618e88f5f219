package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/glizzus/opusify/internal/ogg"
	"github.com/glizzus/opusify/internal/probe"
)

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:      "probe",
		Usage:     "Verify an Ogg/Opus file and print its headers and layout",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "pages", Usage: "list every page"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected FILE", 2)
			}
			path := c.Args().First()
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			rep, err := probe.Inspect(f)
			if err != nil {
				return fmt.Errorf("failed to inspect %s: %w", path, err)
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			packets, err := probe.CountPackets(f)
			if err != nil {
				return fmt.Errorf("failed to count packets in %s: %w", path, err)
			}
			if packets != rep.Packets+2 {
				return fmt.Errorf("page parser found %d packets but the independent reader found %d", rep.Packets+2, packets)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "serial\t%d\n", rep.Serial)
			fmt.Fprintf(w, "channels\t%d\n", rep.Head.Channels)
			fmt.Fprintf(w, "pre-skip\t%d\n", rep.Head.PreSkip)
			fmt.Fprintf(w, "input rate\t%d Hz\n", rep.Head.InputSampleRate)
			fmt.Fprintf(w, "vendor\t%s\n", rep.Tags.Vendor)
			for _, comment := range rep.Tags.Comments {
				fmt.Fprintf(w, "comment\t%s\n", comment)
			}
			fmt.Fprintf(w, "pages\t%d\n", len(rep.Pages))
			fmt.Fprintf(w, "packets\t%d\n", rep.Packets)
			fmt.Fprintf(w, "bytes\t%d\n", rep.Bytes)
			fmt.Fprintf(w, "duration\t%v\n", rep.Duration())
			fmt.Fprintf(w, "complete\t%t\n", rep.Ended)

			if c.Bool("pages") {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "seq\tflags\tgranule\tsegments\tpackets\tsize")
				for _, p := range rep.Pages {
					granule := fmt.Sprint(p.Granule)
					if p.Granule == ogg.NoGranule {
						granule = "-"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\n", p.Sequence, flags(p.Flags), granule, p.Segments, p.Finished, p.Size)
				}
			}
			return w.Flush()
		},
	}
}

func flags(f byte) string {
	s := []byte("---")
	if f&ogg.FlagContinued != 0 {
		s[0] = 'c'
	}
	if f&ogg.FlagFirstPage != 0 {
		s[1] = 'b'
	}
	if f&ogg.FlagLastPage != 0 {
		s[2] = 'e'
	}
	return string(s)
}
