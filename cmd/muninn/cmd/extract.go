/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"io"

	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/archive"
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Drain the region's records into the archive database",
	Long: `Read every record out of the region and persist it in the archive
database, so the region can be erased without losing what it held.
Compressed dumps are decompressed on the way out when possible; a dump
that fails to decompress is archived as-is.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = current.cfg.Archive.Path
		}

		sink, err := archive.Open(out)
		if err != nil {
			return err
		}
		defer sink.Close()

		dec, err := zstd.NewReader(nil)
		if err != nil {
			return err
		}
		defer dec.Close()

		if _, err := current.store.OpenSession(); err != nil {
			return err
		}
		defer current.store.CloseSession()

		count := 0
		for {
			rec, err := current.store.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}

			if rec.Compressed {
				if plain, err := dec.DecodeAll(rec.Payload, nil); err == nil {
					rec.Payload = plain
					rec.Compressed = false
				} else {
					level.Warn(current.logger).Log("msg", "keeping dump compressed",
						"type", rec.Type, "instance", rec.Instance, "err", err)
				}
			}
			if err := sink.Put(rec); err != nil {
				return err
			}
			count++
		}
		cmd.Printf("archived %d record(s) to %s\n", count, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringP("out", "o", "", "Archive database path (defaults to the configured one)")
}
