/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bytes"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Append stdin to the message ring",
	Long: `Stream standard input into the region's message ring. Messages go
through the same externally sourced write path the engine uses for
untrusted producers, so a truncated pipe is reported rather than papered
over.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			cmd.Println("nothing to write")
			return nil
		}
		if err := current.store.WriteFrom(bytes.NewReader(data), len(data)); err != nil {
			return err
		}
		cmd.Printf("wrote %d byte(s)\n", len(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)
}
