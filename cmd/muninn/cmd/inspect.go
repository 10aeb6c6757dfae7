/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the records held in the region",
	Long: `Open a read session over the region and list every surviving record:
crash dumps in rotation order, the console ring, operator messages and the
merged trace log. With --payload the record bodies are printed as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showPayload, _ := cmd.Flags().GetBool("payload")

		session, err := current.store.OpenSession()
		if err != nil {
			return err
		}
		defer current.store.CloseSession()

		cmd.Printf("session %s\n", session)
		count := 0
		for {
			rec, err := current.store.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			count++

			cmd.Printf("%-8s instance=%d size=%d", rec.Type, rec.Instance, len(rec.Payload))
			if !rec.Time.IsZero() {
				cmd.Printf(" time=%s", rec.Time.UTC().Format("2006-01-02T15:04:05.000000Z"))
			}
			if rec.Compressed {
				cmd.Printf(" compressed")
			}
			if rec.Notice != "" {
				cmd.Printf(" %s", strings.TrimSpace(rec.Notice))
			}
			cmd.Println()

			if showPayload && !rec.Compressed {
				cmd.Println(string(rec.Payload))
			}
		}
		cmd.Printf("%d record(s)\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("payload", false, "Print record payloads")
}
