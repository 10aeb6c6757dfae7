/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/store"
)

// eraseCmd represents the erase command
var eraseCmd = &cobra.Command{
	Use:   "erase TYPE [INSTANCE]",
	Short: "Erase stored records by type",
	Long: `Erase the content of a record's zones: a single dump slot (dump with
an instance number), the console or message ring, or every trace shard.

Examples:
  muninn erase dump 0
  muninn erase console
  muninn erase trace`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := store.ParseRecordType(args[0])
		if err != nil {
			return err
		}
		instance := 0
		if len(args) == 2 {
			instance, err = strconv.Atoi(args[1])
			if err != nil {
				return err
			}
		}
		if err := current.store.Erase(t, instance); err != nil {
			return err
		}
		cmd.Printf("erased %s %d\n", t, instance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eraseCmd)
}
