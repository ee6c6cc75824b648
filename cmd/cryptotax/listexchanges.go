package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var listExchangesCmd = &cobra.Command{
	Use:   "list-exchanges",
	Short: "List every exchange id known to the mapping registry",
	Args:  cobra.NoArgs,
	RunE:  runListExchanges,
}

func runListExchanges(cmd *cobra.Command, args []string) error {
	cfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	ids := reg.ListIDs()
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
