package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyypherus/nomad/core"
	"github.com/cyypherus/nomad/pkg/config"
)

func nodesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "nodes", Short: "manage the saved node registry"}

	list := &cobra.Command{
		Use:   "list",
		Short: "list saved nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			registry := core.NewNodeRegistry(config.NodesPath())
			nodes := registry.All()
			if len(nodes) == 0 {
				fmt.Println("no saved nodes")
				return nil
			}
			for _, n := range nodes {
				fmt.Printf("%s  %s\n", n.Hash.Hex(), n.Name)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <hash>",
		Short: "remove a saved node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			hash, err := core.ParseAddress(args[0])
			if err != nil {
				return err
			}
			registry := core.NewNodeRegistry(config.NodesPath())
			if node, ok := registry.Remove(hash); ok {
				fmt.Printf("removed %s (%s)\n", node.Hash.Hex(), node.Name)
			} else {
				fmt.Println("no such node")
			}
			return nil
		},
	}

	cmd.AddCommand(list)
	cmd.AddCommand(remove)
	return cmd
}
