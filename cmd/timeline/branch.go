package main

import (
	"fmt"
	"path/filepath"

	"timeline/internal/repository"
	"timeline/shared/types"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func branchCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "branch",
		Short: "Manage branches",
	}

	var newCmd = &cobra.Command{
		Use:   "new FILE NAME",
		Short: "Create a branch at the active branch's head",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkout, _ := cmd.Flags().GetBool("checkout")
			ref, err := repoRef(args[0])
			if err != nil {
				return err
			}
			b, err := newClient().NewBranch(cmd.Context(), types.BranchRequest{
				RepoRef:    ref,
				BranchName: args[1],
				Checkout:   checkout,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created branch %s at %s\n", color.GreenString(b.Name), headLabel(b.Head))
			if checkout {
				fmt.Printf("Switched to %s\n", color.GreenString(b.Name))
			}
			return nil
		},
	}
	newCmd.Flags().BoolP("checkout", "c", false, "Switch to the new branch")

	var listCmd = &cobra.Command{
		Use:   "list FILE",
		Short: "List branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := repoPath(args[0])
			if err != nil {
				return err
			}
			c := newClient()
			names, err := c.Branches(cmd.Context(), id)
			if err != nil {
				return err
			}
			current, err := c.CurrentBranch(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, name := range names {
				if name == current {
					fmt.Println("*", color.GreenString(name))
					continue
				}
				fmt.Println(" ", name)
			}
			return nil
		},
	}

	var switchCmd = &cobra.Command{
		Use:   "switch FILE NAME",
		Short: "Make NAME the active branch and write its head to FILE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := repoRef(args[0])
			if err != nil {
				return err
			}
			b, err := newClient().SwitchBranch(cmd.Context(), types.BranchRequest{
				RepoRef:    ref,
				BranchName: args[1],
			})
			if err != nil {
				return err
			}
			fmt.Printf("Switched to %s at %s\n", color.GreenString(b.Name), headLabel(b.Head))
			return nil
		},
	}

	var currentCmd = &cobra.Command{
		Use:   "current FILE",
		Short: "Print the active branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := repoPath(args[0])
			if err != nil {
				return err
			}
			name, err := newClient().CurrentBranch(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		},
	}

	cmd.AddCommand(newCmd, listCmd, switchCmd, currentCmd)
	return cmd
}

func configCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "config",
		Short: "Read and write repository settings",
	}

	var setNameCmd = &cobra.Command{
		Use:   "set-name FILE NAME",
		Short: "Set the author name recorded on new checkpoints",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := repoRef(args[0])
			if err != nil {
				return err
			}
			v, err := newClient().SetConfig(cmd.Context(), types.ConfigRequest{
				RepoRef: ref,
				Key:     repository.SettingName,
				Value:   args[1],
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", v.Key, v.Value)
			return nil
		},
	}

	var getNameCmd = &cobra.Command{
		Use:   "get-name FILE",
		Short: "Print the author name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := repoPath(args[0])
			if err != nil {
				return err
			}
			name, err := newClient().GetConfig(cmd.Context(), id, repository.SettingName)
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		},
	}

	cmd.AddCommand(setNameCmd, getNameCmd)
	return cmd
}

// repoRef builds the request reference for FILE. The file path is always
// sent so a switch can rewrite the file.
func repoRef(file string) (types.RepoRef, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return types.RepoRef{}, err
	}
	return types.RepoRef{DBPath: dbPath, FilePath: abs}, nil
}
