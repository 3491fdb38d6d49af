package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/icn-commons/covm/core"
)

func main() {
	rootCmd := &cobra.Command{Use: "covm"}
	rootCmd.PersistentFlags().String("config", "", "path to covm config YAML")
	rootCmd.PersistentFlags().String("identity", "anonymous", "caller identity for the auth context")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(proposalCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadVM(cmd *cobra.Command) (*core.VM, error) {
	configPath, _ := cmd.Flags().GetString("config")
	identity, _ := cmd.Flags().GetString("identity")

	cfg, _, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	storage := core.NewInMemoryStorage()
	auth := core.NewAuthContext(identity)
	auth.Grant(core.RoleAdmin, "")
	return core.NewVM(storage, auth, "default", cfg), nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [oplist.json]",
		Short: "execute an operation-list file against a fresh VM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading oplist: %w", err)
			}
			var ops []core.Operation
			if err := json.Unmarshal(raw, &ops); err != nil {
				return fmt.Errorf("parsing oplist: %w", err)
			}
			vm, err := loadVM(cmd)
			if err != nil {
				return err
			}
			if err := vm.Run(ops); err != nil {
				return fmt.Errorf("execution failed: %w", err)
			}
			for _, ev := range vm.Executor.Events() {
				fmt.Printf("[%s] %s\n", ev.Topic, ev.Message)
			}
			if vm.Stack.Len() > 0 {
				top, _ := vm.Stack.Peek()
				fmt.Println("top of stack:", top.String())
			}
			return nil
		},
	}
	return cmd
}

func proposalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proposal"}
	cmd.AddCommand(proposalSubmitCmd(), proposalVoteCmd(), proposalExecuteCmd(), proposalShowCmd())
	return cmd
}

func newEngine(cmd *cobra.Command) (*core.ProposalEngine, *core.InMemoryStorage, error) {
	identity, _ := cmd.Flags().GetString("identity")
	storage := core.NewInMemoryStorage()
	auth := core.NewAuthContext(identity)
	auth.Grant(core.RoleAdmin, "")
	return core.NewProposalEngine(storage, auth), storage, nil
}

func proposalSubmitCmd() *cobra.Command {
	var title, description, namespace string
	var quorum, threshold float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "submit a new draft proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, _ := cmd.Flags().GetString("identity")
			engine, _, err := newEngine(cmd)
			if err != nil {
				return err
			}
			p, err := engine.Submit(title, description, identity, namespace, quorum, threshold)
			if err != nil {
				return err
			}
			fmt.Println("proposal created:", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "proposal title")
	cmd.Flags().StringVar(&description, "description", "", "proposal description")
	cmd.Flags().StringVar(&namespace, "namespace", "default", "membership namespace")
	cmd.Flags().Float64Var(&quorum, "quorum", 0.5, "quorum ratio (0.0-1.0)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.5, "approval threshold ratio (0.0-1.0)")
	return cmd
}

func proposalVoteCmd() *cobra.Command {
	var id, choice string
	var weight float64
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "cast a vote on a proposal open for voting",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, _ := cmd.Flags().GetString("identity")
			engine, _, err := newEngine(cmd)
			if err != nil {
				return err
			}
			var vc core.VoteChoice
			switch choice {
			case "approve":
				vc = core.VoteApprove
			case "reject":
				vc = core.VoteReject
			default:
				vc = core.VoteAbstain
			}
			return engine.Vote(id, identity, vc, weight)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "proposal id")
	cmd.Flags().StringVar(&choice, "choice", "approve", "approve|reject|abstain")
	cmd.Flags().Float64Var(&weight, "weight", 1, "vote weight")
	return cmd
}

func proposalExecuteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "run the bound operation list of a proposal in voting",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, storage, err := newEngine(cmd)
			if err != nil {
				return err
			}
			identity, _ := cmd.Flags().GetString("identity")
			auth := core.NewAuthContext(identity)
			auth.Grant(core.RoleAdmin, "")
			cfg, _, _ := core.LoadConfig("")
			vm := core.NewVM(storage, auth, "default", cfg)
			result, err := engine.Execute(id, vm)
			if err != nil {
				return err
			}
			fmt.Printf("attempt %d success=%v at %s\n", result.Attempt, result.Success, time.UnixMilli(result.Timestamp))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "proposal id")
	return cmd
}

func proposalShowCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "print a proposal's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := newEngine(cmd)
			if err != nil {
				return err
			}
			p, err := engine.Load(id)
			if err != nil {
				return err
			}
			fmt.Printf("%s %q status=%s quorum=%.2f threshold=%.2f\n", p.ID, p.Title, p.Status, p.Quorum, p.Threshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "proposal id")
	return cmd
}
