package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/grip/internal/workflow"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage and run multi-step workflows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved workflows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			store, err := workflow.NewStore(stack.Workspace.WorkflowsDir())
			if err != nil {
				return err
			}
			for _, name := range store.List() {
				fmt.Println(name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save [file.json]",
		Short: "Validate and save a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var def workflow.Def
			if err := json.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("parse workflow: %w", err)
			}
			if errs := def.Validate(); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, "-", e)
				}
				return fmt.Errorf("workflow %q is invalid", def.Name)
			}

			stack, err := buildStack()
			if err != nil {
				return err
			}
			store, err := workflow.NewStore(stack.Workspace.WorkflowsDir())
			if err != nil {
				return err
			}
			if err := store.Save(&def); err != nil {
				return err
			}
			fmt.Println("Saved workflow:", def.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run [name]",
		Short: "Execute a saved workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			stack, err := buildStackWith(cfg, logger)
			if err != nil {
				return err
			}
			store, err := workflow.NewStore(stack.Workspace.WorkflowsDir())
			if err != nil {
				return err
			}
			def, err := store.Load(args[0])
			if err != nil {
				return err
			}

			engine := workflow.NewEngine(cfg, stack.Engine, nil, logger)
			result, err := engine.Run(cmd.Context(), def)
			if err != nil {
				return err
			}

			fmt.Printf("Workflow %s: %s (%.1fs)\n", result.WorkflowName, result.Status, result.Duration)
			for _, layer := range def.ExecutionLayers() {
				for _, name := range layer {
					sr := result.StepResults[name]
					line := fmt.Sprintf("  %-20s %s", name, sr.Status)
					if sr.Error != "" {
						line += "  (" + sr.Error + ")"
					}
					fmt.Println(line)
				}
			}
			if result.Status != "completed" {
				os.Exit(1)
			}
			return nil
		},
	})

	return cmd
}
