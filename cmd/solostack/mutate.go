package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/mutation"
	"github.com/spf13/cobra"
)

var mutateJSON string

var mutateCmd = &cobra.Command{
	Use:   "mutate",
	Short: "Write an entity through the Mutation API (C2)",
}

func readMutatePayload() ([]byte, error) {
	if mutateJSON != "" {
		return []byte(mutateJSON), nil
	}
	return io.ReadAll(os.Stdin)
}

func newUpsertCmd(use, short string, run func(api *mutation.API, body []byte) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			api, err := mutation.New(db)
			if err != nil {
				return err
			}

			body, err := readMutatePayload()
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			return run(api, body)
		},
	}
	cmd.Flags().StringVar(&mutateJSON, "json", "", "entity JSON (reads stdin if omitted)")
	return cmd
}

func newDeleteCmd(use, short string, run func(api *mutation.API, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			api, err := mutation.New(db)
			if err != nil {
				return err
			}
			return run(api, args[0])
		},
	}
}

func init() {
	taskCmd := &cobra.Command{Use: "task", Short: "Mutate a task"}
	taskCmd.AddCommand(newUpsertCmd("upsert", "Create or update a task", func(api *mutation.API, body []byte) error {
		var t models.Task
		if err := json.Unmarshal(body, &t); err != nil {
			return fmt.Errorf("parse task JSON: %w", err)
		}
		return api.UpsertTask(&t)
	}))
	taskCmd.AddCommand(newDeleteCmd("delete <id>", "Delete a task", func(api *mutation.API, id string) error {
		return api.DeleteTask(id)
	}))

	projectCmd := &cobra.Command{Use: "project", Short: "Mutate a project"}
	projectCmd.AddCommand(newUpsertCmd("upsert", "Create or update a project", func(api *mutation.API, body []byte) error {
		var p models.Project
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("parse project JSON: %w", err)
		}
		return api.UpsertProject(&p)
	}))
	projectCmd.AddCommand(newDeleteCmd("delete <id>", "Delete a project", func(api *mutation.API, id string) error {
		return api.DeleteProject(id)
	}))

	subtaskCmd := &cobra.Command{Use: "subtask", Short: "Mutate a subtask"}
	subtaskCmd.AddCommand(newUpsertCmd("upsert", "Create or update a subtask", func(api *mutation.API, body []byte) error {
		var s models.Subtask
		if err := json.Unmarshal(body, &s); err != nil {
			return fmt.Errorf("parse subtask JSON: %w", err)
		}
		return api.UpsertSubtask(&s)
	}))
	subtaskCmd.AddCommand(newDeleteCmd("delete <id>", "Delete a subtask", func(api *mutation.API, id string) error {
		return api.DeleteSubtask(id)
	}))

	changelogCmd := &cobra.Command{Use: "changelog", Short: "Mutate a task changelog entry"}
	changelogCmd.AddCommand(newUpsertCmd("upsert", "Create or update a changelog entry", func(api *mutation.API, body []byte) error {
		var c models.TaskChangelog
		if err := json.Unmarshal(body, &c); err != nil {
			return fmt.Errorf("parse changelog JSON: %w", err)
		}
		return api.UpsertTaskChangelog(&c)
	}))
	changelogCmd.AddCommand(newDeleteCmd("delete <id>", "Delete a changelog entry", func(api *mutation.API, id string) error {
		return api.DeleteTaskChangelog(id)
	}))

	templateCmd := &cobra.Command{Use: "template", Short: "Mutate a task template"}
	templateCmd.AddCommand(newUpsertCmd("upsert", "Create or update a task template", func(api *mutation.API, body []byte) error {
		var t models.TaskTemplate
		if err := json.Unmarshal(body, &t); err != nil {
			return fmt.Errorf("parse template JSON: %w", err)
		}
		return api.UpsertTaskTemplate(&t)
	}))
	templateCmd.AddCommand(newDeleteCmd("delete <id>", "Delete a task template", func(api *mutation.API, id string) error {
		return api.DeleteTaskTemplate(id)
	}))

	mutateCmd.AddCommand(taskCmd, projectCmd, subtaskCmd, changelogCmd, templateCmd)
	rootCmd.AddCommand(mutateCmd)
}
