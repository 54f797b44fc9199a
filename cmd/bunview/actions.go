package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunview/pkg/client"
)

func relationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relation",
		Short: "Link and unlink related rows",
	}
	run := func(add bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			v := c.View(args[0])
			if add {
				_, err = v.AddRelation(cmd.Context(), args[1], args[2], args[3:]...)
			} else {
				_, err = v.RemoveRelation(cmd.Context(), args[1], args[2], args[3:]...)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <view> <row-id> <field> <ref-id>...",
			Short: "Link a row to other rows",
			Args:  cobra.MinimumNArgs(4),
			RunE:  run(true),
		},
		&cobra.Command{
			Use:   "remove <view> <row-id> <field> <ref-id>...",
			Short: "Unlink a row from other rows",
			Args:  cobra.MinimumNArgs(4),
			RunE:  run(false),
		},
	)
	return cmd
}

func actionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Run action fields",
	}
	triggerCmd := &cobra.Command{
		Use:   "trigger <view> <field> <row-id> [json-params]",
		Short: "Trigger an action on a row",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 4 {
				raw = args[3]
			}
			params, err := parseJSONObject(raw)
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			action, err := c.View(args[0]).Action(args[1])
			if err != nil {
				return err
			}
			if _, err := action.Trigger(cmd.Context(), args[2], params); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "executed")
			return nil
		},
	}
	cmd.AddCommand(triggerCmd)
	return cmd
}

func uploadCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <view> <file>",
		Short: "Upload a file and print its URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[1]))
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			u, err := c.View(args[0]).Upload(cmd.Context(), client.File{
				Name:        filepath.Base(args[1]),
				ContentType: contentType,
				Data:        data,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type (guessed from the extension when empty)")
	return cmd
}
