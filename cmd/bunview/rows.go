package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunview/pkg/client"
	"github.com/kartikbazzad/bunview/pkg/operation"
)

func rowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "List, read and write rows",
	}

	var list client.ListParams
	var params map[string]string
	listCmd := &cobra.Command{
		Use:   "list <view>",
		Short: "List rows of a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			list.Params = params
			v := c.View(args[0])
			res, err := v.ReadRows(list, operation.Config{NetworkPolicy: operation.NetworkOnly}).Wait(cmd.Context())
			if err != nil {
				return err
			}
			page, _ := v.Page(res.Data)
			return printJSON(cmd.OutOrStdout(), map[string]any{"nodes": page.Nodes, "totalCount": page.TotalCount})
		},
	}
	listFlags(listCmd, &list, &params)

	getCmd := &cobra.Command{
		Use:   "get <view> <id>",
		Short: "Read one row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			v := c.View(args[0])
			res, err := v.ReadRow(args[1], operation.Config{NetworkPolicy: operation.NetworkOnly}).Wait(cmd.Context())
			if err != nil {
				return err
			}
			row, _ := v.Row(res.Data)
			return printJSON(cmd.OutOrStdout(), row)
		},
	}

	insertCmd := &cobra.Command{
		Use:   "insert <view> <json>",
		Short: "Insert a row and print it as stored",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseJSONObject(args[1])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			row, err := c.View(args[0]).InsertRow(cmd.Context(), data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		},
	}

	updateCmd := &cobra.Command{
		Use:   "update <view> <id> <json>",
		Short: "Patch a row and print it as stored",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseJSONObject(args[2])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			row, err := c.View(args[0]).UpdateRow(cmd.Context(), args[1], data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <view> <id>",
		Short: "Delete a row",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			if _, err := c.View(args[0]).DeleteRow(cmd.Context(), args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[1])
			return nil
		},
	}

	var interval time.Duration
	var watchList client.ListParams
	var watchParams map[string]string
	watchCmd := &cobra.Command{
		Use:   "watch <view>",
		Short: "Poll a view and print every result until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			defer c.Close()
			watchList.Params = watchParams
			out := cmd.OutOrStdout()
			v := c.View(args[0])
			handle := v.ReadRows(watchList, operation.Config{PollInterval: interval})
			unsubscribe := handle.Subscribe(func(res operation.Result) {
				if res.Error != nil {
					fmt.Fprintln(out, "error:", res.Error)
					return
				}
				page, _ := v.Page(res.Data)
				_ = printJSON(out, map[string]any{
					"nodes":      page.Nodes,
					"totalCount": page.TotalCount,
					"stale":      res.Stale,
				})
			})
			defer unsubscribe()
			<-cmd.Context().Done()
			return nil
		},
	}
	listFlags(watchCmd, &watchList, &watchParams)
	watchCmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Poll interval")

	cmd.AddCommand(listCmd, getCmd, insertCmd, updateCmd, deleteCmd, watchCmd)
	return cmd
}

func listFlags(cmd *cobra.Command, p *client.ListParams, params *map[string]string) {
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "Page size")
	cmd.Flags().IntVar(&p.Offset, "offset", 0, "Rows to skip")
	cmd.Flags().StringSliceVar(&p.Order, "order", nil, "Sort fields")
	cmd.Flags().StringToStringVar(params, "param", nil, "View parameters as key=value")
}
