package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	depotctx "github.com/filedepot/filedepot/internal/context"
)

func newContextCmd() *cobra.Command {
	contextCmd := &cobra.Command{
		Use:   "context",
		Short: "Manage saved depot connections",
		Long: `Manage saved depot connections.

A context stores a server URL and session token; login creates or
updates one. Contexts let you switch between depots without logging
in again.

Examples:
  # List all contexts
  filedepot context list

  # Switch to a context
  filedepot context use work

  # Show context details
  filedepot context show work

  # Delete a context
  filedepot context delete work`,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all contexts",
		RunE:    runContextList,
	}
	contextCmd.AddCommand(listCmd)

	useCmd := &cobra.Command{
		Use:     "use <name>",
		Aliases: []string{"switch"},
		Short:   "Switch to a context",
		Args:    cobra.ExactArgs(1),
		RunE:    runContextUse,
	}
	contextCmd.AddCommand(useCmd)

	showCmd := &cobra.Command{
		Use:     "show [name]",
		Aliases: []string{"get", "info"},
		Short:   "Show context details",
		Long:    `Show details for a context. If no name is provided, shows the active context.`,
		Args:    cobra.MaximumNArgs(1),
		RunE:    runContextShow,
	}
	contextCmd.AddCommand(showCmd)

	deleteCmd := &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm", "remove"},
		Short:   "Delete a context",
		Args:    cobra.ExactArgs(1),
		RunE:    runContextDelete,
	}
	contextCmd.AddCommand(deleteCmd)

	return contextCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runContextList(cmd *cobra.Command, args []string) error {
	store, err := depotctx.Load()
	if err != nil {
		return fmt.Errorf("load context store: %w", err)
	}

	if store.IsEmpty() {
		fmt.Println("No contexts configured.")
		fmt.Println("\nLog in to a depot to create one:")
		fmt.Println("  filedepot login <server-url> --username <name>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSERVER\tUSERNAME\tSESSION\tACTIVE")
	for _, ctx := range store.List() {
		session := ""
		if ctx.Token != "" {
			session = "yes"
		}
		active := ""
		if ctx.Name == store.Active {
			active = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ctx.Name, ctx.Server, ctx.Username, session, active)
	}
	_ = w.Flush()

	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runContextUse(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := depotctx.Load()
	if err != nil {
		return fmt.Errorf("load context store: %w", err)
	}

	if err := store.SetActive(name); err != nil {
		return err
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("save context store: %w", err)
	}

	ctx := store.Get(name)
	fmt.Printf("Switched to context %q (%s).\n", name, ctx.Server)
	if ctx.Token == "" {
		fmt.Println("No saved session; log in with: filedepot login")
	}
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runContextShow(cmd *cobra.Command, args []string) error {
	store, err := depotctx.Load()
	if err != nil {
		return fmt.Errorf("load context store: %w", err)
	}

	var ctx *depotctx.Context
	if len(args) > 0 {
		ctx = store.Get(args[0])
		if ctx == nil {
			return fmt.Errorf("context %q not found", args[0])
		}
	} else {
		ctx = store.GetActive()
		if ctx == nil {
			fmt.Println("No active context.")
			return nil
		}
	}

	session := "none"
	if ctx.Token != "" {
		session = "saved"
	}

	fmt.Printf("Name:     %s\n", ctx.Name)
	fmt.Printf("Server:   %s\n", ctx.Server)
	fmt.Printf("Username: %s\n", ctx.Username)
	fmt.Printf("Session:  %s\n", session)
	if ctx.Name == store.Active {
		fmt.Println("This context is active.")
	}
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runContextDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, err := depotctx.Load()
	if err != nil {
		return fmt.Errorf("load context store: %w", err)
	}

	if store.Get(name) == nil {
		return fmt.Errorf("context %q not found", name)
	}

	wasActive := store.Active == name
	store.Remove(name)
	if err := store.Save(); err != nil {
		return fmt.Errorf("save context store: %w", err)
	}

	fmt.Printf("Context %q deleted.\n", name)
	if wasActive {
		fmt.Println("No context is active now; pick one with: filedepot context use <name>")
	}
	return nil
}
