package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/pkg/bytesize"
	"github.com/filedepot/filedepot/pkg/proto"
)

var (
	userPassword string
	userRole     string
	userGB       int
)

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage depot accounts",
		Long: `Manage accounts on the active depot.

These commands need a staff or master session; clients manage only
their own account through register/login.

Examples:
  # Create a client with a 20 GB allocation
  filedepot user add bob --gb 20

  # Promote operations staff
  filedepot user add carol --role staff

  # Change an allocation
  filedepot user quota <user-id> 50

  # List accounts
  filedepot user list`,
	}

	addCmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserAdd,
	}
	addCmd.Flags().StringVarP(&userPassword, "password", "p", "", "account password (prompted if omitted)")
	addCmd.Flags().StringVar(&userRole, "role", "client", "account role: client or staff")
	addCmd.Flags().IntVar(&userGB, "gb", 0, "storage allocation in GB (0 = server default)")
	userCmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts",
		RunE:    runUserList,
	}
	userCmd.AddCommand(listCmd)

	delCmd := &cobra.Command{
		Use:     "del <user-id>",
		Aliases: []string{"rm", "delete"},
		Short:   "Delete an account and all its files",
		Args:    cobra.ExactArgs(1),
		RunE:    runUserDel,
	}
	userCmd.AddCommand(delCmd)

	quotaCmd := &cobra.Command{
		Use:   "quota <user-id> <gb>",
		Short: "Change an account's storage allocation",
		Args:  cobra.ExactArgs(2),
		RunE:  runUserQuota,
	}
	userCmd.AddCommand(quotaCmd)

	return userCmd
}

// nolint:revive // args required by cobra.Command RunE signature
func runUserAdd(cmd *cobra.Command, args []string) error {
	username := args[0]

	client, _, err := activeClient()
	if err != nil {
		return err
	}

	password := userPassword
	if password == "" {
		password = promptLine("Password for " + username + ": ")
	}

	var created storage.User
	err = client.doJSON(http.MethodPost, "/api/users", proto.CreateUserRequest{
		Username:     username,
		Password:     password,
		Role:         userRole,
		GBAllocation: userGB,
	}, &created)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("User %q created.\n", created.Username)
	fmt.Printf("  ID:         %s\n", created.ID)
	fmt.Printf("  Role:       %s\n", created.Role)
	fmt.Printf("  Allocation: %d GB\n", created.GBAllocation)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runUserList(cmd *cobra.Command, args []string) error {
	client, _, err := activeClient()
	if err != nil {
		return err
	}

	var listResp struct {
		Users []*storage.User `json:"users"`
	}
	if err := client.doJSON(http.MethodGet, "/api/users", nil, &listResp); err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if len(listResp.Users) == 0 {
		fmt.Println("No users.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tALLOCATION\tUSED\tCREATED")
	for _, u := range listResp.Users {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d GB\t%s\t%s\n",
			u.ID, u.Username, u.Role, u.GBAllocation,
			bytesize.Format(u.UsedBytes),
			u.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()

	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runUserDel(cmd *cobra.Command, args []string) error {
	userID := args[0]

	client, _, err := activeClient()
	if err != nil {
		return err
	}

	if err := client.doJSON(http.MethodDelete, "/api/users/"+userID, nil, nil); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	fmt.Printf("User %s deleted.\n", userID)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runUserQuota(cmd *cobra.Command, args []string) error {
	userID := args[0]
	gb, err := strconv.Atoi(args[1])
	if err != nil || gb < 0 {
		return fmt.Errorf("allocation must be a non-negative number of GB, got %q", args[1])
	}

	client, _, err := activeClient()
	if err != nil {
		return err
	}

	err = client.doJSON(http.MethodPut, "/api/users/"+userID+"/allocation", proto.SetAllocationRequest{
		GBAllocation: gb,
	}, nil)
	if err != nil {
		return fmt.Errorf("set allocation: %w", err)
	}

	fmt.Printf("Allocation for %s set to %d GB.\n", userID, gb)
	return nil
}
