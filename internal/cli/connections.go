package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"recordpipe/internal/app"
	"recordpipe/internal/secret"
	"recordpipe/internal/service"
)

var lookupEnv = os.LookupEnv

type ConnectionsCmd struct{}

func NewConnectionsCmd() *ConnectionsCmd {
	return &ConnectionsCmd{}
}

func (c *ConnectionsCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage external database connections used by the database source",
	}

	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Store a database connection (the password goes to the secret store)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			input, err := connectionInput(cmd.Flags())
			if err != nil {
				return err
			}
			input.Name = args[0]
			conn, err := a.Connections.CreateConnection(input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created connection %s (%s)\n", conn.Name, conn.ID)
			if a.Config().Secrets == "env" {
				// The env backend keeps runtime values in memory only.
				fmt.Fprintf(cmd.OutOrStdout(), "password is read from %s\n", secret.EnvKey(secret.ConnectionKey(conn.ID)))
			}
			return nil
		}),
	}
	addConnectionFlags(add.Flags())
	_ = add.MarkFlagRequired("driver")
	_ = add.MarkFlagRequired("host")

	update := &cobra.Command{
		Use:   "update <connection>",
		Short: "Update a stored connection (an empty password keeps the current one)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			current, err := a.Connections.GetConnection(args[0])
			if err != nil {
				return err
			}
			input, err := connectionInput(cmd.Flags())
			if err != nil {
				return err
			}
			input.Name = current.Name
			if input.Driver == "" {
				input.Driver = string(current.Driver)
			}
			if input.Host == "" {
				input.Host = current.Host
			}
			if !cmd.Flags().Changed("port") {
				input.Port = current.Port
			}
			if input.Database == "" {
				input.Database = current.Database
			}
			if input.Username == "" {
				input.Username = current.Username
			}
			if input.SSLMode == "" {
				input.SSLMode = current.SSLMode
			}
			_, err = a.Connections.UpdateConnection(current.ID, input)
			return err
		}),
	}
	addConnectionFlags(update.Flags())

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored connections",
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			conns, err := a.Connections.ListConnections()
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Name", "Driver", "Host", "Port", "Database", "User", "ID")
			for _, c := range conns {
				table.Append([]string{c.Name, string(c.Driver), c.Host, fmt.Sprint(c.Port), c.Database, c.Username, c.ID})
			}
			table.Render()
			return nil
		}),
	}

	test := &cobra.Command{
		Use:   "test <connection>",
		Short: "Open a connection and ping it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if err := a.Connections.TestConnection(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "connection OK")
			return nil
		}),
	}

	introspect := &cobra.Command{
		Use:   "introspect <connection>",
		Short: "List the tables and columns of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			schema, err := a.Connections.Introspect(ctx, args[0])
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "Table", "Columns")
			for _, t := range schema.Tables {
				cols := make([]string, len(t.Columns))
				for i, col := range t.Columns {
					cols[i] = col.Name + " " + col.Type
				}
				table.Append([]string{t.Name, strings.Join(cols, ", ")})
			}
			table.Render()
			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete <connection>",
		Short: "Delete a stored connection and its password",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			return a.Connections.DeleteConnection(args[0])
		}),
	}

	cmd.AddCommand(add, update, list, test, introspect, del)
	return cmd
}

func addConnectionFlags(flags *pflag.FlagSet) {
	flags.String("driver", "", "postgres, mysql, sqlite or mongodb")
	flags.String("host", "", "hostname, sqlite file path or mongodb:// URI")
	flags.Int("port", 0, "port (0 for the driver default)")
	flags.String("database", "", "database name")
	flags.String("user", "", "user name")
	flags.String("password-env", "", "read the password from this environment variable")
	flags.String("ssl-mode", "", "postgres sslmode")
	flags.String("extra", "", "driver-specific options as JSON")
}

func connectionInput(flags *pflag.FlagSet) (service.ConnectionInput, error) {
	var in service.ConnectionInput
	var err error
	get := func(name string, dst *string) {
		if err == nil {
			*dst, err = flags.GetString(name)
		}
	}
	get("driver", &in.Driver)
	get("host", &in.Host)
	get("database", &in.Database)
	get("user", &in.Username)
	get("ssl-mode", &in.SSLMode)
	get("extra", &in.ExtraJSON)
	var passwordEnv string
	get("password-env", &passwordEnv)
	if err != nil {
		return in, err
	}
	if in.Port, err = flags.GetInt("port"); err != nil {
		return in, err
	}
	if passwordEnv != "" {
		pw, ok := lookupEnv(passwordEnv)
		if !ok {
			return in, fmt.Errorf("password variable %s is not set", passwordEnv)
		}
		in.Password = pw
	}
	return in, nil
}
