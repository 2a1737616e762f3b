package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/digitraceslab/koota/internal/apikey"
	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	"github.com/digitraceslab/koota/internal/authorization"
	"github.com/digitraceslab/koota/internal/clock"
	"github.com/digitraceslab/koota/internal/config"
	"github.com/digitraceslab/koota/internal/group"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	"github.com/digitraceslab/koota/internal/logger"
	"github.com/digitraceslab/koota/internal/migration"
	"github.com/digitraceslab/koota/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const startTimeout = 30 * time.Second

// services are the domain services the admin commands drive.
type services struct {
	keys   apikeydomain.Service
	groups groupdomain.Service
	authz  authorization.Service
}

// NewRootCommand builds the koota-admin command tree.
func NewRootCommand(stdout io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:           "koota-admin",
		Short:         "koota-admin - bootstrap users, study groups and permissions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.AddCommand(newAPIKeyCommand(stdout), newGroupCommand(stdout))
	return rc
}

func newAPIKeyCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create <user>",
		Short: "Create an API key for a user and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withServices(c.Context(), func(s services) error {
				secret, err := s.keys.Create(c.Context(), args[0], apikeydomain.CreateRequest{Name: name})
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s\t%s\n", secret.KeyID, secret.APIKey)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "admin", "key name")

	revoke := &cobra.Command{
		Use:   "revoke <user> <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withServices(c.Context(), func(s services) error {
				return s.keys.Revoke(c.Context(), args[0], args[1])
			})
		},
	}

	cmd.AddCommand(create, revoke)
	return cmd
}

func newGroupCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Manage study groups"}

	var req groupdomain.CreateRequest
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a study group and print its slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			req.Name = args[0]
			return withServices(c.Context(), func(s services) error {
				g, err := s.groups.Create(c.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, g.Slug)
				return nil
			})
		},
	}
	create.Flags().StringVar(&req.Slug, "slug", "", "slug, derived from the name when empty")
	create.Flags().IntVar(&req.Priority, "priority", 0, "overlay priority, higher wins")
	create.Flags().StringVar(&req.InviteCode, "invite", "", "invite code subjects join with")

	var role string
	grant := &cobra.Command{
		Use:   "grant <slug> <user>",
		Short: "Give a user a role in a study group",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withServices(c.Context(), func(s services) error {
				return s.authz.Grant(c.Context(), args[1], args[0], role)
			})
		},
	}
	grant.Flags().StringVar(&role, "role", authorization.RoleResearcher, "researcher or admin")

	revoke := &cobra.Command{
		Use:   "revoke <slug> <user>",
		Short: "Remove a user's role in a study group",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withServices(c.Context(), func(s services) error {
				return s.authz.Revoke(c.Context(), args[1], args[0], role)
			})
		},
	}
	revoke.Flags().StringVar(&role, "role", authorization.RoleResearcher, "researcher or admin")

	cmd.AddCommand(create, grant, revoke)
	return cmd
}

// withServices starts the persistence stack, runs fn and shuts it down.
func withServices(ctx context.Context, fn func(services) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var s services
	app := fx.New(
		fx.NopLogger,
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		group.Module,
		authorization.Module,
		apikey.Module,
		fx.Invoke(func(keys apikeydomain.Service, groups groupdomain.Service, authz authorization.Service) {
			s = services{keys: keys, groups: groups, authz: authz}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(s)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
