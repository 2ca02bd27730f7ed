package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/climatrak/internal/app/store/audit"
	"github.com/dalemusser/climatrak/internal/app/system/provision"
	"github.com/dalemusser/climatrak/internal/domain/models"
	"github.com/spf13/cobra"
)

func newTenantCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var in provision.TenantInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and prepare its partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				t, err := svc.CreateTenant(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s created (schema %s, id %s)\n", t.Slug, t.SchemaName, t.ID.Hex())
				return nil
			})
		},
	}
	f := create.Flags()
	f.StringVar(&in.Name, "name", "", "display name")
	f.StringVar(&in.Slug, "slug", "", "URL-safe identifier (defaults from schema)")
	f.StringVar(&in.Schema, "schema", "", "partition schema name (immutable)")
	f.StringSliceVar(&in.Domains, "domain", nil, "host routed to the tenant; repeatable, first is primary")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("schema")

	cmd.AddCommand(create,
		newTenantStatusCommand(g, "suspend", models.TenantSuspended, "Suspend a tenant; its users can no longer sign in"),
		newTenantStatusCommand(g, "activate", models.TenantActive, "Reactivate a suspended tenant"),
		newAddDomainCommand(g),
	)
	return cmd
}

func newTenantStatusCommand(g *globalFlags, use, status, short string) *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				t, err := svc.SetTenantStatus(ctx, schema, status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s is %s\n", t.SchemaName, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schema, "tenant", "", "tenant schema name")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newAddDomainCommand(g *globalFlags) *cobra.Command {
	var schema, domain string
	cmd := &cobra.Command{
		Use:   "add-domain",
		Short: "Route another host to a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				t, err := svc.AddDomain(ctx, schema, domain)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s domains: %s\n", t.SchemaName, strings.Join(t.Domains, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schema, "tenant", "", "tenant schema name")
	cmd.Flags().StringVar(&domain, "domain", "", "host to add")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func newUserCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage tenant users",
	}

	var in provision.UserInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user with a membership and mirror it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				u, m, err := svc.CreateUser(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s created in %s (id %s, role %s)\n", u.Email, in.Schema, u.ID.Hex(), m.Role)
				return nil
			})
		},
	}
	f := create.Flags()
	f.StringVar(&in.Schema, "tenant", "", "tenant schema name")
	f.StringVar(&in.Email, "email", "", "email address")
	f.StringVar(&in.Username, "username", "", "username (defaults to the email's local part)")
	f.StringVar(&in.FullName, "full-name", "", "display name")
	f.StringVar(&in.Password, "password", "", "initial password")
	f.StringVar(&in.Role, "role", models.RoleViewer, "owner, admin, operator, technician or viewer")
	for _, name := range []string{"tenant", "email", "password"} {
		_ = create.MarkFlagRequired(name)
	}

	cmd.AddCommand(create,
		newUserStatusCommand(g, "deactivate", false, "Disable a user and mirror its membership as inactive"),
		newUserStatusCommand(g, "activate", true, "Re-enable a disabled user"),
	)
	return cmd
}

func newUserStatusCommand(g *globalFlags, use string, active bool, short string) *cobra.Command {
	var schema, user string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				if err := svc.SetUserActive(ctx, schema, user, active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s %sd in %s\n", user, use, schema)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schema, "tenant", "", "tenant schema name")
	cmd.Flags().StringVar(&user, "user", "", "email address or username")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMemberCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage tenant memberships",
	}

	var in provision.MembershipInput
	set := &cobra.Command{
		Use:   "set",
		Short: "Change a member's role or status and mirror it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.Role == "" && in.Status == "" {
				return fmt.Errorf("at least one of --role or --status is required")
			}
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				m, err := svc.SetMembership(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "membership of %s in %s: role %s, status %s\n", in.User, in.Schema, m.Role, m.Status)
				return nil
			})
		},
	}
	f := set.Flags()
	f.StringVar(&in.Schema, "tenant", "", "tenant schema name")
	f.StringVar(&in.User, "user", "", "email address or username")
	f.StringVar(&in.Role, "role", "", "owner, admin, operator, technician or viewer")
	f.StringVar(&in.Status, "status", "", "active, inactive, invited or suspended")
	_ = set.MarkFlagRequired("tenant")
	_ = set.MarkFlagRequired("user")

	cmd.AddCommand(set)
	return cmd
}

func newDeviceCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage devices",
	}

	var schema, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a device and print its credentials",
		Long: `Register a device in a tenant partition.

The client id and secret are printed once. The secret cannot be shown again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				d, err := svc.CreateDevice(ctx, schema, name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "client_id: %s\n", d.ClientID)
				fmt.Fprintf(out, "secret:    %s\n", d.Secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&schema, "tenant", "", "tenant schema name")
	create.Flags().StringVar(&name, "name", "", "device name")
	_ = create.MarkFlagRequired("tenant")

	cmd.AddCommand(create,
		newDeviceStatusCommand(g, "disable", false, "Reject all further requests from a device"),
		newDeviceStatusCommand(g, "enable", true, "Accept requests from a disabled device again"),
	)
	return cmd
}

func newDeviceStatusCommand(g *globalFlags, use string, active bool, short string) *cobra.Command {
	var schema, clientID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				if err := svc.SetDeviceActive(ctx, schema, clientID, active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "device %s %sd\n", clientID, use)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schema, "tenant", "", "tenant schema name")
	cmd.Flags().StringVar(&clientID, "client-id", "", "device client id")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func newSyncCommand(g *globalFlags) *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Re-mirror memberships into the shared partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				res, err := svc.Sync(ctx, schema)
				fmt.Fprintf(cmd.OutOrStdout(), "memberships %d, synced %d, skipped (no email) %d, missing user %d, deactivated %d\n",
					res.Memberships, res.Synced, res.SkippedNoEmail, res.MissingUser, res.Deactivated)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&schema, "tenant", "", "only this tenant schema (default all)")
	return cmd
}

func newAuditCommand(g *globalFlags) *cobra.Command {
	var (
		schema string
		since  time.Duration
		f      audit.QueryFilter
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent audit events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				t := time.Now().Add(-since)
				f.Since = &t
			}
			return g.run(cmd, func(ctx context.Context, svc *provision.Service) error {
				events, err := svc.Events(ctx, schema, f)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range events {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&schema, "tenant", "", "tenant schema (default the shared partition)")
	fl.StringVar(&f.Category, "category", "", "auth, device, security or admin")
	fl.StringVar(&f.EventType, "type", "", "event type")
	fl.StringVar(&f.DeviceID, "device", "", "device client id")
	fl.BoolVar(&f.FailedOnly, "failed", false, "only failed events")
	fl.DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	fl.Int64Var(&f.Limit, "limit", 100, "maximum events")
	return cmd
}
