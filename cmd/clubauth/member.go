package main

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-print"
	auth "github.com/picklehub/go-club-auth"
	"github.com/picklehub/go-club-auth/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openClient()
		if err != nil {
			return err
		}
		defer client.DB().Close()

		if err := database.Migrate(cmd.Context(), client); err != nil {
			return err
		}
		if report := client.Report(); report != nil && !report.IsZero() {
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "database is up to date")
		return nil
	},
}

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage member records",
	Long: `Manage member records.

Available subcommands:
  register   - Create a member with email and password
  list       - List members, optionally by status
  transition - Move a member through the membership lifecycle
  roles      - Replace the roles of a member`,
}

var (
	registerName     string
	registerEmail    string
	registerPhone    string
	registerPassword string
	registerRoles    []string
	registerLineID   string
	registerHashid   bool
)

var memberRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a member with email and password",
	Example: `  clubauth member register --name "Taro Yamada" --email taro@example.com \
    --password 'kitchenLine!99' --role member --role event_manager`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeFn, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		handler := auth.NewRegisterMemberHandler(repo).
			WithActivitySink(activityLogger()).
			WithLogger(auth.NewZapLogger(logger))

		if err := handler.Execute(cmd.Context(), auth.RegisterMemberMessage{
			DisplayName:    registerName,
			Email:          registerEmail,
			Phone:          registerPhone,
			Password:       registerPassword,
			Roles:          registerRoles,
			ExternalUserID: registerLineID,
			UseHashid:      registerHashid,
		}); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(handler.Registered))
		return nil
	},
}

var listStatus string

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List members",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeFn, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		members, err := repo.Members().List(cmd.Context(), auth.MemberStatus(listStatus))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, m := range members {
			fmt.Fprintf(w, "%-38s %-18s %-28s %s\n", m.ID, m.Status, m.Email, strings.Join(m.Roles, ","))
		}
		return nil
	},
}

var (
	transitionReason string
	transitionForce  bool
	transitionActor  string
)

var memberTransitionCmd = &cobra.Command{
	Use:   "transition [member-id] [status]",
	Short: "Move a member through the membership lifecycle",
	Long: fmt.Sprintf(`Move a member to another status.

Statuses: %s

Withdrawn and rejected members can only be moved with --force.`, joinStatuses()),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeFn, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		member, err := repo.Members().FindMemberByID(ctx, args[0])
		if err != nil {
			return err
		}

		sm := auth.NewMemberStateMachine(repo.Members(),
			auth.WithStateMachineActivitySink(activityLogger()),
			auth.WithStateMachineLogger(auth.NewZapLogger(logger)),
		)

		opts := []auth.TransitionOption{}
		if transitionReason != "" {
			opts = append(opts, auth.WithTransitionReason(transitionReason))
		}
		if transitionForce {
			opts = append(opts, auth.WithForceTransition())
		}

		updated, err := sm.Transition(ctx, auth.ActorRef{ID: transitionActor, Type: "cli"}, member, auth.MemberStatus(args[1]), opts...)
		if err != nil {
			return err
		}

		logger.Info("member status changed",
			zap.String("member_id", updated.ID),
			zap.String("from", string(member.Status)),
			zap.String("to", string(updated.Status)),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", updated.ID, member.Status, updated.Status)
		return nil
	},
}

var memberRolesCmd = &cobra.Command{
	Use:   "roles [member-id] [role...]",
	Short: "Replace the roles of a member",
	Long: fmt.Sprintf(`Replace the roles of a member. The first role is shown as the primary role.

Roles: %s`, strings.Join(auth.AllRoles(), ", ")),
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := auth.NormalizeRoles(args[1:])
		for _, r := range roles {
			if !isKnownRole(r) {
				return fmt.Errorf("unknown role %q", r)
			}
		}

		repo, closeFn, err := openRepo(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		updated, err := repo.Members().UpdateRoles(cmd.Context(), args[0], roles)
		if err != nil {
			return err
		}

		caps := []string{}
		for _, c := range auth.Capabilities(updated.Roles) {
			caps = append(caps, string(c))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: roles=%s capabilities=%s\n",
			updated.ID, strings.Join(updated.Roles, ","), strings.Join(caps, ","))
		return nil
	},
}

func init() {
	memberRegisterCmd.Flags().StringVar(&registerName, "name", "", "Display name (required)")
	memberRegisterCmd.Flags().StringVar(&registerEmail, "email", "", "Email address (required)")
	memberRegisterCmd.Flags().StringVar(&registerPhone, "phone", "", "Phone number, national numbers are read as Japanese")
	memberRegisterCmd.Flags().StringVar(&registerPassword, "password", "", "Password (required)")
	memberRegisterCmd.Flags().StringSliceVar(&registerRoles, "role", nil, "Role tag, repeatable (default member)")
	memberRegisterCmd.Flags().StringVar(&registerLineID, "line-user-id", "", "LINE user id to link")
	memberRegisterCmd.Flags().BoolVar(&registerHashid, "hashid", false, "Derive the member id from the email")
	memberRegisterCmd.MarkFlagRequired("name")
	memberRegisterCmd.MarkFlagRequired("email")
	memberRegisterCmd.MarkFlagRequired("password")

	memberListCmd.Flags().StringVar(&listStatus, "status", "", "Only list members in this status")

	memberTransitionCmd.Flags().StringVar(&transitionReason, "reason", "", "Reason recorded with the change")
	memberTransitionCmd.Flags().BoolVar(&transitionForce, "force", false, "Allow leaving a terminal status")
	memberTransitionCmd.Flags().StringVar(&transitionActor, "actor", "cli", "Who is making the change")

	memberCmd.AddCommand(memberRegisterCmd)
	memberCmd.AddCommand(memberListCmd)
	memberCmd.AddCommand(memberTransitionCmd)
	memberCmd.AddCommand(memberRolesCmd)
}

func openRepo(cmd *cobra.Command) (auth.RepositoryManager, func(), error) {
	db, err := openDB(cmd.Context(), true)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewRepositoryManager(db), func() { _ = db.Close() }, nil
}

func joinStatuses() string {
	out := []string{}
	for _, s := range auth.AllMemberStatuses() {
		out = append(out, string(s))
	}
	return strings.Join(out, ", ")
}

func isKnownRole(role string) bool {
	for _, r := range auth.AllRoles() {
		if r == role {
			return true
		}
	}
	return false
}
