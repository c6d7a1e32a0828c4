package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
)

var (
	flagInitAdmin string

	flagUserAdmin    bool
	flagUserTier     string
	flagUserCredits  int64
	flagUserEmail    string
	flagUserTelegram string
)

func init() {
	initCmd.Flags().StringVar(&flagInitAdmin, "admin", "", "username of the first admin (default: the current actor)")

	for _, c := range []*cobra.Command{userAddCmd, userUpdateCmd} {
		c.Flags().StringVar(&flagUserTier, "tier", "", "junior, mid, senior or lead")
		c.Flags().StringVar(&flagUserEmail, "email", "", "email address for notifications")
		c.Flags().StringVar(&flagUserTelegram, "telegram", "", "Telegram chat ID for notifications")
	}
	userAddCmd.Flags().BoolVar(&flagUserAdmin, "admin", false, "grant the admin role")
	userAddCmd.Flags().Int64Var(&flagUserCredits, "credits", 0, "starting credits (default from config)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userCreditsCmd)
	userCmd.AddCommand(userUpdateCmd)
	userCmd.AddCommand(userRemoveCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(whoamiCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and its first admin",
	Long: `Create the state database and bootstrap the first admin user.

This only works while the database has no users; afterwards admins add
users with 'cmdgate user add'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := flagInitAdmin
		if name == "" {
			name = GetActor()
		}
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.engine.CreateUser(cmd.Context(), nil, core.NewUser{
			Username: name,
			Role:     db.RoleAdmin,
			Tier:     db.TierLead,
		})
		if errors.Is(err, core.ErrUnauthorized) {
			return fmt.Errorf("database %s already has users: %w", a.db.Path(), err)
		}
		if err != nil {
			return err
		}
		out := newWriter(cmd)
		if out.IsStructured() {
			return out.Write(map[string]any{"db_path": a.db.Path(), "admin": u})
		}
		out.Success(fmt.Sprintf("Initialized %s with admin %s", a.db.Path(), u.Username))
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:     "user",
	Aliases: []string{"users"},
	Short:   "Manage users (admin only)",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := core.NewUser{
			Username:       args[0],
			Role:           db.RoleMember,
			Tier:           db.Tier(flagUserTier),
			Email:          flagUserEmail,
			TelegramChatID: flagUserTelegram,
		}
		if flagUserAdmin {
			in.Role = db.RoleAdmin
		}
		if cmd.Flags().Changed("credits") {
			credits := flagUserCredits
			in.Credits = &credits
		}
		return withActor(func(a *app, actor *db.User) error {
			u, err := a.engine.CreateUser(cmd.Context(), actor, in)
			if err != nil {
				return err
			}
			out := newWriter(cmd)
			if out.IsStructured() {
				return out.Write(u)
			}
			out.Success(fmt.Sprintf("Created %s %s (tier %s, %d credits)", u.Role, u.Username, u.Tier, u.Credits))
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withActor(func(a *app, actor *db.User) error {
			users, err := a.engine.ListUsers(actor)
			if err != nil {
				return err
			}
			return newWriter(cmd).Render(users, func(w io.Writer) error {
				rows := make([][]string, 0, len(users))
				for _, u := range users {
					rows = append(rows, []string{strconv.FormatInt(u.ID, 10), u.Username, string(u.Role), string(u.Tier), strconv.FormatInt(u.Credits, 10), u.Email})
				}
				return output.Table(w, []string{"ID", "USERNAME", "ROLE", "TIER", "CREDITS", "EMAIL"}, rows)
			})
		})
	},
}

var userCreditsCmd = &cobra.Command{
	Use:   "credits <username> <amount>",
	Short: "Set a user's credit balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid credits amount %q", core.ErrValidation, args[1])
		}
		return withActor(func(a *app, actor *db.User) error {
			target, err := lookupUser(a, args[0])
			if err != nil {
				return err
			}
			if err := a.engine.UpdateCredits(cmd.Context(), actor, target.ID, amount); err != nil {
				return err
			}
			out := newWriter(cmd)
			if out.IsStructured() {
				return out.Write(map[string]any{"username": target.Username, "credits": amount})
			}
			out.Success(fmt.Sprintf("Set credits for %s to %d", target.Username, amount))
			return nil
		})
	},
}

var userUpdateCmd = &cobra.Command{
	Use:   "update <username>",
	Short: "Change a user's tier or contact details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd core.UserUpdate
		if cmd.Flags().Changed("tier") {
			tier := db.Tier(flagUserTier)
			upd.Tier = &tier
		}
		if cmd.Flags().Changed("email") {
			email := flagUserEmail
			upd.Email = &email
		}
		if cmd.Flags().Changed("telegram") {
			chat := flagUserTelegram
			upd.TelegramChatID = &chat
		}
		return withActor(func(a *app, actor *db.User) error {
			target, err := lookupUser(a, args[0])
			if err != nil {
				return err
			}
			u, err := a.engine.UpdateUser(cmd.Context(), actor, target.ID, upd)
			if err != nil {
				return err
			}
			out := newWriter(cmd)
			if out.IsStructured() {
				return out.Write(u)
			}
			out.Success(fmt.Sprintf("Updated %s", u.Username))
			return nil
		})
	},
}

var userRemoveCmd = &cobra.Command{
	Use:     "remove <username>",
	Aliases: []string{"rm", "delete"},
	Short:   "Delete a user with their commands and votes",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withActor(func(a *app, actor *db.User) error {
			target, err := lookupUser(a, args[0])
			if err != nil {
				return err
			}
			if err := a.engine.DeleteUser(cmd.Context(), actor, target.ID); err != nil {
				return err
			}
			newWriter(cmd).Success(fmt.Sprintf("Deleted user %s", target.Username))
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the acting user and credit balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withActor(func(a *app, actor *db.User) error {
			balance, err := a.engine.Ledger().Balance(actor.ID)
			if err != nil {
				return err
			}
			actor.Credits = balance
			return newWriter(cmd).Render(actor, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s (%s, tier %s): %d credits\n", actor.Username, actor.Role, actor.Tier, actor.Credits)
				return err
			})
		})
	},
}

func lookupUser(a *app, username string) (*db.User, error) {
	u, err := a.db.GetUserByName(username)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: user %q", core.ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %q: %w", username, err)
	}
	return u, nil
}
