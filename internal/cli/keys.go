package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/resort-booking/internal/utils"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a customer access token for the booking API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireJWT(); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.AccessTTLMin) * time.Minute
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, args[0], utils.RoleCustomer, ttl, time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tok)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ACCESS_TOKEN_TTL_MIN)")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the ADMIN_API_KEY_HASH value for an admin key (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read key: %w", err)
				}
				key = strings.TrimSpace(line)
			}
			if len(key) < 12 {
				return errors.New("admin key must be at least 12 characters")
			}
			hash, err := utils.HashAPIKey(key, cost)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export ADMIN_API_KEY_HASH='%s'\n", hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (default 10)")
	return cmd
}
