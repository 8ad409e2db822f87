package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckGatewaysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-gateways",
		Short: "Validate the configured WhatsApp and Telegram credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			set := buildGateways(cfg, log)
			if len(set) == 0 {
				return fmt.Errorf("no gateways configured")
			}
			failed := 0
			for name, err := range set.Validate(cmd.Context()) {
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s FAIL %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s ok\n", name)
			}
			if failed > 0 {
				return fmt.Errorf("%d gateway(s) failed validation", failed)
			}
			return nil
		},
	}
}
