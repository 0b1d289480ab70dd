package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/emailfixer/creditd/internal/security"
)

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().String("scheme", "", "Signature scheme (default: paddle.signature_scheme)")
	signCmd.Flags().String("secret", "", "Webhook secret (default: paddle.webhook_secret)")
}

var signCmd = &cobra.Command{
	Use:   "sign [FILE]",
	Short: "Print a webhook signature header for a payload",
	Long: `Sign a webhook body the way the payment provider does, for replaying
events against a local creditd with curl. Reads FILE, or stdin when omitted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSign,
}

func runSign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schemeName, _ := cmd.Flags().GetString("scheme")
	if schemeName == "" {
		schemeName = cfg.Paddle.SignatureScheme
	}
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = cfg.Paddle.WebhookSecret
	}
	if secret == "" {
		return fmt.Errorf("no webhook secret: pass --secret or set CREDITD_PADDLE_WEBHOOK_SECRET")
	}
	scheme, err := security.SchemeByName(schemeName)
	if err != nil {
		return err
	}

	var body []byte
	if len(args) == 1 {
		body, err = os.ReadFile(args[0])
	} else {
		body, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("empty payload")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", security.HeaderName, scheme.Sign(body, []byte(secret)))
	return nil
}
