package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/cli"
	"github.com/textileio/escrow-core/cmd/escrowd/client"
	"github.com/textileio/escrow-core/escrow"
	logging "github.com/textileio/go-log/v2"
)

var (
	cliName = "escrowctl"
	log     = logging.Logger(cliName)
	v       = viper.New()
)

func init() {
	// A missing .env file is fine, flags and the environment still apply.
	_ = godotenv.Load()

	rootCmd.AddCommand(
		createCmd,
		bidCmd,
		cancelCmd,
		claimCmd,
		auctionCmd,
		auctionsCmd,
		bidsCmd,
		quoteCmd,
		refundsCmd,
		eventsCmd,
		balanceCmd,
		auditCmd,
		tokenCmd,
	)

	flags := []cli.Flag{
		{Name: "rpc-addr", DefValue: "127.0.0.1:8888", Description: "escrowd JSON-RPC address"},
		{Name: "token", DefValue: "", Description: "Bearer token of the caller"},
		{Name: "caller", DefValue: "", Description: "Caller address; ignored by daemons that authenticate callers"},
		{Name: "decimals", DefValue: 0, Description: "Decimals used to read and print currency values"},
		{Name: "timeout", DefValue: time.Second * 30, Description: "Request timeout"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	bidCmd.Flags().Bool("auto-pay", false, "Attach the payment quoted for the bid")
	bidCmd.Flags().String("pay", "", "Payment to attach to the bid")
	auctionsCmd.Flags().String("offset", "", "Last auction id of the previous page; lists the auctions after it")
	auctionsCmd.Flags().Int("limit", 10, "Page size")
	auctionsCmd.Flags().Bool("asc", false, "List oldest first")
	eventsCmd.Flags().Int("limit", 0, "Max number of events")
	tokenCmd.Flags().String("secret", "", "HMAC secret shared with escrowd")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime; zero never expires")

	cli.ConfigureCLI(v, "ESCROWCTL", flags, rootCmd.PersistentFlags())
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "escrowctl calls an escrowd daemon",
	Long: `escrowctl calls an escrowd daemon.

Currency values (collateral, prices, payments, refunds, balances) are decimal
integers of the smallest unit. With --decimals N they are read and printed with N
decimals. Bid amounts are unit counts and never scaled, so a bid commits
amount x price in currency.
`,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cli.ExpandEnvVars(v, v.AllSettings())
		err := cli.ConfigureLogging(v, []string{cliName})
		cli.CheckErrf("setting log levels: %v", err)
	},
}

func main() {
	cli.CheckErr(rootCmd.Execute())
}

func newClient() *client.Client {
	c, err := client.NewClient(v.GetString("rpc-addr"), v.GetString("token"))
	cli.CheckErrf("creating client: %v", err)
	return c
}

func withClient(f func(ctx context.Context, c *client.Client) error) {
	c := newClient()
	defer func() {
		if err := c.Close(); err != nil {
			log.Errorf("closing client: %s", err)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("timeout"))
	defer cancel()
	cli.CheckErr(f(ctx, c))
}

func caller() escrow.Address {
	return escrow.Address(v.GetString("caller"))
}

func decimals() int32 {
	return int32(v.GetInt("decimals"))
}
