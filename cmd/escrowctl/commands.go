package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/textileio/cli"
	"github.com/textileio/escrow-core/auth"
	"github.com/textileio/escrow-core/cmd/escrowd/client"
	"github.com/textileio/escrow-core/cmd/escrowd/rpcapi"
	"github.com/textileio/escrow-core/escrow"
)

var createCmd = &cobra.Command{
	Use:   "create <token-id> <amount> <end-timestamp>",
	Short: "Create an auction, attaching the amount as collateral",
	Args:  cobra.ExactArgs(3),
	Run: func(c *cobra.Command, args []string) {
		tokenID, err := escrow.ParseTokenID(args[0])
		cli.CheckErr(err)
		amount, err := parseAmount(args[1], decimals())
		cli.CheckErr(err)
		end, err := strconv.ParseInt(args[2], 10, 64)
		cli.CheckErrf("parsing end timestamp: %v", err)

		withClient(func(ctx context.Context, cl *client.Client) error {
			r, err := cl.CreateAuction(ctx, escrow.Call{Caller: caller(), Payment: amount}, tokenID, amount, end)
			if err != nil {
				return err
			}
			printReceipt(os.Stdout, r, decimals())
			return nil
		})
	},
}

var bidCmd = &cobra.Command{
	Use:   "bid <auction-id> <amount> <price>",
	Short: "Place or update a bid",
	Long: `Place or update a bid.

Raising the committed value (amount x price) requires attaching the increase with
--pay, or --auto-pay to attach the quoted payment. Lowering it queues a refund.
`,
	Args: cobra.ExactArgs(3),
	Run: func(c *cobra.Command, args []string) {
		id, err := escrow.ParseAuctionID(args[0])
		cli.CheckErr(err)
		amount, price, err := parseBid(args[1], args[2], decimals())
		cli.CheckErr(err)
		autoPay, err := c.Flags().GetBool("auto-pay")
		cli.CheckErr(err)
		pay, err := c.Flags().GetString("pay")
		cli.CheckErr(err)
		if autoPay && pay != "" {
			cli.CheckErr(errors.New("--auto-pay and --pay are exclusive"))
		}
		call := escrow.Call{Caller: caller()}
		if pay != "" {
			call.Payment, err = parseAmount(pay, decimals())
			cli.CheckErr(err)
		}

		withClient(func(ctx context.Context, cl *client.Client) error {
			if autoPay {
				q, err := cl.Quote(ctx, id, call.Caller, amount, price)
				if err != nil {
					return fmt.Errorf("quoting bid: %v", err)
				}
				call.Payment = q.Payment
				log.Debugf("attaching quoted payment %s", q.Payment)
			}
			r, err := cl.Bid(ctx, call, id, amount, price)
			if err != nil {
				return err
			}
			printReceipt(os.Stdout, r, decimals())
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <auction-id>",
	Short: "Cancel a bid and queue the refund of its committed value",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		id, err := escrow.ParseAuctionID(args[0])
		cli.CheckErr(err)
		withClient(func(ctx context.Context, cl *client.Client) error {
			r, err := cl.CancelBid(ctx, escrow.Call{Caller: caller()}, id)
			if err != nil {
				return err
			}
			printReceipt(os.Stdout, r, decimals())
			return nil
		})
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim the refunds queued for the caller",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withClient(func(ctx context.Context, cl *client.Client) error {
			claim, err := cl.Claim(ctx, escrow.Call{Caller: caller()})
			if err != nil {
				return err
			}
			if len(claim.Refunds) == 0 {
				fmt.Println("nothing to claim")
				return nil
			}
			for _, r := range claim.Refunds {
				printRefund(os.Stdout, r, decimals())
			}
			fmt.Printf("claimed %s, realized balance %s\n",
				formatAmount(claim.Total, decimals()), formatAmount(claim.Balance, decimals()))
			return nil
		})
	},
}

var auctionCmd = &cobra.Command{
	Use:   "auction <auction-id>",
	Short: "Show an auction",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		id, err := escrow.ParseAuctionID(args[0])
		cli.CheckErr(err)
		withClient(func(ctx context.Context, cl *client.Client) error {
			a, status, err := cl.Auction(ctx, id)
			if err != nil {
				return err
			}
			printAuction(os.Stdout, a, status, decimals())
			return nil
		})
	},
}

var auctionsCmd = &cobra.Command{
	Use:   "auctions",
	Short: "List auctions, newest first",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		var q rpcapi.ListQuery
		var err error
		q.Offset, err = c.Flags().GetString("offset")
		cli.CheckErr(err)
		q.Limit, err = c.Flags().GetInt("limit")
		cli.CheckErr(err)
		q.Ascending, err = c.Flags().GetBool("asc")
		cli.CheckErr(err)
		withClient(func(ctx context.Context, cl *client.Client) error {
			auctions, err := cl.ListAuctions(ctx, q)
			if err != nil {
				return err
			}
			for _, a := range auctions {
				printAuction(os.Stdout, a.Auction, a.Status, decimals())
			}
			return nil
		})
	},
}

var bidsCmd = &cobra.Command{
	Use:   "bids <auction-id>",
	Short: "List the bids of an auction in placement order",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		id, err := escrow.ParseAuctionID(args[0])
		cli.CheckErr(err)
		withClient(func(ctx context.Context, cl *client.Client) error {
			bids, err := cl.Bids(ctx, id)
			if err != nil {
				return err
			}
			for _, b := range bids {
				printBid(os.Stdout, b, decimals())
			}
			return nil
		})
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote <auction-id> <amount> <price>",
	Short: "Show the payment or refund a bid would produce for the caller",
	Args:  cobra.ExactArgs(3),
	Run: func(c *cobra.Command, args []string) {
		id, err := escrow.ParseAuctionID(args[0])
		cli.CheckErr(err)
		amount, price, err := parseBid(args[1], args[2], decimals())
		cli.CheckErr(err)
		withClient(func(ctx context.Context, cl *client.Client) error {
			q, err := cl.Quote(ctx, id, caller(), amount, price)
			if err != nil {
				return err
			}
			fmt.Printf("payment: %s\nrefund:  %s\n", formatAmount(q.Payment, decimals()), formatAmount(q.Refund, decimals()))
			return nil
		})
	},
}

var refundsCmd = &cobra.Command{
	Use:   "refunds [address]",
	Short: "Show the pending refunds and realized balance of an address, the caller by default",
	Args:  cobra.MaximumNArgs(1),
	Run: func(c *cobra.Command, args []string) {
		addr := caller()
		if len(args) == 1 {
			addr = escrow.Address(args[0])
		}
		withClient(func(ctx context.Context, cl *client.Client) error {
			refunds, err := cl.PendingRefunds(ctx, addr)
			if err != nil {
				return err
			}
			for _, r := range refunds {
				printRefund(os.Stdout, r, decimals())
			}
			realized, err := cl.RealizedBalance(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Printf("realized balance: %s\n", formatAmount(realized, decimals()))
			return nil
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events [from-height] [to-height]",
	Short: "List events by height",
	Args:  cobra.MaximumNArgs(2),
	Run: func(c *cobra.Command, args []string) {
		var from, to uint64
		var err error
		if len(args) > 0 {
			from, err = strconv.ParseUint(args[0], 10, 64)
			cli.CheckErrf("parsing from height: %v", err)
		}
		if len(args) > 1 {
			to, err = strconv.ParseUint(args[1], 10, 64)
			cli.CheckErrf("parsing to height: %v", err)
		}
		limit, err := c.Flags().GetInt("limit")
		cli.CheckErr(err)
		withClient(func(ctx context.Context, cl *client.Client) error {
			events, err := cl.Events(ctx, from, to, limit)
			if err != nil {
				return err
			}
			for _, e := range events {
				printEvent(os.Stdout, e, decimals())
			}
			return nil
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the balance held by the escrow and the current height",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withClient(func(ctx context.Context, cl *client.Client) error {
			balance, err := cl.Balance(ctx)
			if err != nil {
				return err
			}
			height, err := cl.Height(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("balance: %s\nheight:  %d\n", formatAmount(balance, decimals()), height)
			return nil
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Recompute the escrow accounting",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		withClient(func(ctx context.Context, cl *client.Client) error {
			r, err := cl.Audit(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("held:       %s\n", r.Held)
			fmt.Printf("collateral: %s\n", r.Collateral)
			fmt.Printf("committed:  %s\n", r.Committed)
			fmt.Printf("outbox:     %s\n", r.Outbox)
			fmt.Printf("auctions:   %d\n", r.Auctions)
			fmt.Printf("bids:       %d\n", r.Bids)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <address>",
	Short: "Issue a caller token for an address",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		secret, err := c.Flags().GetString("secret")
		cli.CheckErr(err)
		ttl, err := c.Flags().GetDuration("ttl")
		cli.CheckErr(err)
		addr := escrow.Address(args[0])
		cli.CheckErr(addr.Validate())
		if secret == "" {
			cli.CheckErr(errors.New("--secret is required"))
		}
		token, err := auth.NewToken(secret, cliName, string(addr), ttl)
		cli.CheckErr(err)
		fmt.Println(token)
	},
}
