package main

import (
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/textileio/escrow-core/escrow"
)

// parseBid parses the unscaled amount and the currency price of a bid.
func parseBid(amount, price string, decimals int32) (*big.Int, *big.Int, error) {
	a, err := escrow.ParseAmount(amount)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing amount: %w", err)
	}
	p, err := parseAmount(price, decimals)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing price: %w", err)
	}
	return a, p, nil
}

// parseAmount parses a currency value.
func parseAmount(s string, decimals int32) (*big.Int, error) {
	if decimals > 0 {
		return escrow.ParseUnits(s, decimals)
	}
	return escrow.ParseAmount(s)
}

func formatQuantity(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return humanize.BigComma(v)
}

// formatAmount formats a currency value.
func formatAmount(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	if decimals > 0 {
		return escrow.FormatUnits(v, decimals)
	}
	return humanize.BigComma(v)
}

func printReceipt(w io.Writer, r *escrow.Receipt, decimals int32) {
	fmt.Fprintf(w, "height:  %d\n", r.Height)
	fmt.Fprintf(w, "auction: %s\n", r.AuctionID)
	for _, e := range r.Events {
		printEvent(w, e, decimals)
	}
	for _, rf := range r.Refunds {
		printRefund(w, rf, decimals)
	}
}

func printEvent(w io.Writer, e escrow.Event, decimals int32) {
	switch e.Type {
	case escrow.EventAuctionCreated:
		fmt.Fprintf(w, "event %d.%d: auction %s created by %s, %s of %s until %s\n",
			e.Height, e.Index, e.AuctionID, e.Seller, formatAmount(e.Amount, decimals), e.TokenID,
			time.Unix(e.EndTimestamp, 0).UTC().Format(time.RFC3339))
	case escrow.EventBidPlaced:
		fmt.Fprintf(w, "event %d.%d: %s bid %s at %s on auction %s\n",
			e.Height, e.Index, e.Bidder, formatQuantity(e.Amount), formatAmount(e.Price, decimals), e.AuctionID)
	case escrow.EventBidCancelled:
		fmt.Fprintf(w, "event %d.%d: %s cancelled the bid on auction %s\n", e.Height, e.Index, e.Bidder, e.AuctionID)
	default:
		fmt.Fprintf(w, "event %d.%d: %s\n", e.Height, e.Index, e.Type)
	}
}

func printRefund(w io.Writer, r escrow.Refund, decimals int32) {
	fmt.Fprintf(w, "refund %s: %s to %s (%s, auction %s, %s)\n",
		r.ID, formatAmount(r.Amount, decimals), r.Recipient, r.Reason, r.AuctionID, humanize.Time(r.CreatedAt))
}

func printAuction(w io.Writer, a escrow.Auction, status escrow.AuctionStatus, decimals int32) {
	fmt.Fprintf(w, "auction %s (%s)\n", a.ID, status)
	fmt.Fprintf(w, "  token:    %s\n", a.TokenID)
	fmt.Fprintf(w, "  amount:   %s\n", formatAmount(a.TotalAmount, decimals))
	fmt.Fprintf(w, "  seller:   %s\n", a.Seller)
	fmt.Fprintf(w, "  ends:     %s\n", time.Unix(a.EndTimestamp, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  bids:     %d\n", a.NumBids)
	fmt.Fprintf(w, "  escrowed: %s\n", formatAmount(a.Escrowed, decimals))
}

func printBid(w io.Writer, b escrow.Bid, decimals int32) {
	fmt.Fprintf(w, "%s: %s at %s, committed %s, updated %s\n",
		b.Bidder, formatQuantity(b.Amount), formatAmount(b.Price, decimals),
		formatAmount(b.Committed(), decimals), humanize.Time(b.UpdatedAt))
}
