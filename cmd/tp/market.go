package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradepost/internal/game"

	"github.com/spf13/cobra"
)

func (a *app) newWalletCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show gold balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			w, err := a.client().Wallet(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			accent.Println("\n== WALLET ==")
			fmt.Printf("Player:  %s\n", w.OwnerID)
			fmt.Printf("Balance: %s gold\n\n", comma(w.Balance))
			return nil
		},
	}
}

func (a *app) newInventoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "inventory",
		Short:   "Show item stacks",
		Aliases: []string{"inv"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			stacks, err := a.client().Inventory(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderInventory(stacks)
			return nil
		},
	}
}

func (a *app) newLedgerCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent gold movements",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			entries, err := a.client().Ledger(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			renderLedger(entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "entries to show")
	return cmd
}

func (a *app) newTransferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer [player] [amount]",
		Short: "Send gold to another player",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payee, err := stringFromArgOrPrompt(args, 0, "Recipient")
			if err != nil {
				return err
			}
			amount, err := int64FromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			out, err := a.write(cmd, "POST", "/v1/transfers", map[string]any{
				"payee":  payee,
				"amount": amount,
			})
			if err != nil {
				return err
			}
			res, err := decodeInto[game.TransferResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sent %s gold to %s. Balance: %s", comma(amount), payee, comma(res.PayerBalance)))
			return nil
		},
	}
}

func (a *app) newListingsCmd() *cobra.Command {
	listings := &cobra.Command{
		Use:     "listings",
		Short:   "Marketplace commands",
		Aliases: []string{"market"},
	}
	listings.AddCommand(a.newListingsBrowseCmd())
	listings.AddCommand(a.newListingsCreateCmd())
	listings.AddCommand(a.newListingsBuyCmd())
	listings.AddCommand(a.newListingsCancelCmd())
	return listings
}

func (a *app) newListingsBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse [item]",
		Short: "List active listings, optionally for one item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			item := ""
			if len(args) > 0 {
				item = strings.TrimSpace(args[0])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Listings(ctx, sess.AccessToken, item)
			if err != nil {
				return err
			}
			renderListings(out)
			return nil
		},
	}
}

func (a *app) newListingsCreateCmd() *cobra.Command {
	var reservedFor string
	var hours int
	cmd := &cobra.Command{
		Use:   "create [item] [quantity] [unit-price]",
		Short: "Put items up for sale",
		Args:  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := stringFromArgOrPrompt(args, 0, "Item")
			if err != nil {
				return err
			}
			qty, err := int64FromArgOrPrompt(args, 1, "Quantity")
			if err != nil {
				return err
			}
			price, err := int64FromArgOrPrompt(args, 2, "Unit price")
			if err != nil {
				return err
			}
			body := map[string]any{
				"item_id":        item,
				"quantity":       qty,
				"unit_price":     price,
				"duration_hours": hours,
			}
			if strings.TrimSpace(reservedFor) != "" {
				body["reserved_for"] = strings.TrimSpace(reservedFor)
			}
			out, err := a.write(cmd, "POST", "/v1/listings", body)
			if err != nil {
				return err
			}
			res, err := decodeInto[game.CreateListingResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Listing #%d created: %d x %s at %s each.", res.Listing.ID, res.Listing.Quantity, res.Listing.ItemID, comma(res.Listing.UnitPrice)))
			fee := fmt.Sprintf("Fee: %s", comma(res.Fee))
			if res.Discount > 0 {
				fee += fmt.Sprintf(" (base %s, alliance discount %s)", comma(res.BaseFee), comma(res.Discount))
			}
			printInfo(fee)
			printInfo(fmt.Sprintf("Expires: %s", res.Listing.ExpiresAt.Local().Format(time.DateTime)))
			return nil
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "listing duration in hours")
	cmd.Flags().StringVar(&reservedFor, "reserve-for", "", "only this player may buy")
	return cmd
}

func (a *app) newListingsBuyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy [listing-id]",
		Short: "Purchase a listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			out, err := a.write(cmd, "POST", fmt.Sprintf("/v1/listings/%d/purchase", id), nil)
			if err != nil {
				return err
			}
			res, err := decodeInto[game.PurchaseResult](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Bought %d x %s for %s gold. Balance: %s", res.Listing.Quantity, res.Listing.ItemID, comma(res.TotalValue), comma(res.BuyerBalance)))
			return nil
		},
	}
}

func (a *app) newListingsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [listing-id]",
		Short: "Withdraw one of your listings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := int64FromArgOrPrompt(args, 0, "Listing ID")
			if err != nil {
				return err
			}
			if _, err := a.write(cmd, "POST", fmt.Sprintf("/v1/listings/%d/cancel", id), nil); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Listing #%d cancelled. Items returned to your inventory.", id))
			return nil
		},
	}
}
