package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/fetcher"
	"github.com/jrschumacher/openid4vci/pkg/vci/metadata"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
	"github.com/jrschumacher/openid4vci/pkg/vci/offer"
)

var discoverCmd = &cobra.Command{
	Use:   "discover [credential-issuer-url]",
	Short: "Fetch and print a credential issuer's well-known metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := model.NewCredentialIssuerId(args[0])
		if err != nil {
			return err
		}
		resolver := metadata.NewIssuerResolver(fetcher.New(nil))
		meta, err := resolver.Resolve(context.Background(), id)
		if err != nil {
			return err
		}
		return printJSON(meta)
	},
}

var offerCmd = &cobra.Command{
	Use:   "offer [credential-offer-uri-or-json]",
	Short: "Resolve a credential offer (by value or by reference)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		req := model.CredentialOfferRequest{ByValue: args[0]}
		if looksLikeURL(args[0]) {
			req = model.CredentialOfferRequest{ByReference: args[0]}
		}
		resolver := offer.NewResolver(fetcher.New(nil))
		resolved, err := resolver.Resolve(context.Background(), req)
		if err != nil {
			return err
		}
		return printJSON(resolved)
	},
}

func looksLikeURL(s string) bool {
	return len(s) > 8 && (s[:8] == "https://" || s[:7] == "http://")
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return vcierrors.Wrap(vcierrors.KindValidation, "marshal output", err)
	}
	fmt.Println(string(b))
	return nil
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(offerCmd)
}
