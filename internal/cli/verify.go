package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/soyeahso/kassa/internal/kassalapp"
	"github.com/spf13/cobra"
)

// verifyAPI is the part of the Kassalapp client the smoke test calls.
type verifyAPI interface {
	SearchProducts(ctx context.Context, q kassalapp.ProductQuery) (*kassalapp.Page[kassalapp.Product], error)
	SearchStores(ctx context.Context, q kassalapp.StoreQuery) (*kassalapp.Page[kassalapp.PhysicalStore], error)
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Smoke-test the live Kassalapp product and store search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			return runVerify(cmd.Context(), cmd.OutOrStdout(), a.openAPI())
		},
	}
}

// runVerify searches for one "melk" product and one store in Oslo. Both
// checks always run; the error reports how many failed.
func runVerify(ctx context.Context, out io.Writer, api verifyAPI) error {
	failed := 0

	fmt.Fprintln(out, "Testing product search...")
	products, err := api.SearchProducts(ctx, kassalapp.ProductQuery{Search: "melk", Size: 1})
	switch {
	case err != nil:
		fmt.Fprintf(out, "FAIL product search: %v\n", err)
		failed++
	case !products.HasData:
		fmt.Fprintf(out, "FAIL product search: unexpected response %s\n", products.Raw)
		failed++
	default:
		fmt.Fprintln(out, "OK   product search")
		if len(products.Data) > 0 {
			fmt.Fprintf(out, "     %s\n", products.Data[0].Name)
		}
	}

	fmt.Fprintln(out, "\nTesting store search...")
	stores, err := api.SearchStores(ctx, kassalapp.StoreQuery{Search: "Oslo", Size: 1})
	switch {
	case err != nil:
		fmt.Fprintf(out, "FAIL store search: %v\n", err)
		failed++
	case !stores.HasData:
		fmt.Fprintf(out, "FAIL store search: unexpected response %s\n", stores.Raw)
		failed++
	default:
		fmt.Fprintln(out, "OK   store search")
		if len(stores.Data) > 0 {
			fmt.Fprintf(out, "     %s\n", stores.Data[0].Name)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of 2 checks failed", failed)
	}
	return nil
}
