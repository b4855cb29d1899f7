package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexlab/alyx-go/internal/catalog"
)

// newRequestCmd builds the get/post/put/patch command for one HTTP method.
func newRequestCmd(method string) *cobra.Command {
	name := strings.ToLower(method)

	return &cobra.Command{
		Use:   name + " <path> [key=value...]",
		Short: fmt.Sprintf("Send an authenticated %s request to the catalog", method),
		Long: fmt.Sprintf(`Send an authenticated %s request to the catalog and print the JSON answer.

The path is relative to the base URL unless it is an absolute URL. Parameters
are sent in the order given: as the query string for GET, as a form body
otherwise.`, method),
		Example: fmt.Sprintf("  alyx-go %s /files exists=false", name),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			params, err := catalog.ParsePairs(args[1:])
			if err != nil {
				return err
			}

			client, err := cc.catalogClient()
			if err != nil {
				return err
			}

			body, err := client.Do(cmd.Context(), method, args[0], params)
			if err != nil {
				return err
			}

			return printJSON(cc.Out, body)
		},
	}
}
