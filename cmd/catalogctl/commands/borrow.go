package commands

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/catalog"
)

const (
	dueDateLayout   = "2006-01-02"
	defaultLoanDays = 14
)

func (c *CLI) newBorrowCmd() *cobra.Command {
	var (
		quantity int
		due      string
	)
	cmd := &cobra.Command{
		Use:   "borrow <book-id>",
		Short: "Borrow copies of a book and print the updated book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate := time.Now().AddDate(0, 0, defaultLoanDays).Truncate(24 * time.Hour)
			if due != "" {
				parsed, err := time.Parse(dueDateLayout, due)
				if err != nil {
					return errors.Wrapf(err, "due date %q", due)
				}
				dueDate = parsed
			}

			api, err := c.api()
			if err != nil {
				return err
			}
			rec, err := api.Borrow(cmd.Context(), catalog.BorrowRequest{
				Book:     args[0],
				Quantity: quantity,
				DueDate:  dueDate,
			})
			if err != nil {
				return err
			}
			book, err := api.Book(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Borrow catalog.BorrowRecord `json:"borrow"`
				Book   catalog.Book         `json:"book"`
			}{rec, book})
		},
	}
	cmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "Number of copies")
	cmd.Flags().StringVar(&due, "due", "", "Due date as YYYY-MM-DD (default in 14 days)")
	return cmd
}

func (c *CLI) newReturnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return <book-id> <borrow-id>",
		Short: "Return a borrow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			req := catalog.ReturnRequest{BookID: args[0], BorrowID: args[1]}
			if err := api.Return(cmd.Context(), req); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"returned": args[1]})
		},
	}
}

func (c *CLI) newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show borrowed quantities per book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			items, err := api.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}
}
