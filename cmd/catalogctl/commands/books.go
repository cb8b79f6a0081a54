package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/goliatone/go-query-cache/catalog"
)

func (c *CLI) newListCmd() *cobra.Command {
	var params catalog.ListParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			books, err := api.Books(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), books)
		},
	}
	cmd.Flags().StringVar(&params.Filter, "filter", "", "Only books of this genre")
	cmd.Flags().StringVar(&params.Sort, "sort", "", "Creation order: asc or desc")
	cmd.Flags().IntVar(&params.Limit, "limit", 0, "Maximum number of books")
	return cmd
}

func (c *CLI) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id>",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			book, err := api.Book(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), book)
		},
	}
}

func (c *CLI) newSearchCmd() *cobra.Command {
	var genre, author, isbn string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search books by title, author, genre or ISBN",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			params := catalog.SearchParams{Filters: map[string]string{}}
			if len(args) == 1 {
				params.Query = args[0]
			}
			for key, value := range map[string]string{"genre": genre, "author": author, "isbn": isbn} {
				if value != "" {
					params.Filters[key] = value
				}
			}
			books, err := api.Search(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), books)
		},
	}
	cmd.Flags().StringVar(&genre, "genre", "", "Exact genre")
	cmd.Flags().StringVar(&author, "author", "", "Exact author")
	cmd.Flags().StringVar(&isbn, "isbn", "", "Exact ISBN")
	return cmd
}

func bookFlags(flags *pflag.FlagSet, in *catalog.BookInput) {
	flags.StringVar(&in.Title, "title", "", "Title")
	flags.StringVar(&in.Author, "author", "", "Author")
	flags.StringVar(&in.ISBN, "isbn", "", "ISBN")
	flags.StringVar(&in.Genre, "genre", "", "Genre, e.g. FICTION or SCIENCE")
	flags.StringVar(&in.Description, "description", "", "Description")
	flags.IntVar(&in.Copies, "copies", 0, "Copies on hand")
	flags.BoolVar(&in.Available, "available", true, "Whether the book can be borrowed")
}

func (c *CLI) newCreateCmd() *cobra.Command {
	var in catalog.BookInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			book, err := api.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), book)
		},
	}
	bookFlags(cmd.Flags(), &in)
	return cmd
}

func (c *CLI) newUpdateCmd() *cobra.Command {
	var patch catalog.BookInput
	cmd := &cobra.Command{
		Use:   "update <book-id>",
		Short: "Change the fields given as flags, keeping the rest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			current, err := api.Book(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			in := current.Input()
			flags := cmd.Flags()
			overlay := map[string]func(){
				"title":       func() { in.Title = patch.Title },
				"author":      func() { in.Author = patch.Author },
				"isbn":        func() { in.ISBN = patch.ISBN },
				"genre":       func() { in.Genre = patch.Genre },
				"description": func() { in.Description = patch.Description },
				"copies":      func() { in.Copies = patch.Copies },
				"available":   func() { in.Available = patch.Available },
			}
			for name, set := range overlay {
				if flags.Changed(name) {
					set()
				}
			}

			book, err := api.Update(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), book)
		},
	}
	bookFlags(cmd.Flags(), &patch)
	return cmd
}

func (c *CLI) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Remove a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.api()
			if err != nil {
				return err
			}
			if err := api.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
		},
	}
}
