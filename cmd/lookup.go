package cmd

import (
	"context"

	"github.com/lepinkainen/bookmeta/internal/providers"
)

// LookupCmd resolves one identifier
type LookupCmd struct {
	ID string `arg:"" help:"ISBN-10, ISBN-13 or <provider>:<id>"`
}

// SearchCmd runs one page of a criteria search
type SearchCmd struct {
	Title     string `short:"t" help:"Title to search for"`
	Author    string `short:"a" help:"Author to search for"`
	Publisher string `help:"Publisher to search for"`
	Subject   string `help:"Subject to search for"`
	Page      int    `help:"Result page (1-based)" default:"1"`
	PageSize  int    `help:"Results per page per provider (max 40)" default:"20"`
}

func (l *LookupCmd) Run(app *App) error {
	res, err := app.service.ByIdentifier(context.Background(), l.ID)
	if err != nil {
		return err
	}
	if res.Partial() {
		for _, f := range res.Failures {
			app.logger.Warn("Provider failed", "provider", f.Provider, "kind", f.Kind)
		}
	}
	return writeOutput(app.out, app.format, res)
}

func (s *SearchCmd) Run(app *App) error {
	res, err := app.service.ByCriteria(context.Background(), providers.Criteria{
		Title:     s.Title,
		Author:    s.Author,
		Publisher: s.Publisher,
		Subject:   s.Subject,
		Page:      s.Page,
		PageSize:  s.PageSize,
	})
	if err != nil {
		return err
	}
	return writeOutput(app.out, app.format, res)
}
