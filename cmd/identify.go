package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lepinkainen/librarian/internal/config"
	"github.com/lepinkainen/librarian/internal/fileutil"
	"github.com/lepinkainen/librarian/internal/metadata"
	"github.com/lepinkainen/librarian/internal/server"
	"github.com/lepinkainen/librarian/internal/tui"
)

var selectCandidate = tui.Select

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Addr string `help:"Listen address (defaults to server.addr)"`
	Mode string `help:"Server mode, dev enables CORS (defaults to server.mode)"`
}

func (c *ServeCmd) Run(ctx context.Context) error {
	s := config.Load()
	if c.Addr != "" {
		s.Server.Addr = c.Addr
	}
	if c.Mode != "" {
		s.Server.Mode = c.Mode
	}

	lib, err := openLibrary(ctx, s)
	if err != nil {
		return err
	}
	defer func() { _ = lib.Close() }()

	src := newSources(s)
	id := newIdentifier(s, src.source)
	defer func() { _ = id.Close() }()

	srv := server.New(server.Deps{
		Store:      lib.store,
		Ledger:     lib.ledger,
		Identifier: id,
		Source:     src.source,
		Searcher:   src.searcher,
	}, server.Options{
		UploadDir:      s.Uploads.Dir,
		MaxUploadBytes: s.Uploads.MaxBytes,
		Mode:           s.Server.Mode,
		AllowedOrigins: s.Server.AllowedOrigins,
	})
	return srv.Run(ctx, s.Server.Addr)
}

// IdentifyCmd runs the recognition pipeline on one image.
type IdentifyCmd struct {
	Image     string `arg:"" help:"Cover image to identify" type:"existingfile"`
	Output    string `short:"o" help:"Write the outcome as JSON to this file"`
	Overwrite bool   `help:"Overwrite the output file if it exists"`
}

func (c *IdentifyCmd) Run(ctx context.Context) error {
	s := config.Load()
	src := newSources(s)
	id := newIdentifier(s, src.source)
	defer func() { _ = id.Close() }()

	outcome := id.Identify(ctx, c.Image)
	if outcome.Recognized {
		fmt.Fprintf(stdout, "Recognized via %s: %s\n", outcome.Method, describe(outcome.Data.Book()))
	} else {
		fmt.Fprintln(stdout, "Not recognized")
	}

	if c.Output != "" {
		written, err := fileutil.WriteJSONFile(outcome, c.Output, c.Overwrite)
		if err != nil {
			return err
		}
		if !written {
			slog.Warn("Output file exists, not overwriting", "path", c.Output)
		}
	}
	return nil
}

// LookupCmd queries the metadata sources directly.
type LookupCmd struct {
	ISBN        string `help:"ISBN-10 or ISBN-13"`
	Title       string `help:"Book title"`
	Author      string `help:"Book author"`
	Interactive bool   `short:"i" help:"Pick from several candidates in a terminal UI"`
	Limit       int    `help:"Candidates to offer in interactive mode" default:"5"`
}

func (c *LookupCmd) Run(ctx context.Context) error {
	if c.ISBN == "" && c.Title == "" {
		return errors.New("either --isbn or --title is required")
	}
	src := newSources(config.Load())

	book, err := c.find(ctx, src)
	if err != nil {
		return err
	}
	if book == nil {
		fmt.Fprintln(stdout, "No match found")
		return nil
	}
	return printJSON(book)
}

func (c *LookupCmd) find(ctx context.Context, src sources) (*metadata.Book, error) {
	if !c.Interactive {
		if c.ISBN != "" {
			return src.source.LookupByISBN(ctx, c.ISBN)
		}
		return src.source.LookupByTitleAuthor(ctx, c.Title, c.Author)
	}

	q := metadata.Query{Title: c.Title, Author: c.Author, ISBN: c.ISBN}
	candidates, err := src.searcher.Search(ctx, q, c.Limit)
	if err != nil {
		return nil, err
	}
	label := strings.TrimSpace(strings.Join([]string{c.ISBN, c.Title, c.Author}, " "))
	res, err := selectCandidate(label, candidates)
	if err != nil {
		return nil, err
	}
	switch res.Action {
	case tui.ActionSelected:
		return res.Selection, nil
	case tui.ActionStopped:
		return nil, errors.New("lookup aborted")
	default:
		return nil, nil
	}
}

func describe(b *metadata.Book) string {
	s := b.Title
	if b.Author != "" {
		s += " by " + b.Author
	}
	if b.ISBN != "" {
		s += " (ISBN " + b.ISBN + ")"
	}
	return s
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}
