package ops

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/layout"
	"github.com/hpungsan/chatkeep/internal/render"
	"github.com/hpungsan/chatkeep/internal/transcript"
)

// ViewFormat is the rendered form of a view.
type ViewFormat string

const (
	FormatMarkdown ViewFormat = "markdown"
	FormatHTML     ViewFormat = "html"
)

// Ext returns the file extension for the format.
func (f ViewFormat) Ext() string {
	if f == FormatHTML {
		return ".html"
	}
	return ".md"
}

// ParseViewFormat accepts markdown/md and html; empty means markdown.
func ParseViewFormat(s string) (ViewFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", errors.NewInvalidRequest(fmt.Sprintf("unknown format %q (expected markdown or html)", s))
	}
}

// ViewInput contains parameters for the View operation.
type ViewInput struct {
	UUID   string     // required
	Format ViewFormat // default: markdown
	Force  bool       // regenerate even if an up-to-date view exists
}

// ViewOutput contains the result of the View operation.
type ViewOutput struct {
	Entry     Entry      `json:"entry"`
	Path      string     `json:"path"`
	Format    ViewFormat `json:"format"`
	Generated bool       `json:"generated"` // false when an existing view was reused
}

// ViewPath returns where the view of uuid is kept under viewsDir.
func ViewPath(viewsDir, provider, uuid string, format ViewFormat) string {
	return filepath.Join(viewsDir, provider, uuid+format.Ext())
}

// View renders the stored record with the given uuid into the local views
// directory. An existing view is reused unless the stored record changed
// after it was written, or Force is set.
func View(dataDir, viewsDir string, input ViewInput) (*ViewOutput, error) {
	format := input.Format
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatHTML {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown format %q", format))
	}

	entry, err := FindEntry(dataDir, input.UUID)
	if err != nil {
		return nil, err
	}

	out := &ViewOutput{
		Entry:  *entry,
		Path:   ViewPath(viewsDir, entry.Provider, entry.UUID, format),
		Format: format,
	}

	if !input.Force {
		fresh, err := viewIsFresh(out.Path, entry.Path)
		if err != nil {
			return nil, err
		}
		if fresh {
			return out, nil
		}
	}

	doc, err := LoadDocument(*entry)
	if err != nil {
		return nil, err
	}

	var content []byte
	switch format {
	case FormatHTML:
		content, err = render.HTML(doc)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	default:
		content = []byte(render.Markdown(doc))
	}

	if err := layout.WriteFile(out.Path, content); err != nil {
		return nil, errors.NewStoreWriteFailure(out.Path, err)
	}
	out.Generated = true
	return out, nil
}

// LoadDocument reads and parses the stored record behind entry.
func LoadDocument(entry Entry) (*transcript.Document, error) {
	data, err := layout.ReadFile(entry.Path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewNotFound(entry.UUID)
		}
		return nil, errors.NewInternal(err)
	}
	doc, err := transcript.Parse(entry.Provider, entry.Kind, data)
	if err != nil {
		return nil, errors.NewMalformedRecord(fmt.Sprintf("%s: %v", entry.Path, err))
	}
	return doc, nil
}

// viewIsFresh reports whether viewPath exists and is not older than the
// stored record it was rendered from.
func viewIsFresh(viewPath, storedPath string) (bool, error) {
	view, err := os.Stat(viewPath)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errors.NewInternal(err)
	}
	stored, err := os.Stat(storedPath)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return !stored.ModTime().After(view.ModTime()), nil
}
