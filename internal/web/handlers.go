package web

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/hpungsan/chatkeep/internal/config"
	"github.com/hpungsan/chatkeep/internal/errors"
	"github.com/hpungsan/chatkeep/internal/ops"
	"github.com/hpungsan/chatkeep/internal/provider"
	"github.com/hpungsan/chatkeep/internal/render"
)

// defaultSearchLimit bounds search results shown on one page.
const defaultSearchLimit = 50

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	renderer *Renderer
}

// HandleList handles GET /records, stored records newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ListInput{
		Provider:     q.Get("provider"),
		AccountEmail: q.Get("account"),
		Kind:         q.Get("kind"),
		Limit:        parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:       parseIntParam(r, "offset", 0),
	}

	result, err := ops.List(h.cfg.DataDir, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "list", ListPageData{
		PageData: PageData{
			Title:   "Records",
			Version: h.renderer.version,
			Nav:     "records",
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Providers:  provider.Names(),
		Provider:   input.Provider,
		Account:    input.AccountEmail,
		Kind:       input.Kind,
	})
}

// HandleSearch handles GET /records/search, ranked full-text search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := SearchPageData{
		PageData: PageData{
			Title:   "Search",
			Version: h.renderer.version,
			Nav:     "search",
		},
		Query:     q.Get("q"),
		Providers: provider.Names(),
		Provider:  q.Get("provider"),
		Kind:      q.Get("kind"),
		HasQuery:  q.Get("q") != "",
	}

	if !data.HasQuery {
		h.renderer.renderPage(w, "search", data)
		return
	}

	result, err := ops.Search(r.Context(), h.cfg.DataDir, ops.SearchInput{
		Query:    data.Query,
		Provider: data.Provider,
		Kind:     data.Kind,
		Limit:    parseIntParam(r, "limit", defaultSearchLimit),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	data.Items = result.Items
	data.Total = result.Total
	data.Scanned = result.Scanned
	h.renderer.renderPage(w, "search", data)
}

// HandleDetail handles GET /records/{uuid}, one rendered conversation or project.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if uuid == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("uuid is required"))
		return
	}

	entry, err := ops.FindEntry(h.cfg.DataDir, uuid)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, entry)
		return
	}

	doc, err := ops.LoadDocument(*entry)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	body, err := render.Body(doc)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}

	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{
			Title:   displayName(entry.Name),
			Version: h.renderer.version,
			Nav:     "records",
		},
		Entry: *entry,
		Doc:   doc,
		Body:  body,
	})
}

// HandleHistory handles GET /history, sync runs newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	input := ops.HistoryInput{
		Provider: r.URL.Query().Get("provider"),
		Limit:    parseIntParam(r, "limit", ops.DefaultHistoryLimit),
		Offset:   parseIntParam(r, "offset", 0),
	}

	result, err := ops.History(h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "history", HistoryPageData{
		PageData: PageData{
			Title:   "Sync history",
			Version: h.renderer.version,
			Nav:     "history",
		},
		Runs:       result.Runs,
		Pagination: result.Pagination,
		Providers:  provider.Names(),
		Provider:   input.Provider,
	})
}

// HandleRun handles GET /history/{id}, one sync run with its archives.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	detail, err := ops.ShowRun(h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, detail)
		return
	}

	h.renderer.renderPage(w, "run", RunPageData{
		PageData: PageData{
			Title:   "Run " + detail.Run.ID,
			Version: h.renderer.version,
			Nav:     "history",
		},
		Detail: detail,
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// displayName returns name, or a placeholder for untitled records.
func displayName(name string) string {
	if name == "" {
		return "(untitled)"
	}
	return name
}
