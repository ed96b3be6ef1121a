package ops

import (
	"sort"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Provider     string // optional filter
	AccountEmail string // optional filter
	Kind         string // optional filter: conversation | project
	Limit        int    // default: 20, max: 100
	Offset       int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []Entry    `json:"items"`
	Pagination Pagination `json:"pagination"`
	Sort       string     `json:"sort"`
}

// List returns stored records, most recently updated first, with pagination.
func List(dataDir string, input ListInput) (*ListOutput, error) {
	entries, err := Catalog(dataDir, CatalogFilter{
		Provider:     input.Provider,
		AccountEmail: input.AccountEmail,
		Kind:         input.Kind,
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].Path < entries[j].Path
	})

	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	page, pagination := paginate(entries, limit, input.Offset)

	// Ensure we return an empty array rather than nil
	if page == nil {
		page = []Entry{}
	}

	return &ListOutput{
		Items:      page,
		Pagination: pagination,
		Sort:       "updated_at_desc",
	}, nil
}
