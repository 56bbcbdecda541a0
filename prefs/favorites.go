package prefs

import (
	"slices"
	"strings"

	tracker "github.com/OptimusRahul/covid19-tracker"
)

// Favorites is the persisted list of favorite country codes, in the order
// they were added.
type Favorites struct {
	list *Store[[]string]
}

// NewFavorites binds favorites to store.
func NewFavorites(store *tracker.SafeStore) *Favorites {
	return &Favorites{list: NewStore(store, FavoritesKey, func() []string { return []string{} })}
}

// List returns the favorite codes.
func (f *Favorites) List() []string {
	return f.list.Load()
}

// IsFavorite reports whether code is a favorite.
func (f *Favorites) IsFavorite(code string) bool {
	return slices.Contains(f.list.Load(), normalize(code))
}

// Add appends code unless it is already a favorite.
func (f *Favorites) Add(code string) bool {
	code = normalize(code)
	if code == "" {
		return false
	}
	_, ok := f.list.Update(func(list *[]string) {
		if !slices.Contains(*list, code) {
			*list = append(*list, code)
		}
	})
	return ok
}

// Remove drops code.
func (f *Favorites) Remove(code string) bool {
	code = normalize(code)
	_, ok := f.list.Update(func(list *[]string) {
		*list = slices.DeleteFunc(*list, func(c string) bool { return c == code })
	})
	return ok
}

// Toggle adds code when absent and removes it when present. It returns
// whether code is a favorite afterwards.
func (f *Favorites) Toggle(code string) bool {
	code = normalize(code)
	if code == "" {
		return false
	}
	list, _ := f.list.Update(func(list *[]string) {
		if i := slices.Index(*list, code); i >= 0 {
			*list = slices.Delete(*list, i, i+1)
			return
		}
		*list = append(*list, code)
	})
	return slices.Contains(list, code)
}

// Clear removes every favorite.
func (f *Favorites) Clear() bool {
	return f.list.Reset()
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
