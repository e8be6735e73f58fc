// Package lifecycle holds the request status rules: the ordered status
// catalog, current-assignee resolution, mutation rights and the one-step
// transition check. Everything here is pure and safe to call from any
// goroutine.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"

	"reqboard/internal/domain"
)

var ErrNoInitialStatus = errors.New("no active UNASSIGNED status in catalog")

// ActiveSorted returns the active statuses ordered by sort order. The input is
// not modified.
func ActiveSorted(statuses []domain.Status) []domain.Status {
	out := make([]domain.Status, 0, len(statuses))
	for _, s := range statuses {
		if s.IsActive {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// Adjacent is the neighbourhood of a status in catalog order. Any field is nil
// when it does not exist.
type Adjacent struct {
	Current  *domain.Status
	Previous *domain.Status
	Next     *domain.Status
}

// FindAdjacent locates currentID among the active statuses and returns it with
// its predecessor and successor. An id outside the active set (for example a
// deactivated status) yields an empty Adjacent.
func FindAdjacent(statuses []domain.Status, currentID string) Adjacent {
	sorted := ActiveSorted(statuses)
	for i := range sorted {
		if sorted[i].ID != currentID {
			continue
		}
		adj := Adjacent{Current: &sorted[i]}
		if i > 0 {
			adj.Previous = &sorted[i-1]
		}
		if i < len(sorted)-1 {
			adj.Next = &sorted[i+1]
		}
		return adj
	}
	return Adjacent{}
}

// StatusByID finds an active status by id.
func StatusByID(statuses []domain.Status, id string) (domain.Status, bool) {
	for _, s := range statuses {
		if s.ID == id && s.IsActive {
			return s, true
		}
	}
	return domain.Status{}, false
}

// StatusByCode finds an active status by code.
func StatusByCode(statuses []domain.Status, code string) (domain.Status, bool) {
	for _, s := range statuses {
		if s.Code == code && s.IsActive {
			return s, true
		}
	}
	return domain.Status{}, false
}

// InitialStatus returns the status new requests start in.
func InitialStatus(statuses []domain.Status) (domain.Status, error) {
	s, ok := StatusByCode(statuses, domain.StatusUnassigned)
	if !ok {
		return domain.Status{}, ErrNoInitialStatus
	}
	return s, nil
}

// ValidateCatalog checks that active sort orders are unique and that exactly
// one active status is UNASSIGNED.
func ValidateCatalog(statuses []domain.Status) error {
	seen := map[int]string{}
	initial := 0
	for _, s := range statuses {
		if !s.IsActive {
			continue
		}
		if s.ID == "" || s.Code == "" {
			return fmt.Errorf("status %q: id and code are required", s.Name)
		}
		if other, ok := seen[s.SortOrder]; ok {
			return fmt.Errorf("statuses %s and %s share sort order %d", other, s.Code, s.SortOrder)
		}
		seen[s.SortOrder] = s.Code
		if s.Code == domain.StatusUnassigned {
			initial++
		}
	}
	switch {
	case initial == 0:
		return ErrNoInitialStatus
	case initial > 1:
		return fmt.Errorf("catalog has %d active UNASSIGNED statuses; exactly one required", initial)
	}
	return nil
}
