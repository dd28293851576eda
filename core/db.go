package core

import "github.com/pkg/errors"

// ErrDuplicate is returned by repositories when a write violates a uniqueness constraint.
var ErrDuplicate = NewValidationError(errors.New("ข้อมูลซ้ำกับที่มีอยู่แล้ว"))

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// CleanOrderings drops orderings on fields that are not in `allowed` ({field: column}),
// mapping API field names to column names.
func CleanOrderings(orderings []DBOrdering, allowed map[string]string) []DBOrdering {
	cleaned := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if col, ok := allowed[ord.Field]; ok {
			cleaned = append(cleaned, DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return cleaned
}
