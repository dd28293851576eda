package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/school"
)

type schoolRepository struct {
	*Store
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) school.Repository {
	return schoolRepository{NewStore(db)}
}

func (repo schoolRepository) RunInTx(ctx context.Context, fn func(repo school.Repository) error) error {
	return repo.runInTx(ctx, func(tx *Store) error { return fn(schoolRepository{tx}) })
}

func (s *Store) CreateSchool(_ context.Context, sch school.School) (school.School, error) {
	err := s.exec(func(t *tables) error {
		for _, other := range t.schools {
			if other.Name == sch.Name && other.Province == sch.Province {
				return core.ErrDuplicate
			}
		}
		t.schools[sch.ID] = sch
		return nil
	})
	if err != nil {
		return school.School{}, err
	}
	return sch, nil
}

func (s *Store) GetSchoolByID(_ context.Context, id string) (school.School, error) {
	var sch school.School
	err := s.exec(func(t *tables) error {
		found, ok := t.schools[id]
		if !ok {
			return school.ErrNotFound
		}
		sch = found
		return nil
	})
	return sch, err
}

func (s *Store) GetSchoolByNameProvince(_ context.Context, name, province string) (school.School, error) {
	var sch school.School
	err := s.exec(func(t *tables) error {
		for _, found := range t.schools {
			if found.Name == name && found.Province == province {
				sch = found
				return nil
			}
		}
		return school.ErrNotFound
	})
	return sch, err
}

func (s *Store) FilterSchools(_ context.Context, filter school.QueryFilter) ([]school.School, error) {
	var schools []school.School
	search := strings.ToLower(filter.Search)
	err := s.exec(func(t *tables) error {
		schools = make([]school.School, 0, len(t.schools))
		for _, sch := range t.schools {
			if search != "" && !strings.Contains(strings.ToLower(sch.Name), search) {
				continue
			}
			if filter.Province != "" && sch.Province != filter.Province {
				continue
			}
			schools = append(schools, sch)
		}
		return nil
	})
	sort.Slice(schools, func(i, j int) bool {
		if schools[i].Name != schools[j].Name {
			return schools[i].Name < schools[j].Name
		}
		return schools[i].Province < schools[j].Province
	})
	return schools, err
}

func (s *Store) CreateClass(_ context.Context, cls school.Class) (school.Class, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.schools[cls.SchoolID]; !ok {
			return school.ErrNotFound
		}
		for _, other := range t.classes {
			if other.SchoolID == cls.SchoolID && other.Name == cls.Name {
				return core.ErrDuplicate
			}
		}
		t.classes[cls.ID] = cls
		return nil
	})
	if err != nil {
		return school.Class{}, err
	}
	return cls, nil
}

func (t *tables) class(schoolID, name string) (school.Class, bool) {
	for _, cls := range t.classes {
		if cls.SchoolID == schoolID && cls.Name == name {
			return cls, true
		}
	}
	return school.Class{}, false
}

func (s *Store) GetClass(_ context.Context, schoolID, name string) (school.Class, error) {
	var cls school.Class
	err := s.exec(func(t *tables) error {
		found, ok := t.class(schoolID, name)
		if !ok {
			return school.ErrClassNotFound
		}
		cls = found
		return nil
	})
	return cls, err
}

func (s *Store) ListClasses(_ context.Context, schoolID string) ([]school.Class, error) {
	classes := make([]school.Class, 0)
	err := s.exec(func(t *tables) error {
		for _, cls := range t.classes {
			if cls.SchoolID == schoolID {
				classes = append(classes, cls)
			}
		}
		return nil
	})
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, err
}

func (s *Store) DeleteClass(_ context.Context, schoolID, name string) error {
	return s.exec(func(t *tables) error {
		cls, ok := t.class(schoolID, name)
		if !ok {
			return school.ErrClassNotFound
		}
		delete(t.classes, cls.ID)
		return nil
	})
}

func (s *Store) CountStudentsInClass(_ context.Context, schoolID, name string) (int, error) {
	n := 0
	err := s.exec(func(t *tables) error {
		for _, st := range t.students {
			if st.SchoolID == schoolID && st.Class == name {
				n++
			}
		}
		return nil
	})
	return n, err
}

func rosterEmailTaken(t *tables, entry school.RosterEntry) bool {
	if entry.Email == "" {
		return false
	}
	for _, other := range t.roster {
		if other.ID != entry.ID && other.SchoolID == entry.SchoolID && other.Email == entry.Email {
			return true
		}
	}
	return false
}

func (s *Store) CreateRosterEntry(_ context.Context, entry school.RosterEntry) (school.RosterEntry, error) {
	err := s.exec(func(t *tables) error {
		if rosterEmailTaken(t, entry) {
			return core.ErrDuplicate
		}
		t.roster[entry.ID] = entry
		return nil
	})
	if err != nil {
		return school.RosterEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetRosterEntry(_ context.Context, id string) (school.RosterEntry, error) {
	var entry school.RosterEntry
	err := s.exec(func(t *tables) error {
		found, ok := t.roster[id]
		if !ok {
			return school.ErrRosterEntryNotFound
		}
		entry = found
		return nil
	})
	return entry, err
}

func (s *Store) GetRosterEntryByEmail(_ context.Context, schoolID, email string) (school.RosterEntry, error) {
	var entry school.RosterEntry
	err := s.exec(func(t *tables) error {
		for _, found := range t.roster {
			if found.SchoolID == schoolID && found.Email == email {
				entry = found
				return nil
			}
		}
		return school.ErrRosterEntryNotFound
	})
	return entry, err
}

func (s *Store) ListRoster(_ context.Context, schoolID string) ([]school.RosterEntry, error) {
	entries := make([]school.RosterEntry, 0)
	err := s.exec(func(t *tables) error {
		for _, entry := range t.roster {
			if entry.SchoolID == schoolID {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FirstName != entries[j].FirstName {
			return entries[i].FirstName < entries[j].FirstName
		}
		return entries[i].LastName < entries[j].LastName
	})
	return entries, err
}

func (s *Store) UpdateRosterEntry(_ context.Context, entry school.RosterEntry) (school.RosterEntry, error) {
	err := s.exec(func(t *tables) error {
		if _, ok := t.roster[entry.ID]; !ok {
			return school.ErrRosterEntryNotFound
		}
		if rosterEmailTaken(t, entry) {
			return core.ErrDuplicate
		}
		t.roster[entry.ID] = entry
		return nil
	})
	if err != nil {
		return school.RosterEntry{}, err
	}
	return entry, nil
}

func (s *Store) DeleteRosterEntry(_ context.Context, id string) error {
	return s.exec(func(t *tables) error {
		if _, ok := t.roster[id]; !ok {
			return school.ErrRosterEntryNotFound
		}
		delete(t.roster, id)
		for invID, inv := range t.invites {
			if inv.RosterID == id {
				delete(t.invites, invID)
			}
		}
		return nil
	})
}
