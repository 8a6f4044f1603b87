package store

import (
	"fmt"
	"strings"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSnapshot checks id uniqueness and that every association points
// at an organization and a program of the same snapshot.
func ValidateSnapshot(s *common.Snapshot) error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}

	orgs := make(map[string]struct{}, len(s.Organizations))
	for _, o := range s.Organizations {
		if o.ID == "" {
			return fmt.Errorf("organization with empty id")
		}
		if _, dup := orgs[o.ID]; dup {
			return fmt.Errorf("duplicate organization id %q", o.ID)
		}
		orgs[o.ID] = struct{}{}
	}

	progs := make(map[string]struct{}, len(s.Programs))
	for _, p := range s.Programs {
		if p.ID == "" {
			return fmt.Errorf("program with empty id")
		}
		if _, dup := progs[p.ID]; dup {
			return fmt.Errorf("duplicate program id %q", p.ID)
		}
		progs[p.ID] = struct{}{}
	}

	pairs := make(map[common.Association]struct{}, len(s.Associations))
	for _, a := range s.Associations {
		if _, ok := orgs[a.OrganizationID]; !ok {
			return fmt.Errorf("association references unknown organization %q", a.OrganizationID)
		}
		if _, ok := progs[a.ProgramID]; !ok {
			return fmt.Errorf("association references unknown program %q", a.ProgramID)
		}
		if _, dup := pairs[a]; dup {
			return fmt.Errorf("duplicate association %q -> %q", a.OrganizationID, a.ProgramID)
		}
		pairs[a] = struct{}{}
	}
	return nil
}

// EscapeLike escapes the LIKE wildcards in s using backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ContainsPattern builds a case-folded substring LIKE pattern for s.
func ContainsPattern(s string) string {
	return "%" + EscapeLike(strings.ToLower(s)) + "%"
}
