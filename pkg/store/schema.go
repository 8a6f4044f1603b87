package store

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Reader views that always point at the current generation.
const (
	OrganizationsView = "organizations"
	ProgramsView      = "programs"
	AssociationsView  = "associations"
)

// Views lists the reader views in dependency order.
var Views = []string{OrganizationsView, ProgramsView, AssociationsView}

// GenerationTable names the backing table of view for generation gen.
func GenerationTable(view string, gen int64) string {
	return fmt.Sprintf("%s_g%d", view, gen)
}

var generationTableRE = regexp.MustCompile(`^(organizations|programs|associations)_g([0-9]+)$`)

// ParseGenerationTable extracts the generation from a table name produced by
// GenerationTable.
func ParseGenerationTable(name string) (int64, bool) {
	m := generationTableRE.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	gen, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// StaleGenerations returns the generations found in tables other than
// current, sorted ascending.
func StaleGenerations(tables []string, current int64) []int64 {
	seen := map[int64]struct{}{}
	for _, t := range tables {
		if gen, ok := ParseGenerationTable(t); ok && gen != current {
			seen[gen] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CreateGenerationSQL renders the DDL for the three tables of generation gen.
func CreateGenerationSQL(d Dialect, gen int64) []string {
	orgs := GenerationTable(OrganizationsView, gen)
	progs := GenerationTable(ProgramsView, gen)
	assocs := GenerationTable(AssociationsView, gen)
	b := d.BoolType

	return []string{
		fmt.Sprintf(`CREATE TABLE %s (
	id TEXT PRIMARY KEY,
	head_edu_org_id TEXT NOT NULL DEFAULT '',
	full_name TEXT NOT NULL DEFAULT '',
	short_name TEXT NOT NULL DEFAULT '',
	is_branch %[2]s NOT NULL DEFAULT FALSE,
	post_address TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	fax TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	web_site TEXT NOT NULL DEFAULT '',
	ogrn TEXT NOT NULL DEFAULT '',
	inn TEXT NOT NULL DEFAULT '',
	kpp TEXT NOT NULL DEFAULT '',
	head_post TEXT NOT NULL DEFAULT '',
	head_name TEXT NOT NULL DEFAULT '',
	form_name TEXT NOT NULL DEFAULT '',
	kind_name TEXT NOT NULL DEFAULT '',
	type_name TEXT NOT NULL DEFAULT '',
	region_name TEXT NOT NULL DEFAULT '',
	federal_district_short_name TEXT NOT NULL DEFAULT '',
	federal_district_name TEXT NOT NULL DEFAULT ''
)`, orgs, b),
		fmt.Sprintf(`CREATE TABLE %s (
	id TEXT PRIMARY KEY,
	type_name TEXT NOT NULL DEFAULT '',
	edu_level_name TEXT NOT NULL DEFAULT '',
	programm_name TEXT NOT NULL DEFAULT '',
	programm_code TEXT NOT NULL DEFAULT '',
	ugs_code TEXT NOT NULL DEFAULT '',
	ugs_name TEXT NOT NULL DEFAULT '',
	edu_normative_period TEXT NOT NULL DEFAULT '',
	qualification TEXT NOT NULL DEFAULT '',
	is_accredited %[2]s NOT NULL DEFAULT TRUE,
	is_canceled %[2]s NOT NULL DEFAULT FALSE,
	is_suspended %[2]s NOT NULL DEFAULT FALSE
)`, progs, b),
		fmt.Sprintf(`CREATE TABLE %s (
	organization_id TEXT NOT NULL REFERENCES %s (id),
	program_id TEXT NOT NULL REFERENCES %s (id),
	PRIMARY KEY (organization_id, program_id)
)`, assocs, orgs, progs),
		fmt.Sprintf("CREATE INDEX %[1]s_program_idx ON %[1]s (program_id)", assocs),
		fmt.Sprintf("CREATE INDEX %[1]s_region_idx ON %[1]s (region_name)", orgs),
		fmt.Sprintf("CREATE INDEX %[1]s_full_name_idx ON %[1]s (full_name)", orgs),
	}
}

// DropGenerationSQL drops the tables of generation gen, children first.
func DropGenerationSQL(gen int64) []string {
	return []string{
		"DROP TABLE IF EXISTS " + GenerationTable(AssociationsView, gen),
		"DROP TABLE IF EXISTS " + GenerationTable(ProgramsView, gen),
		"DROP TABLE IF EXISTS " + GenerationTable(OrganizationsView, gen),
	}
}

// PointViewsSQL repoints every reader view at generation gen.
func PointViewsSQL(d Dialect, gen int64) []string {
	var out []string
	for _, v := range Views {
		out = append(out, d.ReplaceView(v, GenerationTable(v, gen))...)
	}
	return out
}

// BootstrapSQL creates generation 0 (empty), the views and snapshot_meta.
// Statements are idempotent so they can run on every open.
func BootstrapSQL(d Dialect) []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS snapshot_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	generation BIGINT NOT NULL DEFAULT 0,
	source_url TEXT NOT NULL DEFAULT '',
	archive_sha256 TEXT NOT NULL DEFAULT '',
	replaced_at %s,
	organizations BIGINT NOT NULL DEFAULT 0,
	programs BIGINT NOT NULL DEFAULT 0,
	associations BIGINT NOT NULL DEFAULT 0
)`, d.TimeType),
		"INSERT INTO snapshot_meta (id) VALUES (1) ON CONFLICT (id) DO NOTHING",
	}
	return stmts
}

// UpdateMetaSQL records the new generation in snapshot_meta.
func UpdateMetaSQL(d Dialect) string {
	p := d.Placeholder
	return fmt.Sprintf("UPDATE snapshot_meta SET generation = %s, source_url = %s, archive_sha256 = %s,"+
		" replaced_at = %s, organizations = %s, programs = %s, associations = %s WHERE id = 1",
		p(1), p(2), p(3), p(4), p(5), p(6), p(7))
}
