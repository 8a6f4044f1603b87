package store

import (
	"fmt"
	"strings"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name string
	// Placeholder renders the n-th (1 based) bind parameter.
	Placeholder func(n int) string
	// Contains renders a case-insensitive substring match of column against
	// a bind parameter holding a ContainsPattern.
	Contains func(column, placeholder string) string
	// ReplaceView renders the statements that point view at table.
	ReplaceView func(view, table string) []string
	BoolType    string
	TimeType    string
}

var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Contains: func(column, ph string) string {
		return fmt.Sprintf(`%s ILIKE %s ESCAPE '\'`, column, ph)
	},
	ReplaceView: func(view, table string) []string {
		return []string{fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", view, table)}
	},
	BoolType: "BOOLEAN",
	TimeType: "TIMESTAMPTZ",
}

// SQLite relies on a casefold() function registered by the sqlite store,
// since the built-in LIKE only folds ASCII.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Contains: func(column, ph string) string {
		return fmt.Sprintf(`casefold(%s) LIKE %s ESCAPE '\'`, column, ph)
	},
	ReplaceView: func(view, table string) []string {
		return []string{
			fmt.Sprintf("DROP VIEW IF EXISTS %s", view),
			fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM %s", view, table),
		}
	},
	BoolType: "BOOLEAN",
	TimeType: "TEXT",
}

var OrganizationColumns = []string{
	"id", "head_edu_org_id", "full_name", "short_name", "is_branch",
	"post_address", "phone", "fax", "email", "web_site",
	"ogrn", "inn", "kpp", "head_post", "head_name",
	"form_name", "kind_name", "type_name", "region_name",
	"federal_district_short_name", "federal_district_name",
}

var ProgramColumns = []string{
	"id", "type_name", "edu_level_name", "programm_name", "programm_code",
	"ugs_code", "ugs_name", "edu_normative_period", "qualification",
	"is_accredited", "is_canceled", "is_suspended",
}

var AssociationColumns = []string{"organization_id", "program_id"}

func OrganizationValues(o *common.Organization) []any {
	return []any{
		o.ID, o.HeadEduOrgID, o.FullName, o.ShortName, o.IsBranch,
		o.PostAddress, o.Phone, o.Fax, o.Email, o.WebSite,
		o.OGRN, o.INN, o.KPP, o.HeadPost, o.HeadName,
		o.FormName, o.KindName, o.TypeName, o.RegionName,
		o.FederalDistrictShortName, o.FederalDistrictName,
	}
}

func ProgramValues(p *common.Program) []any {
	return []any{
		p.ID, p.TypeName, p.EduLevelName, p.ProgrammName, p.ProgrammCode,
		p.UGSCode, p.UGSName, p.EduNormativePeriod, p.Qualification,
		p.IsAccredited, p.IsCanceled, p.IsSuspended,
	}
}

// Scanner is satisfied by pgx.Row(s) and *sql.Row(s).
type Scanner interface {
	Scan(dest ...any) error
}

func ScanOrganization(row Scanner) (common.Organization, error) {
	var o common.Organization
	err := row.Scan(
		&o.ID, &o.HeadEduOrgID, &o.FullName, &o.ShortName, &o.IsBranch,
		&o.PostAddress, &o.Phone, &o.Fax, &o.Email, &o.WebSite,
		&o.OGRN, &o.INN, &o.KPP, &o.HeadPost, &o.HeadName,
		&o.FormName, &o.KindName, &o.TypeName, &o.RegionName,
		&o.FederalDistrictShortName, &o.FederalDistrictName,
	)
	return o, err
}

func ScanProgram(row Scanner) (common.Program, error) {
	var p common.Program
	err := row.Scan(
		&p.ID, &p.TypeName, &p.EduLevelName, &p.ProgrammName, &p.ProgrammCode,
		&p.UGSCode, &p.UGSName, &p.EduNormativePeriod, &p.Qualification,
		&p.IsAccredited, &p.IsCanceled, &p.IsSuspended,
	)
	return p, err
}

func qualified(alias string, columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

// Query is a rendered statement with its bind arguments.
type Query struct {
	SQL  string
	Args []any
}

type queryBuilder struct {
	d     Dialect
	conds []string
	args  []any
}

func (b *queryBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *queryBuilder) contains(column, value string) string {
	return b.d.Contains(column, b.bind(ContainsPattern(value)))
}

// BuildListQueries renders the count and page queries for the listing.
// params must already be normalized.
func BuildListQueries(d Dialect, params ListParams) (count Query, page Query) {
	b := &queryBuilder{d: d}

	if params.Region != "" {
		b.conds = append(b.conds, b.contains("o.region_name", params.Region))
	}
	if params.Form != "" {
		b.conds = append(b.conds, b.contains("o.form_name", params.Form))
	}
	if params.Name != "" {
		full := b.contains("o.full_name", params.Name)
		short := b.contains("o.short_name", params.Name)
		b.conds = append(b.conds, "("+full+" OR "+short+")")
	}

	var progConds []string
	if params.ProgramName != "" {
		progConds = append(progConds, b.contains("p.programm_name", params.ProgramName))
	}
	if params.UGSName != "" {
		progConds = append(progConds, b.contains("p.ugs_name", params.UGSName))
	}
	if len(progConds) > 0 {
		b.conds = append(b.conds, "EXISTS (SELECT 1 FROM associations a JOIN programs p ON p.id = a.program_id"+
			" WHERE a.organization_id = o.id AND "+strings.Join(progConds, " AND ")+")")
	}

	where := ""
	if len(b.conds) > 0 {
		where = " WHERE " + strings.Join(b.conds, " AND ")
	}

	filterArgs := append([]any(nil), b.args...)
	count = Query{
		SQL:  "SELECT COUNT(*) FROM organizations o" + where,
		Args: filterArgs,
	}

	dir := "ASC"
	if params.Order == OrderDesc {
		dir = "DESC"
	}
	sortCol, ok := sortColumns[params.Sort]
	if !ok {
		sortCol = sortColumns[SortFullName]
	}
	limit := b.bind(PageSize)
	offset := b.bind(params.Offset())
	page = Query{
		SQL: fmt.Sprintf("SELECT %s FROM organizations o%s ORDER BY o.%s %s, o.id ASC LIMIT %s OFFSET %s",
			qualified("o", OrganizationColumns), where, sortCol, dir, limit, offset),
		Args: b.args,
	}
	return count, page
}

func OrganizationByIDQuery(d Dialect, id string) Query {
	return Query{
		SQL:  fmt.Sprintf("SELECT %s FROM organizations o WHERE o.id = %s", qualified("o", OrganizationColumns), d.Placeholder(1)),
		Args: []any{id},
	}
}

func ProgramsOfOrganizationQuery(d Dialect, id string) Query {
	return Query{
		SQL: fmt.Sprintf("SELECT %s FROM programs p JOIN associations a ON a.program_id = p.id"+
			" WHERE a.organization_id = %s ORDER BY p.programm_name ASC, p.id ASC",
			qualified("p", ProgramColumns), d.Placeholder(1)),
		Args: []any{id},
	}
}

// DistinctValuesQuery lists the distinct non-empty values of column in view.
func DistinctValuesQuery(view, column string) Query {
	return Query{
		SQL: fmt.Sprintf("SELECT DISTINCT %[2]s FROM %[1]s WHERE %[2]s <> '' ORDER BY %[2]s ASC", view, column),
	}
}

// FilterValueQueries are the queries behind FilterValues, in field order.
var FilterValueQueries = []Query{
	DistinctValuesQuery("organizations", "region_name"),
	DistinctValuesQuery("organizations", "form_name"),
	DistinctValuesQuery("programs", "programm_name"),
	DistinctValuesQuery("programs", "ugs_name"),
}

const SnapshotInfoSQL = "SELECT generation, source_url, archive_sha256, replaced_at," +
	" organizations, programs, associations FROM snapshot_meta WHERE id = 1"

// InsertQuery renders a multi-row INSERT of rows rows into table.
func InsertQuery(d Dialect, table string, columns []string, rows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	n := 0
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			n++
			sb.WriteString(d.Placeholder(n))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
