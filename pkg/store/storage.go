package store

import (
	"context"
	"errors"
	"strings"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
)

// PageSize is the fixed number of organizations per listing page.
const PageSize = 20

var ErrOrganizationNotFound = errors.New("organization not found")

// SnapshotWriter replaces the persisted snapshot as a whole.
//
// ReplaceSnapshot validates the snapshot before touching the database and
// makes the new generation visible in a single transaction. Readers see
// either the complete previous snapshot or the complete new one.
type SnapshotWriter interface {
	ReplaceSnapshot(ctx context.Context, snapshot *common.Snapshot, source common.SnapshotSource) (common.SnapshotInfo, error)
}

// SnapshotReader is the read contract served to the listing API.
type SnapshotReader interface {
	ListOrganizations(ctx context.Context, params ListParams) (OrganizationPage, error)
	GetOrganization(ctx context.Context, id string) (OrganizationDetail, error)
	FilterValues(ctx context.Context) (FilterValues, error)
	SnapshotInfo(ctx context.Context) (common.SnapshotInfo, error)
}

type SnapshotStore interface {
	SnapshotWriter
	SnapshotReader
	Close() error
}

type SortField string

const (
	SortFullName SortField = "full_name"
	SortRegion   SortField = "region"
	SortForm     SortField = "form"
	SortType     SortField = "type"
)

// sortColumns maps each sort field onto an organization column.
var sortColumns = map[SortField]string{
	SortFullName: "full_name",
	SortRegion:   "region_name",
	SortForm:     "form_name",
	SortType:     "type_name",
}

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ListParams filters, sorts and pages the organization listing. All text
// filters are optional case-insensitive substring matches combined with AND.
// ProgramName and UGSName match organizations that offer at least one
// program satisfying both.
type ListParams struct {
	Region      string    `query:"region" json:"region,omitempty"`
	Form        string    `query:"form" json:"form,omitempty"`
	Name        string    `query:"name" json:"name,omitempty"`
	ProgramName string    `query:"program" json:"program,omitempty"`
	UGSName     string    `query:"ugs" json:"ugs,omitempty"`
	Sort        SortField `query:"sort" json:"sort,omitempty" validate:"omitempty,oneof=full_name region form type"`
	Order       SortOrder `query:"order" json:"order,omitempty" validate:"omitempty,oneof=asc desc"`
	Page        int       `query:"page" json:"page,omitempty"`
}

// Normalized returns a copy with trimmed filters and defaults applied.
// Unknown sort fields fall back to full_name and unknown orders to asc.
func (p ListParams) Normalized() ListParams {
	p.Region = strings.TrimSpace(p.Region)
	p.Form = strings.TrimSpace(p.Form)
	p.Name = strings.TrimSpace(p.Name)
	p.ProgramName = strings.TrimSpace(p.ProgramName)
	p.UGSName = strings.TrimSpace(p.UGSName)

	p.Sort = SortField(strings.ToLower(string(p.Sort)))
	if _, ok := sortColumns[p.Sort]; !ok {
		p.Sort = SortFullName
	}
	p.Order = SortOrder(strings.ToLower(string(p.Order)))
	if p.Order != OrderDesc {
		p.Order = OrderAsc
	}
	if p.Page < 1 {
		p.Page = 1
	}
	return p
}

func (p ListParams) Offset() int {
	return (p.Page - 1) * PageSize
}

type OrganizationPage struct {
	Items      []common.Organization `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalCount int                   `json:"total_count"`
	TotalPages int                   `json:"total_pages"`
}

// NewOrganizationPage fills in the paging figures for items found at page.
func NewOrganizationPage(items []common.Organization, page, total int) OrganizationPage {
	if items == nil {
		items = []common.Organization{}
	}
	return OrganizationPage{
		Items:      items,
		Page:       page,
		PageSize:   PageSize,
		TotalCount: total,
		TotalPages: (total + PageSize - 1) / PageSize,
	}
}

type OrganizationDetail struct {
	Organization common.Organization `json:"organization"`
	Programs     []common.Program    `json:"programs"`
}

// FilterValues lists the distinct non-empty values users can filter by.
type FilterValues struct {
	Regions      []string `json:"regions"`
	Forms        []string `json:"forms"`
	ProgramNames []string `json:"program_names"`
	UGSNames     []string `json:"ugs_names"`
}
