package common

import "time"

// Snapshot is the complete set of organizations, programs and associations
// produced by one successful ingestion run. It is built once in memory and
// written as a whole; nothing in it is updated incrementally.
//
// A snapshot contains:
//   - Organizations: educational organizations keyed by their external id
//   - Programs: accredited educational programs keyed by their external id
//   - Associations: "organization offers program" links between the two
type Snapshot struct {
	Organizations []Organization `json:"organizations"`
	Programs      []Program      `json:"programs"`
	Associations  []Association  `json:"associations"`
}

// Organization is an educational organization as published in the registry.
// ID is the identifier assigned by the source dataset and is unique within a
// snapshot. Missing text fields are empty strings, never null.
type Organization struct {
	ID                       string `json:"id" jsonschema:"description=External identifier assigned by the registry"`
	HeadEduOrgID             string `json:"head_edu_org_id"`
	FullName                 string `json:"full_name"`
	ShortName                string `json:"short_name"`
	IsBranch                 bool   `json:"is_branch"`
	PostAddress              string `json:"post_address"`
	Phone                    string `json:"phone"`
	Fax                      string `json:"fax"`
	Email                    string `json:"email"`
	WebSite                  string `json:"web_site"`
	OGRN                     string `json:"ogrn"`
	INN                      string `json:"inn"`
	KPP                      string `json:"kpp"`
	HeadPost                 string `json:"head_post"`
	HeadName                 string `json:"head_name"`
	FormName                 string `json:"form_name"`
	KindName                 string `json:"kind_name"`
	TypeName                 string `json:"type_name"`
	RegionName               string `json:"region_name"`
	FederalDistrictShortName string `json:"federal_district_short_name"`
	FederalDistrictName      string `json:"federal_district_name"`
}

// Program is an educational program listed in a certificate supplement.
// UGSCode and UGSName identify the enlarged group of specialities the
// program belongs to.
type Program struct {
	ID                 string `json:"id" jsonschema:"description=External identifier assigned by the registry"`
	TypeName           string `json:"type_name"`
	EduLevelName       string `json:"edu_level_name"`
	ProgrammName       string `json:"programm_name"`
	ProgrammCode       string `json:"programm_code"`
	UGSCode            string `json:"ugs_code"`
	UGSName            string `json:"ugs_name"`
	EduNormativePeriod string `json:"edu_normative_period"`
	Qualification      string `json:"qualification"`
	IsAccredited       bool   `json:"is_accredited"`
	IsCanceled         bool   `json:"is_canceled"`
	IsSuspended        bool   `json:"is_suspended"`
}

// Association states that an organization offers a program.
type Association struct {
	OrganizationID string `json:"organization_id"`
	ProgramID      string `json:"program_id"`
}

// SnapshotSource describes where a snapshot came from.
type SnapshotSource struct {
	URL           string `json:"url"`
	ArchiveSHA256 string `json:"archive_sha256"`
}

// SnapshotInfo is the metadata of the currently visible snapshot.
// Generation is zero until the first successful replace.
type SnapshotInfo struct {
	Generation    int64     `json:"generation"`
	SourceURL     string    `json:"source_url"`
	ArchiveSHA256 string    `json:"archive_sha256"`
	ReplacedAt    time.Time `json:"replaced_at"`
	Organizations int64     `json:"organizations"`
	Programs      int64     `json:"programs"`
	Associations  int64     `json:"associations"`
}

// Counts returns the number of organizations, programs and associations.
func (s *Snapshot) Counts() (orgs, programs, assocs int) {
	if s == nil {
		return 0, 0, 0
	}
	return len(s.Organizations), len(s.Programs), len(s.Associations)
}
