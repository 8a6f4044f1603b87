package normalize

import (
	"encoding/xml"
	"strings"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
)

// truthyTokens are the values, compared case-insensitively after trimming,
// that make a flag true.
var truthyTokens = map[string]struct{}{
	"1":    {},
	"true": {},
	"t":    {},
	"yes":  {},
	"y":    {},
	"да":   {},
}

// IsTruthy reports whether s is one of the accepted affirmative tokens.
func IsTruthy(s string) bool {
	_, ok := truthyTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// field maps one child element of a record onto a field of T.
type field[T any] struct {
	tag   string
	apply func(dst *T, text string)
}

// textField copies the trimmed text of tag. A missing tag yields "".
func textField[T any](tag string, ptr func(*T) *string) field[T] {
	return field[T]{
		tag: tag,
		apply: func(dst *T, text string) {
			*ptr(dst) = text
		},
	}
}

// flagField evaluates tag against the truthy tokens. With invert set the
// result is negated, so a missing tag becomes true.
func flagField[T any](tag string, ptr func(*T) *bool, invert bool) field[T] {
	return field[T]{
		tag: tag,
		apply: func(dst *T, text string) {
			v := IsTruthy(text)
			if invert {
				v = !v
			}
			*ptr(dst) = v
		},
	}
}

const idTag = "Id"

var organizationFields = []field[common.Organization]{
	textField(idTag, func(o *common.Organization) *string { return &o.ID }),
	textField("HeadEduOrgId", func(o *common.Organization) *string { return &o.HeadEduOrgID }),
	textField("FullName", func(o *common.Organization) *string { return &o.FullName }),
	textField("ShortName", func(o *common.Organization) *string { return &o.ShortName }),
	flagField("IsBranch", func(o *common.Organization) *bool { return &o.IsBranch }, false),
	textField("PostAddress", func(o *common.Organization) *string { return &o.PostAddress }),
	textField("Phone", func(o *common.Organization) *string { return &o.Phone }),
	textField("Fax", func(o *common.Organization) *string { return &o.Fax }),
	textField("Email", func(o *common.Organization) *string { return &o.Email }),
	textField("WebSite", func(o *common.Organization) *string { return &o.WebSite }),
	textField("OGRN", func(o *common.Organization) *string { return &o.OGRN }),
	textField("INN", func(o *common.Organization) *string { return &o.INN }),
	textField("KPP", func(o *common.Organization) *string { return &o.KPP }),
	textField("HeadPost", func(o *common.Organization) *string { return &o.HeadPost }),
	textField("HeadName", func(o *common.Organization) *string { return &o.HeadName }),
	textField("FormName", func(o *common.Organization) *string { return &o.FormName }),
	textField("KindName", func(o *common.Organization) *string { return &o.KindName }),
	textField("TypeName", func(o *common.Organization) *string { return &o.TypeName }),
	textField("RegionName", func(o *common.Organization) *string { return &o.RegionName }),
	textField("FederalDistrictShortName", func(o *common.Organization) *string { return &o.FederalDistrictShortName }),
	textField("FederalDistrictName", func(o *common.Organization) *string { return &o.FederalDistrictName }),
}

// IsAccredited is published as the inverse condition, hence invert.
var programFields = []field[common.Program]{
	textField(idTag, func(p *common.Program) *string { return &p.ID }),
	textField("TypeName", func(p *common.Program) *string { return &p.TypeName }),
	textField("EduLevelName", func(p *common.Program) *string { return &p.EduLevelName }),
	textField("ProgrammName", func(p *common.Program) *string { return &p.ProgrammName }),
	textField("ProgrammCode", func(p *common.Program) *string { return &p.ProgrammCode }),
	textField("UGSCode", func(p *common.Program) *string { return &p.UGSCode }),
	textField("UGSName", func(p *common.Program) *string { return &p.UGSName }),
	textField("EduNormativePeriod", func(p *common.Program) *string { return &p.EduNormativePeriod }),
	textField("Qualification", func(p *common.Program) *string { return &p.Qualification }),
	flagField("IsAccredited", func(p *common.Program) *bool { return &p.IsAccredited }, true),
	flagField("IsCanceled", func(p *common.Program) *bool { return &p.IsCanceled }, false),
	flagField("IsSuspended", func(p *common.Program) *bool { return &p.IsSuspended }, false),
}

// rawRecord captures the direct children of a record element.
type rawRecord struct {
	Children []rawChild `xml:",any"`
}

type rawChild struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

// values returns the trimmed text per child tag. The first child with a
// given tag wins.
func (r *rawRecord) values() map[string]string {
	out := make(map[string]string, len(r.Children))
	for _, c := range r.Children {
		if _, seen := out[c.XMLName.Local]; seen {
			continue
		}
		out[c.XMLName.Local] = strings.TrimSpace(c.Text)
	}
	return out
}

func build[T any](fields []field[T], values map[string]string) T {
	var dst T
	for _, f := range fields {
		f.apply(&dst, values[f.tag])
	}
	return dst
}
