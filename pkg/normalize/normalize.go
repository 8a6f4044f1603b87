// Package normalize turns the registry XML document into a deduplicated
// snapshot of organizations, programs and their associations.
//
// The document is read in a single streaming pass. Every
// ActualEducationOrganization element is an organization record and every
// EducationalProgram inside a Supplement is a program record. A program
// belongs to the organization described by the first
// ActualEducationOrganization of the same Supplement. Associations are
// resolved once the pass is complete, so only pairs whose organization and
// program both made it into the snapshot are emitted.
package normalize

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"

	"golang.org/x/net/html/charset"
)

const (
	organizationElement = "ActualEducationOrganization"
	programElement      = "EducationalProgram"
	supplementElement   = "Supplement"

	// DanglingSampleSize bounds Stats.DanglingSample.
	DanglingSampleSize = 10
)

var ErrEmptyDocument = errors.New("document has no root element")

// Stats describes what a parse pass saw.
type Stats struct {
	OrganizationRecords       int `json:"organization_records"`
	DuplicateOrganizations    int `json:"duplicate_organizations"`
	ProgramRecords            int `json:"program_records"`
	DuplicatePrograms         int `json:"duplicate_programs"`
	ProgramOccurrences        int `json:"program_occurrences"`
	ProgramsOutsideSupplement int `json:"programs_outside_supplement"`
	DanglingAssociations      int `json:"dangling_associations"`
	DuplicateAssociations     int `json:"duplicate_associations"`
	RecordsWithoutID          int `json:"records_without_id"`

	DanglingSample []common.Association `json:"dangling_sample,omitempty"`
}

type Result struct {
	Snapshot common.Snapshot
	Stats    Stats
}

// Parse reads the document at path.
func Parse(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.ParseError(path, err)
	}
	defer f.Close()

	res, err := parse(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, common.ParseError(path, err)
	}
	return res, nil
}

// ParseReader reads a document from r.
func ParseReader(r io.Reader) (*Result, error) {
	res, err := parse(r)
	if err != nil {
		return nil, common.ParseError("document", err)
	}
	return res, nil
}

type supplement struct {
	owner    string
	hasOwner bool
}

type occurrence struct {
	programID string
	supp      *supplement
}

type parser struct {
	orgIndex  map[string]struct{}
	progIndex map[string]struct{}
	snapshot  common.Snapshot
	stats     Stats

	// open elements that were not consumed as records; nil for anything
	// that is not a Supplement
	stack       []*supplement
	occurrences []occurrence
}

func parse(r io.Reader) (*Result, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	p := &parser{
		orgIndex:  map[string]struct{}{},
		progIndex: map[string]struct{}{},
	}

	sawRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			switch t.Name.Local {
			case organizationElement:
				if err := p.organization(dec, &t); err != nil {
					return nil, err
				}
			case programElement:
				if err := p.program(dec, &t); err != nil {
					return nil, err
				}
			case supplementElement:
				p.stack = append(p.stack, &supplement{})
			default:
				p.stack = append(p.stack, nil)
			}
		case xml.EndElement:
			if len(p.stack) > 0 {
				p.stack = p.stack[:len(p.stack)-1]
			}
		}
	}
	if !sawRoot {
		return nil, ErrEmptyDocument
	}

	p.resolveAssociations()
	return &Result{Snapshot: p.snapshot, Stats: p.stats}, nil
}

func (p *parser) openSupplements() []*supplement {
	var out []*supplement
	for _, s := range p.stack {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (p *parser) organization(dec *xml.Decoder, start *xml.StartElement) error {
	var raw rawRecord
	if err := dec.DecodeElement(&raw, start); err != nil {
		return fmt.Errorf("failed to decode %s: %w", organizationElement, err)
	}
	org := build(organizationFields, raw.values())

	// The first organization of each enclosing supplement owns its programs,
	// even when its id turns out to be empty.
	for _, s := range p.openSupplements() {
		if !s.hasOwner {
			s.owner = org.ID
			s.hasOwner = true
		}
	}

	p.stats.OrganizationRecords++
	if org.ID == "" {
		p.stats.RecordsWithoutID++
		return nil
	}
	if _, dup := p.orgIndex[org.ID]; dup {
		p.stats.DuplicateOrganizations++
		return nil
	}
	p.orgIndex[org.ID] = struct{}{}
	p.snapshot.Organizations = append(p.snapshot.Organizations, org)
	return nil
}

func (p *parser) program(dec *xml.Decoder, start *xml.StartElement) error {
	open := p.openSupplements()
	if len(open) == 0 {
		p.stats.ProgramsOutsideSupplement++
		return dec.Skip()
	}

	var raw rawRecord
	if err := dec.DecodeElement(&raw, start); err != nil {
		return fmt.Errorf("failed to decode %s: %w", programElement, err)
	}
	prog := build(programFields, raw.values())

	p.stats.ProgramRecords++
	if prog.ID == "" {
		p.stats.RecordsWithoutID++
		return nil
	}
	for _, s := range open {
		p.occurrences = append(p.occurrences, occurrence{programID: prog.ID, supp: s})
	}
	if _, dup := p.progIndex[prog.ID]; dup {
		p.stats.DuplicatePrograms++
		return nil
	}
	p.progIndex[prog.ID] = struct{}{}
	p.snapshot.Programs = append(p.snapshot.Programs, prog)
	return nil
}

func (p *parser) resolveAssociations() {
	seen := make(map[common.Association]struct{}, len(p.occurrences))
	p.stats.ProgramOccurrences = len(p.occurrences)

	for _, occ := range p.occurrences {
		assoc := common.Association{OrganizationID: occ.supp.owner, ProgramID: occ.programID}

		_, orgOK := p.orgIndex[assoc.OrganizationID]
		_, progOK := p.progIndex[assoc.ProgramID]
		if !orgOK || !progOK {
			p.stats.DanglingAssociations++
			if len(p.stats.DanglingSample) < DanglingSampleSize {
				p.stats.DanglingSample = append(p.stats.DanglingSample, assoc)
			}
			continue
		}
		if _, dup := seen[assoc]; dup {
			p.stats.DuplicateAssociations++
			continue
		}
		seen[assoc] = struct{}{}
		p.snapshot.Associations = append(p.snapshot.Associations, assoc)
	}
	p.occurrences = nil
}
