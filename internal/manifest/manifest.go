// Package manifest reads the laboratory workflow manifest files.
//
// The section manifest (CSV) lists every workflow's stations in order. The
// schema manifest (YAML, see [ReadSchemasFromFile]) describes the parameters
// captured at each station. Together they drive the router instead of a
// hardcoded station chain.
//
// CSV format:
//
//	workflow,order,section,name
//	cbc,0,reception,Sample reception
//	cbc,1,hematology,Hematology bench
//	cbc,2,review,Medical review
//	lipid,0,reception,Sample reception
//	lipid,1,chemistry,Chemistry analyzer
//
// Rows of one workflow may appear in any order; the order column is
// authoritative. A section id may be reused across workflows.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// SectionEntry represents a single row in the section manifest CSV.
type SectionEntry struct {
	// Workflow is the workflow identifier items refer to.
	Workflow string

	// Order is the station's position within the workflow, starting at 0.
	Order int

	// Section is the station identifier, matching ids in the schema manifest.
	Section string

	// Name is the human-readable station name. Defaults to Section.
	Name string
}

// Manifest holds all section entries parsed from a manifest CSV file.
type Manifest struct {
	// Entries are the section entries in file order.
	Entries []SectionEntry
}

// ReadFromFile reads and parses a section manifest CSV file.
func ReadFromFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	return readFromReader(f)
}

// ReadFromString parses a section manifest from a CSV string.
// This is useful for testing and for embedding manifest data.
func ReadFromString(data string) (*Manifest, error) {
	return readFromReader(strings.NewReader(data))
}

func readFromReader(r io.Reader) (*Manifest, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}

	colIndex := buildColumnIndex(header)
	if err := validateColumns(colIndex); err != nil {
		return nil, err
	}

	var entries []SectionEntry
	lineNum := 1 // header was line 1
	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest line %d: %w", lineNum, err)
		}

		entry := SectionEntry{
			Workflow: getField(record, colIndex, "workflow"),
			Section:  getField(record, colIndex, "section"),
			Name:     getField(record, colIndex, "name"),
		}
		if entry.Workflow == "" {
			return nil, fmt.Errorf("manifest line %d: workflow is required", lineNum)
		}
		if entry.Section == "" {
			return nil, fmt.Errorf("manifest line %d: section is required", lineNum)
		}
		order, err := strconv.Atoi(getField(record, colIndex, "order"))
		if err != nil || order < 0 {
			return nil, fmt.Errorf("manifest line %d: order must be a non-negative integer", lineNum)
		}
		entry.Order = order
		if entry.Name == "" {
			entry.Name = entry.Section
		}

		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest contains no section entries")
	}

	return &Manifest{Entries: entries}, nil
}

// requiredColumns are the columns that must be present in the manifest CSV.
var requiredColumns = []string{"workflow", "order", "section"}

func buildColumnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(strings.ToLower(col))] = i
	}
	return index
}

func validateColumns(colIndex map[string]int) error {
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return fmt.Errorf("manifest missing required column: %s", col)
		}
	}
	return nil
}

func getField(record []string, colIndex map[string]int, column string) string {
	idx, ok := colIndex[column]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// Workflows returns the unique workflow ids in order of first appearance.
func (m *Manifest) Workflows() []string {
	seen := make(map[string]bool)
	var workflows []string
	for _, e := range m.Entries {
		if !seen[e.Workflow] {
			seen[e.Workflow] = true
			workflows = append(workflows, e.Workflow)
		}
	}
	return workflows
}

// EntriesFor returns the entries of one workflow sorted by order.
func (m *Manifest) EntriesFor(workflowID string) []SectionEntry {
	var entries []SectionEntry
	for _, e := range m.Entries {
		if e.Workflow == workflowID {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Order < entries[j].Order
	})
	return entries
}

// HasWorkflow returns true if the manifest contains the given workflow.
func (m *Manifest) HasWorkflow(id string) bool {
	for _, e := range m.Entries {
		if e.Workflow == id {
			return true
		}
	}
	return false
}
