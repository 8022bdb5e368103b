package automation

import "time"

// RunbookState is the lifecycle state of a runbook.
type RunbookState string

const (
	// RunbookNew has never been published; only a draft exists.
	RunbookNew RunbookState = "New"
	// RunbookEdit has a published version and a newer draft.
	RunbookEdit RunbookState = "Edit"
	// RunbookPublished has a published version and no pending draft.
	RunbookPublished RunbookState = "Published"
)

// RunbookType is the authoring language of a runbook.
type RunbookType string

const (
	RunbookPowerShell         RunbookType = "PowerShell"
	RunbookPowerShell72       RunbookType = "PowerShell72"
	RunbookPowerShellWorkflow RunbookType = "PowerShellWorkflow"
	RunbookPython2            RunbookType = "Python2"
	RunbookPython3            RunbookType = "Python3"
	RunbookGraph              RunbookType = "Graph"
	RunbookGraphPowerShell    RunbookType = "GraphPowerShell"
	RunbookGraphWorkflow      RunbookType = "GraphPowerShellWorkflow"
	RunbookScript             RunbookType = "Script"
)

// Extension returns the file extension used when exporting the definition.
func (t RunbookType) Extension() string {
	switch t {
	case RunbookPython2, RunbookPython3:
		return ".py"
	case RunbookGraph, RunbookGraphPowerShell, RunbookGraphWorkflow:
		return ".graphrunbook"
	default:
		return ".ps1"
	}
}

// ExportSlot selects which version of a runbook definition to export.
type ExportSlot string

const (
	SlotPublished ExportSlot = "published"
	SlotDraft     ExportSlot = "draft"
)

// ExportSlots returns the slots a runbook in the given state is exported to.
// New is draft only, Published is published only, anything else gets both.
func ExportSlots(state RunbookState) []ExportSlot {
	var slots []ExportSlot
	if state != RunbookNew {
		slots = append(slots, SlotPublished)
	}
	if state != RunbookPublished {
		slots = append(slots, SlotDraft)
	}
	return slots
}

// RunbookSummary is a list entry for a runbook.
type RunbookSummary struct {
	Name  string       `json:"name" yaml:"name"`
	State RunbookState `json:"state" yaml:"state"`
}

// Runbook is the full detail record of a runbook.
type Runbook struct {
	Name         string       `json:"name" yaml:"name"`
	State        RunbookState `json:"state" yaml:"state"`
	Type         RunbookType  `json:"type" yaml:"type"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	CreationTime time.Time    `json:"creation_time" yaml:"creation_time"`
	LastModified time.Time    `json:"last_modified" yaml:"last_modified"`
	LogVerbose   bool         `json:"log_verbose" yaml:"log_verbose"`
	LogProgress  bool         `json:"log_progress" yaml:"log_progress"`
}

// RunbookExport is one exported runbook definition.
type RunbookExport struct {
	Name    string
	Type    RunbookType
	Slot    ExportSlot
	Content []byte
}

// FileName returns the file name the definition is saved under.
func (e RunbookExport) FileName() string {
	return SafeName(e.Name) + e.Type.Extension()
}
