package automation

import (
	"sort"
	"strconv"
	"strings"
)

// Table is an ordered sequence of uniform rows handed to the sink.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Records returns the rows as column-keyed maps, in row order.
func (t Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// AccountsTable renders the resolved accounts.
func AccountsTable(accounts []Account) Table {
	t := Table{
		Name:    "accounts",
		Columns: []string{"SubscriptionId", "ResourceGroup", "Name", "Location"},
	}
	for _, a := range accounts {
		t.Rows = append(t.Rows, []string{a.SubscriptionID, a.ResourceGroup, a.Name, a.Location})
	}
	return t
}

// AssetTable renders assets of one kind. Columns are Name followed by the
// sorted union of field keys so that output is stable across runs.
func AssetTable(kind AssetKind, assets []Asset) Table {
	keys := make(map[string]struct{})
	for _, a := range assets {
		for k := range a.Fields {
			keys[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(keys))
	for k := range keys {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	t := Table{
		Name:    kind.TableName(),
		Columns: append([]string{"Name"}, fields...),
	}
	for _, a := range assets {
		row := make([]string, 0, len(t.Columns))
		row = append(row, a.Name)
		for _, f := range fields {
			row = append(row, a.Fields[f])
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// RunbookTable renders runbook details.
func RunbookTable(runbooks []Runbook) Table {
	t := Table{
		Name: "runbooks",
		Columns: []string{
			"Name", "State", "RunbookType", "Description",
			"CreationTime", "LastModifiedTime", "LogVerbose", "LogProgress",
		},
	}
	for _, rb := range runbooks {
		t.Rows = append(t.Rows, []string{
			rb.Name,
			string(rb.State),
			string(rb.Type),
			rb.Description,
			formatTime(rb.CreationTime),
			formatTime(rb.LastModified),
			strconv.FormatBool(rb.LogVerbose),
			strconv.FormatBool(rb.LogProgress),
		})
	}
	return t
}

// JobTable renders job details in the order given.
func JobTable(jobs []Job) Table {
	t := Table{
		Name: "jobs",
		Columns: []string{
			"JobId", "RunbookName", "Status", "StatusDetails", "CreationTime",
			"StartTime", "EndTime", "LastModifiedTime", "RunOn", "Exception", "Parameters",
		},
	}
	for _, j := range jobs {
		t.Rows = append(t.Rows, []string{
			j.ID,
			j.RunbookName,
			j.Status,
			j.StatusDetails,
			formatTime(j.CreationTime),
			formatTime(j.StartTime),
			formatTime(j.EndTime),
			formatTime(j.LastModified),
			j.RunOn,
			j.Exception,
			formatParameters(j.Parameters),
		})
	}
	return t
}

// StreamTable renders stream records in the order given.
func StreamTable(name string, records []JobStreamRecord) Table {
	t := Table{
		Name: name,
		Columns: []string{
			"JobId", "RunbookName", "JobStatus", "StreamRecordId",
			"Time", "Type", "Summary", "Value", "ValueError",
		},
	}
	for _, r := range records {
		t.Rows = append(t.Rows, []string{
			r.JobID,
			r.RunbookName,
			r.JobStatus,
			r.RecordID,
			formatTime(r.Time),
			string(r.Type),
			r.Summary,
			r.Value,
			r.ValueError,
		})
	}
	return t
}

func formatParameters(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, ";")
}
