package azure

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/automation/armautomation"

	"github.com/yairfalse/autodiag/pkg/automation"
)

// ListAssets lists the names of every asset of a kind.
func (s *Source) ListAssets(ctx context.Context, acct automation.Account, kind automation.AssetKind) ([]automation.AssetSummary, error) {
	var (
		names []string
		err   error
	)

	switch kind {
	case automation.KindModule:
		names, err = s.listModules(ctx, acct)
	case automation.KindVariable:
		names, err = s.listVariables(ctx, acct)
	case automation.KindCredential:
		names, err = s.listCredentials(ctx, acct)
	case automation.KindCertificate:
		names, err = s.listCertificates(ctx, acct)
	case automation.KindConnection:
		names, err = s.listConnections(ctx, acct)
	case automation.KindSchedule:
		names, err = s.listSchedules(ctx, acct)
	case automation.KindJobSchedule:
		names, err = s.listJobSchedules(ctx, acct)
	default:
		return nil, fmt.Errorf("unknown asset kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, mapError(err))
	}

	out := make([]automation.AssetSummary, 0, len(names))
	for _, n := range names {
		out = append(out, automation.AssetSummary{Name: n})
	}
	return out, nil
}

// GetAsset fetches the full detail of one asset.
func (s *Source) GetAsset(ctx context.Context, acct automation.Account, kind automation.AssetKind, name string) (automation.Asset, error) {
	var (
		fields map[string]string
		err    error
	)

	rg, an := acct.ResourceGroup, acct.Name
	switch kind {
	case automation.KindModule:
		var resp armautomation.ModuleClientGetResponse
		if resp, err = s.modules.Get(ctx, rg, an, name, nil); err == nil {
			fields = moduleFields(resp.Module)
		}
	case automation.KindVariable:
		var resp armautomation.VariableClientGetResponse
		if resp, err = s.variables.Get(ctx, rg, an, name, nil); err == nil {
			fields = variableFields(resp.Variable)
		}
	case automation.KindCredential:
		var resp armautomation.CredentialClientGetResponse
		if resp, err = s.credentials.Get(ctx, rg, an, name, nil); err == nil {
			fields = credentialFields(resp.Credential)
		}
	case automation.KindCertificate:
		var resp armautomation.CertificateClientGetResponse
		if resp, err = s.certificates.Get(ctx, rg, an, name, nil); err == nil {
			fields = certificateFields(resp.Certificate)
		}
	case automation.KindConnection:
		var resp armautomation.ConnectionClientGetResponse
		if resp, err = s.connections.Get(ctx, rg, an, name, nil); err == nil {
			fields = connectionFields(resp.Connection)
		}
	case automation.KindSchedule:
		var resp armautomation.ScheduleClientGetResponse
		if resp, err = s.schedules.Get(ctx, rg, an, name, nil); err == nil {
			fields = scheduleFields(resp.Schedule)
		}
	case automation.KindJobSchedule:
		var resp armautomation.JobScheduleClientGetResponse
		if resp, err = s.jobSchedules.Get(ctx, rg, an, name, nil); err == nil {
			fields = jobScheduleFields(resp.JobSchedule)
		}
	default:
		return automation.Asset{}, fmt.Errorf("unknown asset kind %q", kind)
	}
	if err != nil {
		return automation.Asset{}, fmt.Errorf("get %s %q: %w", kind, name, mapError(err))
	}

	return automation.Asset{Kind: kind, Name: name, Fields: fields}, nil
}

func (s *Source) listModules(ctx context.Context, acct automation.Account) ([]string, error) {
	var names []string
	pager := s.modules.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Value {
			names = append(names, str(m.Name))
		}
	}
	return names, nil
}

func (s *Source) listVariables(ctx context.Context, acct automation.Account) ([]string, error) {
	var names []string
	pager := s.variables.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, v := range page.Value {
			names = append(names, str(v.Name))
		}
	}
	return names, nil
}

func (s *Source) listCredentials(ctx context.Context, acct automation.Account) ([]string, error) {
	var names []string
	pager := s.credentials.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range page.Value {
			names = append(names, str(c.Name))
		}
	}
	return names, nil
}

func (s *Source) listCertificates(ctx context.Context, acct automation.Account) ([]string, error) {
	var names []string
	pager := s.certificates.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range page.Value {
			names = append(names, str(c.Name))
		}
	}
	return names, nil
}

func (s *Source) listConnections(ctx context.Context, acct automation.Account) ([]string, error) {
	var names []string
	pager := s.connections.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range page.Value {
			names = append(names, str(c.Name))
		}
	}
	return names, nil
}

func (s *Source) listSchedules(ctx context.Context, acct automation.Account) ([]string, error) {
	var names []string
	pager := s.schedules.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, sc := range page.Value {
			names = append(names, str(sc.Name))
		}
	}
	return names, nil
}

// listJobSchedules returns job-schedule ids; bindings have no name of their own.
func (s *Source) listJobSchedules(ctx context.Context, acct automation.Account) ([]string, error) {
	var ids []string
	pager := s.jobSchedules.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, js := range page.Value {
			if js.Properties != nil && js.Properties.JobScheduleID != nil {
				ids = append(ids, *js.Properties.JobScheduleID)
				continue
			}
			ids = append(ids, str(js.Name))
		}
	}
	return ids, nil
}

func moduleFields(m armautomation.Module) map[string]string {
	f := map[string]string{}
	if p := m.Properties; p != nil {
		f["Version"] = str(p.Version)
		f["SizeInBytes"] = int64Str(p.SizeInBytes)
		f["IsGlobal"] = boolStr(p.IsGlobal)
		f["Description"] = str(p.Description)
		f["CreationTime"] = timeStr(p.CreationTime)
		f["LastModifiedTime"] = timeStr(p.LastModifiedTime)
		if p.ProvisioningState != nil {
			f["ProvisioningState"] = string(*p.ProvisioningState)
		}
	}
	return f
}

func variableFields(v armautomation.Variable) map[string]string {
	f := map[string]string{}
	if p := v.Properties; p != nil {
		f["IsEncrypted"] = boolStr(p.IsEncrypted)
		if !boolean(p.IsEncrypted) {
			f["Value"] = str(p.Value)
		}
		f["Description"] = str(p.Description)
		f["CreationTime"] = timeStr(p.CreationTime)
		f["LastModifiedTime"] = timeStr(p.LastModifiedTime)
	}
	return f
}

func credentialFields(c armautomation.Credential) map[string]string {
	f := map[string]string{}
	if p := c.Properties; p != nil {
		f["UserName"] = str(p.UserName)
		f["Description"] = str(p.Description)
		f["CreationTime"] = timeStr(p.CreationTime)
		f["LastModifiedTime"] = timeStr(p.LastModifiedTime)
	}
	return f
}

func certificateFields(c armautomation.Certificate) map[string]string {
	f := map[string]string{}
	if p := c.Properties; p != nil {
		f["Thumbprint"] = str(p.Thumbprint)
		f["IsExportable"] = boolStr(p.IsExportable)
		f["ExpiryTime"] = timeStr(p.ExpiryTime)
		f["Description"] = str(p.Description)
		f["CreationTime"] = timeStr(p.CreationTime)
		f["LastModifiedTime"] = timeStr(p.LastModifiedTime)
	}
	return f
}

func connectionFields(c armautomation.Connection) map[string]string {
	f := map[string]string{}
	if p := c.Properties; p != nil {
		if p.ConnectionType != nil {
			f["ConnectionTypeName"] = str(p.ConnectionType.Name)
		}
		for k, v := range p.FieldDefinitionValues {
			f["Field."+k] = str(v)
		}
		f["Description"] = str(p.Description)
		f["CreationTime"] = timeStr(p.CreationTime)
		f["LastModifiedTime"] = timeStr(p.LastModifiedTime)
	}
	return f
}

func scheduleFields(sc armautomation.Schedule) map[string]string {
	f := map[string]string{}
	if p := sc.Properties; p != nil {
		f["IsEnabled"] = boolStr(p.IsEnabled)
		if p.Frequency != nil {
			f["Frequency"] = string(*p.Frequency)
		}
		if p.Interval != nil {
			f["Interval"] = fmt.Sprint(p.Interval)
		}
		f["StartTime"] = timeStr(p.StartTime)
		f["ExpiryTime"] = timeStr(p.ExpiryTime)
		f["NextRun"] = timeStr(p.NextRun)
		f["TimeZone"] = str(p.TimeZone)
		f["Description"] = str(p.Description)
		f["CreationTime"] = timeStr(p.CreationTime)
		f["LastModifiedTime"] = timeStr(p.LastModifiedTime)
	}
	return f
}

func jobScheduleFields(js armautomation.JobSchedule) map[string]string {
	f := map[string]string{}
	if p := js.Properties; p != nil {
		if p.Runbook != nil {
			f["RunbookName"] = str(p.Runbook.Name)
		}
		if p.Schedule != nil {
			f["ScheduleName"] = str(p.Schedule.Name)
		}
		f["RunOn"] = str(p.RunOn)
		for k, v := range p.Parameters {
			f["Parameter."+k] = str(v)
		}
	}
	return f
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func boolean(p *bool) bool {
	return p != nil && *p
}

func boolStr(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}

func int64Str(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func tm(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

func timeStr(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.UTC().Format(time.RFC3339)
}

func strMap(in map[string]*string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = str(v)
	}
	return out
}
