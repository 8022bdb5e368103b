package azure

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/automation/armautomation"
)

// AccountAPI defines the automation account operations used by the source.
type AccountAPI interface {
	NewListPager(options *armautomation.AccountClientListOptions) *runtime.Pager[armautomation.AccountClientListResponse]
}

// ModuleAPI defines the module operations used by the source.
type ModuleAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.ModuleClientListByAutomationAccountOptions) *runtime.Pager[armautomation.ModuleClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, moduleName string, options *armautomation.ModuleClientGetOptions) (armautomation.ModuleClientGetResponse, error)
}

// VariableAPI defines the variable operations used by the source.
type VariableAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.VariableClientListByAutomationAccountOptions) *runtime.Pager[armautomation.VariableClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, variableName string, options *armautomation.VariableClientGetOptions) (armautomation.VariableClientGetResponse, error)
}

// CredentialAPI defines the credential operations used by the source.
type CredentialAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.CredentialClientListByAutomationAccountOptions) *runtime.Pager[armautomation.CredentialClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, credentialName string, options *armautomation.CredentialClientGetOptions) (armautomation.CredentialClientGetResponse, error)
}

// CertificateAPI defines the certificate operations used by the source.
type CertificateAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.CertificateClientListByAutomationAccountOptions) *runtime.Pager[armautomation.CertificateClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, certificateName string, options *armautomation.CertificateClientGetOptions) (armautomation.CertificateClientGetResponse, error)
}

// ConnectionAPI defines the connection operations used by the source.
type ConnectionAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.ConnectionClientListByAutomationAccountOptions) *runtime.Pager[armautomation.ConnectionClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, connectionName string, options *armautomation.ConnectionClientGetOptions) (armautomation.ConnectionClientGetResponse, error)
}

// ScheduleAPI defines the schedule operations used by the source.
type ScheduleAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.ScheduleClientListByAutomationAccountOptions) *runtime.Pager[armautomation.ScheduleClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, scheduleName string, options *armautomation.ScheduleClientGetOptions) (armautomation.ScheduleClientGetResponse, error)
}

// JobScheduleAPI defines the scheduled-runbook binding operations used by the source.
type JobScheduleAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.JobScheduleClientListByAutomationAccountOptions) *runtime.Pager[armautomation.JobScheduleClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, jobScheduleID string, options *armautomation.JobScheduleClientGetOptions) (armautomation.JobScheduleClientGetResponse, error)
}

// RunbookAPI defines the runbook operations used by the source.
type RunbookAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.RunbookClientListByAutomationAccountOptions) *runtime.Pager[armautomation.RunbookClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, runbookName string, options *armautomation.RunbookClientGetOptions) (armautomation.RunbookClientGetResponse, error)
}

// ContentAPI downloads one version of a runbook definition.
type ContentAPI interface {
	Content(ctx context.Context, resourceGroupName string, automationAccountName string, runbookName string) ([]byte, error)
}

// JobAPI defines the job operations used by the source.
type JobAPI interface {
	NewListByAutomationAccountPager(resourceGroupName string, automationAccountName string, options *armautomation.JobClientListByAutomationAccountOptions) *runtime.Pager[armautomation.JobClientListByAutomationAccountResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, jobName string, options *armautomation.JobClientGetOptions) (armautomation.JobClientGetResponse, error)
}

// JobStreamAPI defines the job stream operations used by the source.
type JobStreamAPI interface {
	NewListByJobPager(resourceGroupName string, automationAccountName string, jobName string, options *armautomation.JobStreamClientListByJobOptions) *runtime.Pager[armautomation.JobStreamClientListByJobResponse]
	Get(ctx context.Context, resourceGroupName string, automationAccountName string, jobName string, jobStreamID string, options *armautomation.JobStreamClientGetOptions) (armautomation.JobStreamClientGetResponse, error)
}
