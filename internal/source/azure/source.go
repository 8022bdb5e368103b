// Package azure implements the Source backed by the Azure Automation
// management API.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/automation/armautomation"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/autodiag/internal/source"
	"github.com/yairfalse/autodiag/pkg/automation"
)

func init() {
	source.Register("azure", func(ctx context.Context, cfg source.Config) (source.Source, error) {
		return New(ctx, Config{SubscriptionID: cfg.SubscriptionID})
	})
}

// Config holds Azure source configuration.
type Config struct {
	SubscriptionID string
}

// Source reads automation accounts of one subscription.
type Source struct {
	subscriptionID string

	// Azure clients (interfaces for testability)
	accounts     AccountAPI
	modules      ModuleAPI
	variables    VariableAPI
	credentials  CredentialAPI
	certificates CertificateAPI
	connections  ConnectionAPI
	schedules    ScheduleAPI
	jobSchedules JobScheduleAPI
	runbooks     RunbookAPI
	published    ContentAPI
	drafts       ContentAPI
	jobs         JobAPI
	streams      JobStreamAPI
}

// New creates an Azure source using the default credential chain.
func New(_ context.Context, cfg Config) (*Source, error) {
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("azure source requires a subscription id")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("load azure credential: %w", err)
	}

	factory, err := armautomation.NewClientFactory(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create automation clients: %w", err)
	}

	log.Debug().Str("subscription", cfg.SubscriptionID).Msg("azure automation source ready")

	return &Source{
		subscriptionID: cfg.SubscriptionID,
		accounts:       factory.NewAccountClient(),
		modules:        factory.NewModuleClient(),
		variables:      factory.NewVariableClient(),
		credentials:    factory.NewCredentialClient(),
		certificates:   factory.NewCertificateClient(),
		connections:    factory.NewConnectionClient(),
		schedules:      factory.NewScheduleClient(),
		jobSchedules:   factory.NewJobScheduleClient(),
		runbooks:       factory.NewRunbookClient(),
		published:      publishedContent{client: factory.NewRunbookClient()},
		drafts:         draftContent{client: factory.NewRunbookDraftClient()},
		jobs:           factory.NewJobClient(),
		streams:        factory.NewJobStreamClient(),
	}, nil
}

// Name returns the backend identifier.
func (s *Source) Name() string {
	return "azure"
}

// ListAccounts lists every automation account in the subscription.
func (s *Source) ListAccounts(ctx context.Context) ([]automation.Account, error) {
	var accounts []automation.Account

	pager := s.accounts.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list automation accounts: %w", mapError(err))
		}
		for _, a := range page.Value {
			acct, err := s.convertAccount(a)
			if err != nil {
				return nil, err
			}
			accounts = append(accounts, acct)
		}
	}

	return accounts, nil
}

func (s *Source) convertAccount(a *armautomation.Account) (automation.Account, error) {
	id, err := arm.ParseResourceID(str(a.ID))
	if err != nil {
		return automation.Account{}, fmt.Errorf("parse account id %q: %w", str(a.ID), err)
	}
	return automation.Account{
		SubscriptionID: id.SubscriptionID,
		ResourceGroup:  id.ResourceGroupName,
		Name:           str(a.Name),
		Location:       str(a.Location),
	}, nil
}

// ListRunbooks lists every runbook in the account.
func (s *Source) ListRunbooks(ctx context.Context, acct automation.Account) ([]automation.RunbookSummary, error) {
	var out []automation.RunbookSummary

	pager := s.runbooks.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list runbooks: %w", mapError(err))
		}
		for _, rb := range page.Value {
			summary := automation.RunbookSummary{Name: str(rb.Name)}
			if rb.Properties != nil && rb.Properties.State != nil {
				summary.State = automation.RunbookState(*rb.Properties.State)
			}
			out = append(out, summary)
		}
	}

	return out, nil
}

// GetRunbook fetches the full runbook record.
func (s *Source) GetRunbook(ctx context.Context, acct automation.Account, name string) (automation.Runbook, error) {
	resp, err := s.runbooks.Get(ctx, acct.ResourceGroup, acct.Name, name, nil)
	if err != nil {
		return automation.Runbook{}, fmt.Errorf("get runbook %q: %w", name, mapError(err))
	}
	return convertRunbook(resp.Runbook), nil
}

func convertRunbook(rb armautomation.Runbook) automation.Runbook {
	out := automation.Runbook{Name: str(rb.Name)}
	p := rb.Properties
	if p == nil {
		return out
	}
	if p.State != nil {
		out.State = automation.RunbookState(*p.State)
	}
	if p.RunbookType != nil {
		out.Type = automation.RunbookType(*p.RunbookType)
	}
	out.Description = str(p.Description)
	out.CreationTime = tm(p.CreationTime)
	out.LastModified = tm(p.LastModifiedTime)
	out.LogVerbose = boolean(p.LogVerbose)
	out.LogProgress = boolean(p.LogProgress)
	return out
}

// ExportRunbook downloads the published or draft definition.
func (s *Source) ExportRunbook(ctx context.Context, acct automation.Account, name string, slot automation.ExportSlot) ([]byte, error) {
	var api ContentAPI
	switch slot {
	case automation.SlotPublished:
		api = s.published
	case automation.SlotDraft:
		api = s.drafts
	default:
		return nil, fmt.Errorf("unknown export slot %q", slot)
	}

	content, err := api.Content(ctx, acct.ResourceGroup, acct.Name, name)
	if err != nil {
		return nil, fmt.Errorf("get %s content of %q: %w", slot, name, mapError(err))
	}
	return content, nil
}

// The SDK content responses carry no fields; the definition is the raw
// response body, read through a captured response.
type publishedContent struct {
	client *armautomation.RunbookClient
}

func (c publishedContent) Content(ctx context.Context, resourceGroup, account, runbook string) ([]byte, error) {
	var resp *http.Response
	if _, err := c.client.GetContent(runtime.WithCaptureResponse(ctx, &resp), resourceGroup, account, runbook, nil); err != nil {
		return nil, err
	}
	return readBody(resp)
}

type draftContent struct {
	client *armautomation.RunbookDraftClient
}

func (c draftContent) Content(ctx context.Context, resourceGroup, account, runbook string) ([]byte, error) {
	var resp *http.Response
	if _, err := c.client.GetContent(runtime.WithCaptureResponse(ctx, &resp), resourceGroup, account, runbook, nil); err != nil {
		return nil, err
	}
	return readBody(resp)
}

func readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("no response captured")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return body, nil
}

// ListJobs lists every job in the account.
func (s *Source) ListJobs(ctx context.Context, acct automation.Account) ([]automation.JobSummary, error) {
	var out []automation.JobSummary

	pager := s.jobs.NewListByAutomationAccountPager(acct.ResourceGroup, acct.Name, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", mapError(err))
		}
		for _, item := range page.Value {
			if item.Properties == nil {
				continue
			}
			p := item.Properties
			summary := automation.JobSummary{
				ID:           str(p.JobID),
				CreationTime: tm(p.CreationTime),
			}
			if p.Runbook != nil {
				summary.RunbookName = str(p.Runbook.Name)
			}
			if p.Status != nil {
				summary.Status = string(*p.Status)
			}
			out = append(out, summary)
		}
	}

	return out, nil
}

// GetJob fetches the full job record.
func (s *Source) GetJob(ctx context.Context, acct automation.Account, id string) (automation.Job, error) {
	resp, err := s.jobs.Get(ctx, acct.ResourceGroup, acct.Name, id, nil)
	if err != nil {
		return automation.Job{}, fmt.Errorf("get job %q: %w", id, mapError(err))
	}
	return convertJob(id, resp.Job), nil
}

func convertJob(id string, j armautomation.Job) automation.Job {
	out := automation.Job{ID: id}
	p := j.Properties
	if p == nil {
		return out
	}
	if p.JobID != nil {
		out.ID = *p.JobID
	}
	if p.Runbook != nil {
		out.RunbookName = str(p.Runbook.Name)
	}
	if p.Status != nil {
		out.Status = string(*p.Status)
	}
	out.StatusDetails = str(p.StatusDetails)
	out.CreationTime = tm(p.CreationTime)
	out.StartTime = tm(p.StartTime)
	out.EndTime = tm(p.EndTime)
	out.LastModified = tm(p.LastModifiedTime)
	out.Exception = str(p.Exception)
	out.RunOn = str(p.RunOn)
	out.Parameters = strMap(p.Parameters)
	return out
}

// ListJobStreams lists all output records of a job with no stream filter.
func (s *Source) ListJobStreams(ctx context.Context, acct automation.Account, jobID string) ([]automation.StreamSummary, error) {
	var out []automation.StreamSummary

	pager := s.streams.NewListByJobPager(acct.ResourceGroup, acct.Name, jobID, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list streams of job %q: %w", jobID, mapError(err))
		}
		for _, st := range page.Value {
			if st.Properties == nil {
				continue
			}
			p := st.Properties
			summary := automation.StreamSummary{
				ID:      str(p.JobStreamID),
				Time:    tm(p.Time),
				Summary: str(p.Summary),
			}
			if p.StreamType != nil {
				summary.Type = automation.StreamType(*p.StreamType)
			}
			out = append(out, summary)
		}
	}

	automation.SortStreams(out)
	return out, nil
}

// GetStreamValue fetches one record's full value. Structured values are
// rendered as JSON.
func (s *Source) GetStreamValue(ctx context.Context, acct automation.Account, jobID, recordID string) (string, error) {
	resp, err := s.streams.Get(ctx, acct.ResourceGroup, acct.Name, jobID, recordID, nil)
	if err != nil {
		return "", fmt.Errorf("get stream record %q of job %q: %w", recordID, jobID, mapError(err))
	}
	p := resp.Properties
	if p == nil {
		return "", nil
	}
	if len(p.Value) > 0 {
		b, err := json.Marshal(p.Value)
		if err != nil {
			return "", fmt.Errorf("encode stream record %q value: %w", recordID, err)
		}
		return string(b), nil
	}
	return str(p.StreamText), nil
}

// mapError turns 404 responses into source.ErrNotFound.
func mapError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", source.ErrNotFound, err)
	}
	return err
}
