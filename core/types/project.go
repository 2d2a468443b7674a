// Package types - project and provider configuration types
package types

import (
	"strings"

	"cloud-cost/internal/errors"
)

// Provider identifies a billing provider
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
)

// String returns the string representation
func (p Provider) String() string {
	return string(p)
}

// FilterLevel describes how billing records are attributed to a project
// within a shared billing account
type FilterLevel string

const (
	// FilterTag attributes resources by a project tag
	FilterTag FilterLevel = "tag"

	// FilterAccount attributes the whole account/subscription to the project
	FilterAccount FilterLevel = "account"
)

// AWSConfig is the provider-specific configuration for AWS projects
type AWSConfig struct {
	// AccessKeyID is the API access key identifier
	AccessKeyID string `json:"access_key_ident"`

	// SecretKey is the API secret key
	SecretKey string `json:"key"`

	// Regions lists the regions the project runs instances in
	Regions []string `json:"regions"`
}

// AzureConfig is the provider-specific configuration for Azure projects
type AzureConfig struct {
	// TenantID is the Azure AD tenant
	TenantID string `json:"tenant_id"`

	// ClientID is the service principal client id
	ClientID string `json:"client_id"`

	// ClientSecret is the service principal secret
	ClientSecret string `json:"client_secret"`

	// SubscriptionID is the billed subscription
	SubscriptionID string `json:"subscription_id"`

	// ResourceGroups lists the resource groups attributed to the project
	ResourceGroups []string `json:"resource_groups"`

	// BearerToken is the cached management API token
	BearerToken string `json:"bearer_token,omitempty"`

	// BearerExpiry is the token expiry as a unix timestamp
	BearerExpiry int64 `json:"bearer_expiry,omitempty"`
}

// Project is an independently billed cloud project. Projects are created
// and updated by external management tooling and are read-only here.
type Project struct {
	// ID is the project's primary key
	ID int64 `json:"id"`

	// Name uniquely identifies the project
	Name string `json:"name"`

	// Provider is the billing provider tag
	Provider Provider `json:"host"`

	// StartDate is the first day the project is billed
	StartDate Date `json:"start_date"`

	// EndDate is the day the project ends; zero means open-ended
	EndDate Date `json:"end_date,omitempty"`

	// SlackChannel is the notification channel for reports
	SlackChannel string `json:"slack_channel"`

	// FilterLevel selects how costs are attributed to this project
	FilterLevel FilterLevel `json:"filter_level"`

	// AWS holds the AWS credentials and scope; set iff Provider is aws
	AWS *AWSConfig `json:"aws,omitempty"`

	// Azure holds the Azure credentials and scope; set iff Provider is azure
	Azure *AzureConfig `json:"azure,omitempty"`
}

// Active reports whether the project is billed as of the given date
func (p *Project) Active(asOf Date) bool {
	if p.StartDate.After(asOf) {
		return false
	}
	if !p.EndDate.IsZero() && !p.EndDate.After(asOf) {
		return false
	}
	return true
}

// Validate checks the project configuration at load time
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.Validation("project name must not be empty")
	}
	if p.StartDate.IsZero() {
		return errors.Validationf("project %s: start date must be set", p.Name)
	}
	if !p.EndDate.IsZero() && !p.EndDate.After(p.StartDate) {
		return errors.Validationf("project %s: end date must be after start date", p.Name)
	}
	if p.SlackChannel == "" {
		return errors.Validationf("project %s: slack channel must be set", p.Name)
	}

	switch p.Provider {
	case ProviderAWS:
		if p.AWS == nil {
			return errors.Validationf("project %s: aws configuration missing", p.Name)
		}
		if p.FilterLevel != FilterTag && p.FilterLevel != FilterAccount {
			return errors.Validationf("project %s: %q is not a valid filter level, must be tag or account", p.Name, p.FilterLevel)
		}
		if len(p.AWS.Regions) == 0 {
			return errors.Validationf("project %s: at least one region required", p.Name)
		}
	case ProviderAzure:
		if p.Azure == nil {
			return errors.Validationf("project %s: azure configuration missing", p.Name)
		}
		if len(p.Azure.ResourceGroups) == 0 {
			return errors.Validationf("project %s: at least one resource group required", p.Name)
		}
	default:
		return errors.Validationf("project %s: %q is not a valid provider, must be aws or azure", p.Name, p.Provider)
	}
	return nil
}
