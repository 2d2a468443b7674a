// Package cloud implements the provider wire clients: the AWS SDK client
// and the Azure management REST client. Drivers build the queries; this
// package only executes them and reports failures as APICallError so the
// retry loop can tell transient conditions apart.
package cloud

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/shopspring/decimal"

	"cloud-cost/core/provider"
	"cloud-cost/core/types"
)

// Cost Explorer and Pricing are only served out of us-east-1
const awsGlobalRegion = "us-east-1"

// AWSClient executes AWS queries with per-project credentials
type AWSClient struct{}

// NewAWSClient creates the AWS wire client
func NewAWSClient() *AWSClient {
	return &AWSClient{}
}

func awsConfig(creds *types.AWSConfig, region string) aws.Config {
	return aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretKey, ""),
	}
}

// GetCostAndUsage executes a Cost Explorer query, following result pages
func (c *AWSClient) GetCostAndUsage(ctx context.Context, creds *types.AWSConfig, query *provider.CostQuery) ([]provider.CostResult, error) {
	client := costexplorer.NewFromConfig(awsConfig(creds, awsGlobalRegion))

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(query.Start),
			End:   aws.String(query.End),
		},
		Granularity: cetypes.Granularity(query.Granularity),
		Metrics:     query.Metrics,
	}
	if query.Filter != nil {
		input.Filter = convertExpression(*query.Filter)
	}
	for _, group := range query.GroupBy {
		input.GroupBy = append(input.GroupBy, cetypes.GroupDefinition{
			Type: cetypes.GroupDefinitionType(group.Type),
			Key:  aws.String(group.Key),
		})
	}

	var results []provider.CostResult
	for {
		out, err := client.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, wireError(err)
		}
		for _, r := range out.ResultsByTime {
			results = append(results, convertResult(r))
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}
	return results, nil
}

func convertExpression(e provider.Expression) *cetypes.Expression {
	out := &cetypes.Expression{}
	for _, sub := range e.And {
		out.And = append(out.And, *convertExpression(sub))
	}
	if e.Not != nil {
		out.Not = convertExpression(*e.Not)
	}
	if e.Dimensions != nil {
		out.Dimensions = &cetypes.DimensionValues{
			Key:    cetypes.Dimension(e.Dimensions.Key),
			Values: e.Dimensions.Values,
		}
	}
	if e.Tags != nil {
		out.Tags = &cetypes.TagValues{
			Key:    aws.String(e.Tags.Key),
			Values: e.Tags.Values,
		}
	}
	return out
}

func convertResult(r cetypes.ResultByTime) provider.CostResult {
	result := provider.CostResult{
		Total: make(map[string]provider.MetricValue, len(r.Total)),
	}
	if r.TimePeriod != nil {
		result.Start = aws.ToString(r.TimePeriod.Start)
	}
	for metric, value := range r.Total {
		result.Total[metric] = provider.MetricValue{
			Amount: aws.ToString(value.Amount),
			Unit:   aws.ToString(value.Unit),
		}
	}
	for _, group := range r.Groups {
		converted := provider.CostGroup{
			Keys:    group.Keys,
			Metrics: make(map[string]provider.MetricValue, len(group.Metrics)),
		}
		for metric, value := range group.Metrics {
			converted.Metrics[metric] = provider.MetricValue{
				Amount: aws.ToString(value.Amount),
				Unit:   aws.ToString(value.Unit),
			}
		}
		result.Groups = append(result.Groups, converted)
	}
	return result
}

// DescribeInstances lists a region's EC2 instances matching the filters
func (c *AWSClient) DescribeInstances(ctx context.Context, creds *types.AWSConfig, region string, filters []provider.InstanceFilter) ([]provider.Instance, error) {
	client := ec2.NewFromConfig(awsConfig(creds, region))

	input := &ec2.DescribeInstancesInput{}
	for _, filter := range filters {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   aws.String(filter.Name),
			Values: filter.Values,
		})
	}

	var instances []provider.Instance
	for {
		out, err := client.DescribeInstances(ctx, input)
		if err != nil {
			return nil, wireError(err)
		}
		for _, reservation := range out.Reservations {
			for _, inst := range reservation.Instances {
				tags := make(map[string]string, len(inst.Tags))
				for _, tag := range inst.Tags {
					tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
				}
				state := ""
				if inst.State != nil {
					state = string(inst.State.Name)
				}
				instances = append(instances, provider.Instance{
					InstanceID:   aws.ToString(inst.InstanceId),
					InstanceType: string(inst.InstanceType),
					State:        state,
					Tags:         tags,
				})
			}
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return instances, nil
}

// priceDocument is the slice of a Pricing price-list document we read
type priceDocument struct {
	Product struct {
		Attributes struct {
			InstanceType string `json:"instanceType"`
			Location     string `json:"location"`
		} `json:"attributes"`
	} `json:"product"`
	Terms struct {
		OnDemand map[string]struct {
			PriceDimensions map[string]struct {
				PricePerUnit map[string]string `json:"pricePerUnit"`
			} `json:"priceDimensions"`
		} `json:"OnDemand"`
	} `json:"terms"`
}

// GetProducts executes a Pricing query and extracts hourly on-demand rates
func (c *AWSClient) GetProducts(ctx context.Context, creds *types.AWSConfig, query *provider.ProductsQuery) ([]provider.Product, error) {
	client := pricing.NewFromConfig(awsConfig(creds, awsGlobalRegion))

	input := &pricing.GetProductsInput{
		ServiceCode: aws.String(query.ServiceCode),
	}
	for _, filter := range query.Filters {
		input.Filters = append(input.Filters, pricingtypes.Filter{
			Field: aws.String(filter.Field),
			Type:  pricingtypes.FilterType(filter.Type),
			Value: aws.String(filter.Value),
		})
	}

	var products []provider.Product
	for {
		out, err := client.GetProducts(ctx, input)
		if err != nil {
			return nil, wireError(err)
		}
		for _, raw := range out.PriceList {
			product, ok := parsePriceDocument(raw)
			if ok {
				products = append(products, product)
			}
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return products, nil
}

func parsePriceDocument(raw string) (provider.Product, bool) {
	var doc priceDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return provider.Product{}, false
	}
	for _, term := range doc.Terms.OnDemand {
		for _, dimension := range term.PriceDimensions {
			rate, ok := dimension.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := decimal.NewFromString(rate)
			if err != nil {
				continue
			}
			return provider.Product{
				InstanceType: doc.Product.Attributes.InstanceType,
				Location:     doc.Product.Attributes.Location,
				PricePerHour: price,
			}, true
		}
	}
	return provider.Product{}, false
}

// wireError maps an SDK failure into the shape the retry loop inspects
func wireError(err error) error {
	apiErr := &provider.APICallError{Message: err.Error()}
	var respErr *awshttp.ResponseError
	if stderrors.As(err, &respErr) {
		apiErr.StatusCode = respErr.HTTPStatusCode()
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		apiErr.Timeout = true
	}
	return apiErr
}
